package frame

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/cmd/util"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for piebus servers",
		Long:    "Runs a series of benchmarks against a piebus server. Frames cannot be deleted, so every run leaves the frames it created behind (tagged with the perf tag)",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfTag            = "__perf"
	perfPayloadSizeKB  = 1
	perfNumThreads     = 10
	perfSkip           = make([]string, 0)
	perfPercentiles    = []float64{0.5, 0.95, 0.99}
	perfPercentileName = []string{"P50", "P95", "P99"}
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. create,search)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "payload-size"
	perfTestCmd.Flags().Int(key, 1, util.WrapString("How large the payload of the create-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfPayloadSizeKB = viper.GetInt("payload-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	bench  testing.BenchmarkResult
	timer  metrics.Timer
	errors metrics.Counter
}

func runPerf(cmd *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for piebus servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	ctx := cmd.Context()
	results := make(map[string]perfResult)

	// seed frames for the read benchmarks
	identities := make([]string, 0, 100)
	if !shouldSkip("get") || !shouldSkip("mixed") {
		for i := 0; i < 100; i++ {
			f, err := rpcAPI.CreateFrame(ctx, perfDraft(i, 0))
			if err != nil {
				return fmt.Errorf("failed to seed frames: %w", err)
			}
			identities = append(identities, f.Identity)
		}
	}

	results["create"] = benchmark("create", func(ctx context.Context, i int) error {
		_, err := rpcAPI.CreateFrame(ctx, perfDraft(i, 0))
		return err
	})

	results["create-large"] = benchmark("create-large", func(ctx context.Context, i int) error {
		_, err := rpcAPI.CreateFrame(ctx, perfDraft(i, perfPayloadSizeKB*1024))
		return err
	})

	results["get"] = benchmark("get", func(ctx context.Context, i int) error {
		_, err := rpcAPI.FrameFromIdentity(ctx, identities[i%len(identities)])
		return err
	})

	results["list"] = benchmark("list", func(ctx context.Context, _ int) error {
		_, err := rpcAPI.ListFrames(ctx, 20)
		return err
	})

	results["search"] = benchmark("search", func(ctx context.Context, i int) error {
		_, err := rpcAPI.SearchFrames(ctx, fmt.Sprintf("perf%d", i%100))
		return err
	})

	results["count"] = benchmark("count", func(ctx context.Context, _ int) error {
		_, err := rpcAPI.CountFrames(ctx)
		return err
	})

	results["mixed"] = benchmark("mixed", func(ctx context.Context, i int) error {
		var err error
		switch i % 4 {
		case 0: // create
			_, err = rpcAPI.CreateFrame(ctx, perfDraft(i, 0))
		case 1: // get
			_, err = rpcAPI.FrameFromIdentity(ctx, identities[i%len(identities)])
		case 2: // publish
			_, err = rpcAPI.Publish(ctx, identities[i%len(identities)], i%8 == 2)
		case 3: // search
			_, err = rpcAPI.SearchPublicFrames(ctx, perfTag)
		}
		return err
	})

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs op in parallel and records the latency of every call
func benchmark(test string, op func(ctx context.Context, i int) error) perfResult {
	result := perfResult{
		timer:  metrics.NewTimer(),
		errors: metrics.NewCounter(),
	}
	if shouldSkip(test) {
		printResult(test, result)
		return result
	}

	result.bench = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				ctx, cancel := context.WithTimeout(context.Background(), util.Timeout())
				start := time.Now()
				err := op(ctx, counter)
				result.timer.UpdateSince(start)
				cancel()
				if err != nil {
					result.errors.Inc(1)
					log.Printf("(%s) - error: %v\n", test, err)
				}
				counter++
			}
		})
	})

	printResult(test, result)
	return result
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// perfDraft builds a frame with a payload of roughly size bytes
func perfDraft(i, size int) frame.Draft {
	data := frame.Mapping{
		"text": frame.String(fmt.Sprintf("perf%d benchmark frame", i%100)),
		"n":    frame.Int(int64(i)),
	}
	if size > 0 {
		data["blob"] = frame.String(strings.Repeat("x", size))
	}
	return frame.Draft{
		Kind: frame.KindPtr(frame.KindMessage),
		Name: fmt.Sprintf("perf-%d", i),
		Data: data,
		Meta: frame.Mapping{"source": frame.String("perf")},
		Tags: perfTag,
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// latency percentiles of the single calls
	ps := result.timer.Percentiles(perfPercentiles)
	latencies := make([]string, len(ps))
	for i, p := range ps {
		latencies[i] = fmt.Sprintf("%s=%s", perfPercentileName[i], time.Duration(p))
	}

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\t%s\terrors=%d\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, strings.Join(latencies, " "), result.errors.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped", "Errors",
	}
	header = append(header, perfPercentileName...)
	header = append(header,
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Threads", "PayloadSizeKB",
	)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	// Write test results
	for _, test := range tests {
		result := results[test]
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.bench.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.FormatInt(result.errors.Count(), 10),
		}
		for _, p := range result.timer.Percentiles(perfPercentiles) {
			row = append(row, time.Duration(p).String())
		}
		row = append(row,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfPayloadSizeKB),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
