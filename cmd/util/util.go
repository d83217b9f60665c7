package util

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/piebus/lib/api"
	"github.com/ValentinKolb/piebus/rpc/client"
	"github.com/ValentinKolb/piebus/rpc/common"
	"github.com/ValentinKolb/piebus/rpc/serializer"
	"github.com/ValentinKolb/piebus/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (PIEBUS_<flag>)
	EnvPrefix = "piebus"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add a space before the word if not at the start of a line
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Replica identities
// --------------------------------------------------------------------------

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
func HashString(s string, seed uint64) uint64 {

	// FNV-1a hash with seed incorporation
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	// Start with the offset combined with our seed for uniqueness
	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}

// ReplicaID turns a replica name (e.g. node-1) into a raft replica id.
// Plain numbers are used as they are.
func ReplicaID(name string) uint64 {
	name = strings.TrimSpace(name)
	if id, err := strconv.ParseUint(name, 10, 64); err == nil && id > 0 {
		return id
	}
	return HashString(name, 0)
}

// ParseClusterMembers parses 'node-1=host:port,node-2=host:port,...'
func ParseClusterMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		parts := strings.Split(member, "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		id := ReplicaID(parts[0])
		if _, dup := members[id]; dup {
			return nil, fmt.Errorf("duplicate cluster member: %s", parts[0])
		}
		members[id] = strings.TrimSpace(parts[1])
	}
	return members, nil
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and makes viper read PIEBUS_* variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the piebus server. Multiple endpoints can be specified as a comma-separated list, writes rejected by followers are sent to the next one"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 2, WrapString("Idle connections kept per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many endpoints to try when a server is unreachable"))

	key = "output"
	cmd.PersistentFlags().StringP(key, "o", "yaml", WrapString("Output format (yaml, json)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, e := range strings.Split(viper.GetString("transport-endpoints"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return &common.ClientConfig{
		Endpoints:              endpoints,
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.FromName(viper.GetString("serializer"))
}

// NewClient binds the flags of cmd and connects an RPC client
func NewClient(cmd *cobra.Command) (api.IAPI, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	return client.NewRPCAPI(*GetClientConfig(), http.NewHttpClientTransport(), s)
}

// Timeout returns the configured client timeout
func Timeout() time.Duration {
	if t := viper.GetInt("timeout"); t > 0 {
		return time.Duration(t) * time.Second
	}
	return 10 * time.Second
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

// Print writes v to w in the given format (yaml or json)
func Print(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid output format %s (must be yaml or json)", format)
	}
}

// PrintResult prints v in the output format selected by the flags
func PrintResult(cmd *cobra.Command, v any) error {
	return Print(cmd.OutOrStdout(), viper.GetString("output"), v)
}
