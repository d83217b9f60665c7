package testing

import (
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
)

// RunFrameDBBenchmarks runs all benchmarks for a FrameDB implementation
func RunFrameDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("InsertFrame", func(b *testing.B) {
			benchmarkInsert(b, open(b, factory))
		})

		b.Run("ListFrames", func(b *testing.B) {
			benchmarkList(b, open(b, factory))
		})

		b.Run("SearchFrames", func(b *testing.B) {
			benchmarkSearch(b, open(b, factory))
		})

		b.Run("Snapshot", func(b *testing.B) {
			benchmarkSnapshot(b, open(b, factory))
		})
	})
}

func seed(b *testing.B, database db.FrameDB, n int) {
	b.Helper()
	frames := make([]frame.Frame, n)
	for i := range frames {
		f := testFrame(i, time.Duration(i)*time.Millisecond)
		f.Data = frame.Mapping{"text": frame.String(fmt.Sprintf("message number %d about topic%d", i, i%10))}
		frames[i] = f
	}
	insert(b, database, frames...)
}

func benchmarkInsert(b *testing.B, database db.FrameDB) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := testFrame(i, time.Duration(i))
		err := database.Update(func(tx db.Tx) error {
			rowID, err := tx.InsertFrame(f)
			if err != nil {
				return err
			}
			if err := tx.IndexFrame(rowID, f); err != nil {
				return err
			}
			return tx.SetAppliedIndex(uint64(i + 1))
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkList(b *testing.B, database db.FrameDB) {
	seed(b, database, 5000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.ListFrames(10, i%2 == 0); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSearch(b *testing.B, database db.FrameDB) {
	seed(b, database, 5000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.SearchFrames(fmt.Sprintf("topic%d", i%10), false); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkSnapshot(b *testing.B, database db.FrameDB) {
	seed(b, database, 2000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := database.Snapshot(); err != nil {
			b.Fatal(err)
		}
	}
}
