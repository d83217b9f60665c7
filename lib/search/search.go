package search

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ValentinKolb/piebus/lib/frame"
)

// Table is the name of the FTS4 table. Its docid equals the row id of the
// indexed frame.
const Table = "search_index"

// Execer is the subset of *sql.DB and *sql.Tx the index writes through.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Shape selects the data fields that make up the searchable text of frames
// with a known name. Frames with other names are indexed by name and the
// textual form of their whole data payload.
type Shape struct {
	Name   string
	Fields []string
}

// RichShapes lists the frame names with a dedicated content shape.
var RichShapes = []Shape{
	{Name: "telegram-message", Fields: []string{"text", "caption"}},
}

// Content derives the searchable text of a frame. The parts are joined by
// newlines and the tags are always the last part.
func Content(f frame.Frame) string {
	var parts []string
	if shape, ok := shapeOf(f.Name); ok {
		for _, field := range shape.Fields {
			parts = append(parts, f.Data.Text(field))
		}
	} else {
		parts = append(parts, f.Name, frame.TextOf(f.Data))
	}
	parts = append(parts, f.Tags)
	return strings.Join(parts, "\n")
}

func shapeOf(name string) (Shape, bool) {
	for _, s := range RichShapes {
		if s.Name == name {
			return s, true
		}
	}
	return Shape{}, false
}

// IsMissingTable reports whether err is SQLite complaining about the index
// table not existing.
func IsMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table: "+Table)
}

// EnsureTable creates the index table if it does not exist.
func EnsureTable(ex Execer) error {
	_, err := ex.Exec(fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts4(content)", Table))
	if err != nil {
		return fmt.Errorf("create %s: %w", Table, err)
	}
	return nil
}

// IndexFrame upserts the index entry of the frame stored at rowID. Frames
// whose content is blank are skipped and keep whatever entry they had.
func IndexFrame(ex Execer, rowID int64, f frame.Frame) error {
	content := Content(f)
	if strings.TrimSpace(content) == "" {
		return nil
	}
	err := upsert(ex, rowID, content)
	if IsMissingTable(err) {
		if err := EnsureTable(ex); err != nil {
			return err
		}
		err = upsert(ex, rowID, content)
	}
	if err != nil {
		return fmt.Errorf("index frame %s: %w", f.Identity, err)
	}
	return nil
}

// Rebuild re-indexes the given frames in order. Entries of frames that
// are not passed are left alone.
func Rebuild(ex Execer, frames []RowFrame) error {
	if err := EnsureTable(ex); err != nil {
		return err
	}
	for _, rf := range frames {
		if err := IndexFrame(ex, rf.RowID, rf.Frame); err != nil {
			return err
		}
	}
	return nil
}

// RowFrame pairs a frame with its row id.
type RowFrame struct {
	RowID int64
	Frame frame.Frame
}

func upsert(ex Execer, rowID int64, content string) error {
	var n int
	if err := ex.QueryRow(fmt.Sprintf("SELECT count(*) FROM %s WHERE docid = ?", Table), rowID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		_, err := ex.Exec(fmt.Sprintf("UPDATE %s SET content = ? WHERE docid = ?", Table), content, rowID)
		return err
	}
	_, err := ex.Exec(fmt.Sprintf("INSERT INTO %s (docid, content) VALUES (?, ?)", Table), rowID, content)
	return err
}
