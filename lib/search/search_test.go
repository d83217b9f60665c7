package search

import (
	"database/sql"
	"testing"

	"github.com/ValentinKolb/piebus/lib/frame"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent(t *testing.T) {
	tests := []struct {
		name  string
		frame frame.Frame
		want  string
	}{
		{
			name: "telegram message",
			frame: frame.Frame{
				Name: "telegram-message",
				Data: frame.Mapping{"text": frame.String("hello"), "caption": frame.String("pic"), "chat": frame.Int(1)},
				Tags: "#x",
			},
			want: "hello\npic\n#x",
		},
		{
			name:  "telegram message without caption",
			frame: frame.Frame{Name: "telegram-message", Data: frame.Mapping{"text": frame.String("hi")}},
			want:  "hi\n\n",
		},
		{
			name:  "generic frame",
			frame: frame.Frame{Name: "note", Data: frame.Mapping{"b": frame.Int(2), "a": frame.String("x")}, Tags: "t"},
			want:  "note\n{\"a\":\"x\",\"b\":2}\nt",
		},
		{
			name:  "generic frame with empty data",
			frame: frame.Frame{Name: "ping"},
			want:  "ping\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Content(tt.frame))
		})
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func entries(t *testing.T, db *sql.DB, docid int64) []string {
	t.Helper()
	rows, err := db.Query("SELECT content FROM "+Table+" WHERE docid = ?", docid)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		out = append(out, c)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestIndexFrameCreatesTableLazily(t *testing.T) {
	db := openTestDB(t)

	f := frame.Frame{Identity: "a", Name: "note", Data: frame.Mapping{"text": frame.String("alpha")}}
	require.NoError(t, IndexFrame(db, 1, f))
	assert.Len(t, entries(t, db, 1), 1)
}

func TestIndexFrameUpserts(t *testing.T) {
	db := openTestDB(t)

	f := frame.Frame{Identity: "a", Name: "note", Tags: "one"}
	require.NoError(t, IndexFrame(db, 7, f))
	f.Tags = "two"
	require.NoError(t, IndexFrame(db, 7, f))
	require.NoError(t, IndexFrame(db, 7, f))

	assert.Equal(t, []string{"note\n\ntwo"}, entries(t, db, 7))
}

func TestIndexFrameSkipsBlankContent(t *testing.T) {
	db := openTestDB(t)

	f := frame.Frame{Identity: "a", Name: "telegram-message", Data: frame.Mapping{"text": frame.String("  ")}}
	require.NoError(t, IndexFrame(db, 1, f))

	// the table may not even exist yet
	require.NoError(t, EnsureTable(db))
	assert.Empty(t, entries(t, db, 1))
}

func TestRebuildIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	frames := []RowFrame{
		{RowID: 2, Frame: frame.Frame{Identity: "b", Name: "second"}},
		{RowID: 1, Frame: frame.Frame{Identity: "a", Name: "first"}},
	}

	require.NoError(t, Rebuild(db, frames))
	require.NoError(t, Rebuild(db, frames))

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM "+Table).Scan(&n))
	assert.Equal(t, 2, n)

	var docid int64
	require.NoError(t, db.QueryRow("SELECT docid FROM "+Table+" WHERE content MATCH ?", "second").Scan(&docid))
	assert.Equal(t, int64(2), docid)
}

func TestIsMissingTable(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("SELECT * FROM " + Table)
	assert.True(t, IsMissingTable(err))
	assert.False(t, IsMissingTable(nil))
}
