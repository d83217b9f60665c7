/*
Package search maintains the full-text index over frames.

The index is a SQLite FTS4 table living in the same database as the frames
and is written inside the same transaction as the frame it describes. Each
frame has at most one entry, keyed by the frame's row id (the FTS docid), so
indexing a frame twice replaces its entry instead of duplicating it.

The searchable text of a frame is derived by Content: a few frame names have
a dedicated shape that picks specific data fields (for example the text and
caption of "telegram-message" frames); every other frame contributes its name
and the JSON form of its data. Tags are always appended. Blank content is
never indexed.

The table is created lazily the first time it is needed, so databases that
predate the index keep working and simply return no search hits until a
rebuild has run.
*/
package search
