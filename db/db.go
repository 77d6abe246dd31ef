package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xxxsen/common/database"
	"github.com/xxxsen/common/database/sqlite"
)

var sqllist = []struct {
	name string
	sql  string
}{
	{
		name: "init_upload_session_tab",
		sql: `
CREATE TABLE IF NOT EXISTS upload_session_tab (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    file_size     INTEGER NOT NULL,
    fingerprint   TEXT NOT NULL,
    endpoint      TEXT NOT NULL,
    bucket        TEXT NOT NULL,
    object_key    TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT '',
    upload_id     TEXT NOT NULL DEFAULT '',
    remote_key    TEXT NOT NULL DEFAULT '',
    part_size     INTEGER NOT NULL,
    part_count    INTEGER NOT NULL,
    session_state INTEGER NOT NULL,
    last_error    TEXT NOT NULL DEFAULT '',
    outcome       TEXT NOT NULL DEFAULT '',
    lock_owner    TEXT NOT NULL DEFAULT '',
    lock_time     INTEGER NOT NULL DEFAULT 0,
    ctime         INTEGER,
    mtime         INTEGER,
    UNIQUE (session_id)
);
		`,
	},
	{
		name: "init_upload_part_tab",
		sql: `
CREATE TABLE IF NOT EXISTS upload_part_tab (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    part_index    INTEGER NOT NULL,
    part_size     INTEGER NOT NULL,
    etag          TEXT NOT NULL,
    part_md5      TEXT NOT NULL,
    part_sha256   TEXT NOT NULL,
    ctime         INTEGER,
    mtime         INTEGER,
    UNIQUE (session_id, part_index)
);
		`,
	},
}

// Open opens (and creates when missing) the session database at file.
func Open(file string) (database.IDatabase, error) {
	ctx := context.Background()
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, fmt.Errorf("create db dir failed, err:%w", err)
	}
	db, err := sqlite.New(file, func(db database.IDatabase) error {
		for _, item := range sqllist {
			if _, err := db.ExecContext(ctx, item.sql); err != nil {
				return fmt.Errorf("init sql failed, sql:%s, err:%w", item.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
