package storage

import (
	"context"
	"database/sql"
)

// migration is one entry applied, in version order, after the baseline
// schema. New columns or tables added after the module's first release
// belong here, not folded back into schema.go, so schema_migrations stays
// an honest record of what ran against a given database file.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "memory_embedding_model_column",
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if hasColumn(ctx, tx, "memories", "embedding_model") {
				return nil
			}
			_, err := tx.ExecContext(ctx, `ALTER TABLE memories ADD COLUMN embedding_model TEXT NOT NULL DEFAULT ''`)
			return err
		},
	},
}

// hasColumn reports whether table already has column, for idempotent
// ALTER TABLE migrations applied against databases created by an earlier
// version of the baseline schema.
func hasColumn(ctx context.Context, tx *sql.Tx, table, column string) bool {
	rows, err := tx.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
