// Package migrations embeds the schema and applies it in file name order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Up applies every *.up.sql file. Statements are idempotent, so reruns are safe.
func Up(ctx context.Context, db *sql.DB) error {
	return apply(ctx, db, ".up.sql", false)
}

// Down applies every *.down.sql file in reverse order.
func Down(ctx context.Context, db *sql.DB) error {
	return apply(ctx, db, ".down.sql", true)
}

func apply(ctx context.Context, db *sql.DB, suffix string, reverse bool) error {
	names, err := fs.Glob(files, "*"+suffix)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}

	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		slog.Info("migration applied", "name", strings.TrimSuffix(name, suffix))
	}
	return nil
}
