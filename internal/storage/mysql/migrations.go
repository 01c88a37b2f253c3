package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"cryptonite/deploy/migrations"
)

const createMigrationTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version VARCHAR(32) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

// migration 是一个嵌入的 .sql 文件，按版本号排序后依次执行。
type migration struct {
	version    string
	file       string
	statements []string
}

type migrator struct {
	db     *sql.DB
	source fs.FS
	now    func() time.Time
}

// runMigrations 执行尚未记录在 schema_migrations 中的迁移。
func runMigrations(ctx context.Context, db *sql.DB) error {
	m := migrator{db: db, source: migrations.Files, now: time.Now}
	return m.up(ctx)
}

func (m migrator) up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMigrationTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	pending, err := m.pending(done)
	if err != nil {
		return err
	}
	for _, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("迁移 %s: %w", mig.file, err)
		}
	}
	return nil
}

func (m migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	done := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// pending 读取嵌入的迁移并过滤掉已执行的版本。
func (m migrator) pending(done map[string]bool) ([]migration, error) {
	names, err := fs.Glob(m.source, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(names)

	var out []migration
	for _, name := range names {
		version := migrationVersion(name)
		if done[version] {
			continue
		}
		raw, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		stmts := splitStatements(string(raw))
		if len(stmts) == 0 {
			continue
		}
		out = append(out, migration{version: version, file: name, statements: stmts})
	}
	slices.SortStableFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

func (m migrator) apply(ctx context.Context, mig migration) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range mig.statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		mig.version, m.now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// splitStatements 去掉整行 "--" 注释后按分号切分。
func splitStatements(script string) []string {
	lines := strings.Split(script, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			kept = append(kept, line)
		}
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// migrationVersion 取文件名中第一个下划线之前的部分，没有下划线时去掉扩展名。
func migrationVersion(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if v, _, ok := strings.Cut(base, "_"); ok && v != "" {
		return v
	}
	return base
}
