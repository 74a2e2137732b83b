package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	messagesTable    = "hl7_messages"
	diagnosticsTable = "hl7_diagnostics"
)

var messageColumns = []string{"id", "source", "idx", "message_type", "control_id", "version", "status", "segment_count", "content"}

var diagnosticColumns = []string{"message_id", "severity", "reason", "location", "message"}

// IsPostgres reports whether dsn addresses a PostgreSQL server rather than a SQLite file.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Store loads snap into the database at dsn: PostgreSQL for postgres:// URLs, SQLite otherwise.
func Store(ctx context.Context, dsn string, snap *Snapshot, opts Options) error {
	if opts.BlockOnErrors && snap.Blocked() {
		return ErrBlocked
	}
	if IsPostgres(dsn) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer conn.Close(ctx)
		return StorePostgres(ctx, conn, snap, opts)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", dsn, err)
	}
	defer db.Close()
	return StoreSQLite(ctx, db, snap, opts)
}

// load is the rows destined for one table.
type load struct {
	table   string
	columns []string
	key     string
	rows    [][]any
}

func loads(snap *Snapshot, opts Options) []load {
	messages := load{table: messagesTable, columns: messageColumns, key: "id"}
	diags := load{table: diagnosticsTable, columns: diagnosticColumns}
	var mapped *load
	if opts.Mapping != nil && opts.Table != "" {
		mapped = &load{table: opts.Table, columns: append([]string{"message_id"}, opts.Mapping.Header()...), key: "message_id"}
	}
	for i, e := range snap.Entries {
		msg := e.Message
		id := e.ID.String()
		messages.rows = append(messages.rows, []any{
			id, e.Source, i + 1, msg.Type().String(), msg.ControlID(), msg.Version(),
			e.Status(), len(msg.Segments), msg.String(),
		})
		for _, d := range e.Diagnostics {
			diags.rows = append(diags.rows, []any{id, d.Severity.String(), string(d.Reason), d.Anchor(), d.Message})
		}
		if mapped != nil {
			row := []any{id}
			for _, v := range opts.Mapping.Row(msg) {
				row = append(row, v)
			}
			mapped.rows = append(mapped.rows, row)
		}
	}
	out := []load{messages, diags}
	if mapped != nil {
		out = append(out, *mapped)
	}
	return out
}

func createStatement(l load, quote func(string) string) string {
	defs := make([]string, len(l.columns))
	for i, c := range l.columns {
		typ := "TEXT"
		if l.table == messagesTable && (c == "idx" || c == "segment_count") {
			typ = "INTEGER"
		}
		if c == l.key {
			typ += " PRIMARY KEY"
		}
		defs[i] = quote(c) + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(l.table), strings.Join(defs, ", "))
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// StoreSQLite writes snap into db in one transaction, creating tables as needed.
func StoreSQLite(ctx context.Context, db *sql.DB, snap *Snapshot, opts Options) (err error) {
	if opts.BlockOnErrors && snap.Blocked() {
		return ErrBlocked
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, l := range loads(snap, opts) {
		if _, err = tx.ExecContext(ctx, createStatement(l, quoteSQLite)); err != nil {
			return fmt.Errorf("create %s: %w", l.table, err)
		}
		quoted := make([]string, len(l.columns))
		for i, c := range l.columns {
			quoted[i] = quoteSQLite(c)
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteSQLite(l.table), strings.Join(quoted, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(l.columns)), ", "))
		if err = insertRows(ctx, tx, insert, l.rows); err != nil {
			return fmt.Errorf("insert into %s: %w", l.table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, query string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

// StorePostgres writes snap over conn with COPY, in one transaction.
func StorePostgres(ctx context.Context, conn *pgx.Conn, snap *Snapshot, opts Options) error {
	if opts.BlockOnErrors && snap.Blocked() {
		return ErrBlocked
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	quote := func(name string) string { return pgx.Identifier{name}.Sanitize() }
	for _, l := range loads(snap, opts) {
		if _, err := tx.Exec(ctx, createStatement(l, quote)); err != nil {
			return fmt.Errorf("create %s: %w", l.table, err)
		}
		if len(l.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{l.table}, l.columns, pgx.CopyFromRows(l.rows)); err != nil {
			return fmt.Errorf("copy into %s: %w", l.table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
