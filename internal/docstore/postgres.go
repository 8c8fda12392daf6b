package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres with the pool settings used across the service.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the single documents table all collections share.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS documents (
			kind       TEXT        NOT NULL,
			id         TEXT        NOT NULL,
			data       JSONB       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (kind, id)
		);
		CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops);
	`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresStore keeps every collection in one JSONB table, discriminated by
// the kind column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Collection(kind Kind) Collection {
	return &pgCollection{db: s.db, kind: kind}
}

type pgCollection struct {
	db   *sql.DB
	kind Kind
}

func (c *pgCollection) FindOne(ctx context.Context, id string) (Document, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE kind=$1 AND id=$2`, string(c.kind), id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.kind, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.kind, err)
	}
	doc["_id"] = id
	return doc, nil
}

// UpdateOne merges set over the stored document's top-level fields. With
// upsert the document is created when absent; the identity field is stamped
// into the stored data so reads never yield an id-less record.
func (c *pgCollection) UpdateOne(ctx context.Context, id string, set Document, upsert bool) (Result, error) {
	fields := make(Document, len(set)+1)
	for k, v := range set {
		fields[k] = v
	}
	fields["_id"] = id
	raw, err := json.Marshal(fields)
	if err != nil {
		return Result{}, fmt.Errorf("encode %s: %w", c.kind, err)
	}

	if upsert {
		var inserted bool
		err := c.db.QueryRowContext(ctx, `
			INSERT INTO documents (kind, id, data)
			VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (kind, id)
			DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()
			RETURNING (xmax = 0)
		`, string(c.kind), id, raw).Scan(&inserted)
		if err != nil {
			return Result{}, fmt.Errorf("upsert %s: %w", c.kind, err)
		}
		res := Result{Acknowledged: true, Matched: 1}
		if inserted {
			res.UpsertedID = id
		}
		return res, nil
	}

	exec, err := c.db.ExecContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE kind=$1 AND id=$2
	`, string(c.kind), id, raw)
	if err != nil {
		return Result{}, fmt.Errorf("update %s: %w", c.kind, err)
	}
	matched, err := exec.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("update %s: %w", c.kind, err)
	}
	return Result{Acknowledged: true, Matched: matched}, nil
}

func (c *pgCollection) InsertMany(ctx context.Context, docs []Document) (Result, error) {
	if len(docs) == 0 {
		return Result{Acknowledged: true}, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("insert %s: %w", c.kind, err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		id := ID(doc)
		if id == "" {
			return Result{}, fmt.Errorf("insert %s: document without _id", c.kind)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return Result{}, fmt.Errorf("encode %s: %w", c.kind, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (kind, id, data) VALUES ($1, $2, $3::jsonb)`,
			string(c.kind), id, raw,
		); err != nil {
			return Result{}, fmt.Errorf("insert %s: %w", c.kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("insert %s: %w", c.kind, err)
	}
	return Result{Acknowledged: true, Matched: int64(len(docs))}, nil
}

// Find streams documents matching filter, using JSONB containment. A nil or
// empty filter scans the whole collection in id order.
func (c *pgCollection) Find(ctx context.Context, filter Document) (Cursor, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(filter) == 0 {
		rows, err = c.db.QueryContext(ctx,
			`SELECT id, data FROM documents WHERE kind=$1 ORDER BY id`, string(c.kind))
	} else {
		raw, mErr := json.Marshal(filter)
		if mErr != nil {
			return nil, fmt.Errorf("encode filter %s: %w", c.kind, mErr)
		}
		rows, err = c.db.QueryContext(ctx,
			`SELECT id, data FROM documents WHERE kind=$1 AND data @> $2::jsonb ORDER BY id`,
			string(c.kind), raw)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.kind, err)
	}
	return &pgCursor{rows: rows}, nil
}

func (c *pgCollection) DeleteOne(ctx context.Context, id string) (Result, error) {
	exec, err := c.db.ExecContext(ctx,
		`DELETE FROM documents WHERE kind=$1 AND id=$2`, string(c.kind), id)
	if err != nil {
		return Result{}, fmt.Errorf("delete %s: %w", c.kind, err)
	}
	matched, err := exec.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("delete %s: %w", c.kind, err)
	}
	return Result{Acknowledged: true, Matched: matched}, nil
}

type pgCursor struct {
	rows *sql.Rows
	cur  Document
	err  error
}

func (c *pgCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var (
		id  string
		raw []byte
	)
	if err := c.rows.Scan(&id, &raw); err != nil {
		c.err = err
		return false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.err = err
		return false
	}
	doc["_id"] = id
	c.cur = doc
	return true
}

func (c *pgCursor) Document() Document {
	return c.cur
}

func (c *pgCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *pgCursor) Close() error {
	return c.rows.Close()
}
