package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/p-n-ai/cab-academy/internal/platform/database"
)

const dbTimeout = 5 * time.Second

// Schema creates the documents table. Every collection, including
// sub-collections addressed by path, shares it.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops)`,
}

// PostgresStore is a Store backed by a jsonb table.
type PostgresStore struct {
	db       *database.DB
	reporter Reporter
}

// NewPostgresStore creates a PostgreSQL-backed document store.
func NewPostgresStore(db *database.DB, reporter Reporter) (*PostgresStore, error) {
	if db == nil || db.Pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &PostgresStore{db: db, reporter: reporter}, nil
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema...)
}

func (s *PostgresStore) NewID() string {
	return NewID()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var data []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, mapPgError(err))
	}
	return Document{Collection: collection, ID: id, Data: data}.Decode(dst)
}

func (s *PostgresStore) GetMany(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, data, created_at, updated_at
		 FROM documents
		 WHERE collection = $1 AND id = ANY($2)`,
		collection, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get many %s: %w", collection, mapPgError(err))
	}
	return collectDocuments(collection, rows)
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	match, err := filterDoc(filters)
	if err != nil {
		return nil, fmt.Errorf("encode filters: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, data, created_at, updated_at
		 FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY created_at ASC, id ASC`,
		collection, string(match),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, mapPgError(err))
	}
	return collectDocuments(collection, rows)
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, v any) error {
	return s.Commit(ctx, NewBatch().Set(collection, id, v))
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Commit(ctx, NewBatch().Update(collection, id, fields))
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, NewBatch().Delete(collection, id))
}

func (s *PostgresStore) Commit(ctx context.Context, b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var failed *WriteError
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, op := range b.ops {
			if err := applyOp(ctx, tx, op); err != nil {
				failed = newWriteError(op, err)
				return failed
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if failed == nil {
		// Begin or commit itself failed; attribute it to the whole batch.
		failed = &WriteError{Op: "commit", Collection: b.ops[0].Collection, ID: b.ops[0].ID, At: time.Now().UTC(), Err: mapPgError(err)}
	}
	s.reporter.Report(failed)
	return failed
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func applyOp(ctx context.Context, tx pgx.Tx, op Op) error {
	if err := validateOp(op); err != nil {
		return err
	}
	switch op.Kind {
	case OpSet:
		data, err := json.Marshal(op.Value)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data)
			 VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (collection, id)
			 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
			op.Collection, op.ID, string(data),
		)
		return mapPgError(err)
	case OpUpdate:
		data, err := json.Marshal(op.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		cmd, err := tx.Exec(ctx,
			`UPDATE documents
			 SET data = data || $3::jsonb, updated_at = NOW()
			 WHERE collection = $1 AND id = $2`,
			op.Collection, op.ID, string(data),
		)
		if err != nil {
			return mapPgError(err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	case OpDelete:
		_, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			op.Collection, op.ID,
		)
		return mapPgError(err)
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}

func collectDocuments(collection string, rows pgx.Rows) ([]Document, error) {
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc := Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.Data = data
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// mapPgError tags insufficient_privilege and RLS violations as permission denials.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501":
			return errors.Join(ErrPermissionDenied, err)
		}
	}
	return err
}
