// Package postgres provides an audit.Store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uon-team/db/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Executor is the subset of pgxpool.Pool, pgx.Conn and pgx.Tx used by Store.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

//region Store

// Store writes audit entries to a PostgreSQL table. Documents are kept as
// jsonb.
type Store struct {
	db     Executor
	schema string
	table  string
	pool   *pgxpool.Pool
}

var _ audit.Store = (*Store)(nil)

// New creates a Store on db. table may be qualified with a schema, as in
// "audit.audit_logs"; empty uses audit.DefaultCollection.
func New(db Executor, table string) *Store {
	s := &Store{db: db, table: audit.DefaultCollection}
	if table != "" {
		if schema, name, ok := strings.Cut(table, "."); ok {
			s.schema, s.table = schema, name
		} else {
			s.table = table
		}
	}
	return s
}

// Connect opens a pool on connString and creates a Store on it. Close
// releases the pool.
func Connect(ctx context.Context, connString string, table string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := New(pool, table)
	s.pool = pool
	return s, nil
}

// Close releases the pool opened by Connect.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) formatTable() string {
	if s.schema != "" {
		return fmt.Sprintf("%q.%q", s.schema, s.table)
	}
	return fmt.Sprintf("%q", s.table)
}

// EnsureTable creates the table and its lookup index if they do not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"trace_id" TEXT PRIMARY KEY,
	"user_id" TEXT NOT NULL,
	"metadata" JSONB,
	"collection" TEXT NOT NULL,
	"oid" JSONB,
	"op" TEXT NOT NULL,
	"op_data" JSONB,
	"options" JSONB,
	"created_on" TIMESTAMPTZ NOT NULL,
	"expires_on" TIMESTAMPTZ
)`, s.formatTable())
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return err
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s ("collection", "oid", "created_on")`,
		s.table+"_lookup", s.formatTable())
	_, err := s.db.Exec(ctx, index)
	return err
}

const columns = `"trace_id", "user_id", "metadata", "collection", "oid", "op", "op_data", "options", "created_on", "expires_on"`

// Write implements audit.Store. Entries are sent in a single batch.
func (s *Store) Write(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	sqlQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)", s.formatTable(), columns)
	batch := &pgx.Batch{}
	for _, e := range entries {
		args, err := entryArgs(e)
		if err != nil {
			return err
		}
		batch.Queue(sqlQuery, args...)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func entryArgs(e audit.Entry) ([]any, error) {
	raw := make([][]byte, 4)
	for i, v := range []any{e.Metadata, e.OID, e.OpData, e.Options} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw[i] = data
	}
	return []any{
		e.TraceID, e.UserID.Hex(), raw[0], e.Collection, raw[1],
		string(e.Op), raw[2], raw[3], e.CreatedOn, e.ExpiresOn,
	}, nil
}

// List implements audit.Store.
func (s *Store) List(ctx context.Context, collection string, oid any) ([]audit.Entry, error) {
	rawOID, err := json.Marshal(oid)
	if err != nil {
		return nil, err
	}
	sqlQuery := fmt.Sprintf(`SELECT %s FROM %s WHERE "collection" = $1 AND "oid" = $2::jsonb ORDER BY "created_on"`,
		columns, s.formatTable())
	rows, err := s.db.Query(ctx, sqlQuery, collection, rawOID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e                              audit.Entry
			userID, op                     string
			metadata, rowOID, data, option []byte
			expiresOn                      *time.Time
		)
		if err := rows.Scan(&e.TraceID, &userID, &metadata, &e.Collection, &rowOID, &op, &data, &option, &e.CreatedOn, &expiresOn); err != nil {
			return nil, err
		}
		if e.UserID, err = primitive.ObjectIDFromHex(userID); err != nil {
			return nil, err
		}
		e.Op = audit.Op(op)
		e.ExpiresOn = expiresOn
		if err := unmarshalAll(
			field{metadata, &e.Metadata},
			field{rowOID, &e.OID},
			field{data, &e.OpData},
			field{option, &e.Options},
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type field struct {
	raw []byte
	out any
}

func unmarshalAll(fields ...field) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return err
		}
	}
	return nil
}

//endregion
