package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the pool subset the store needs. *pgxpool.Pool satisfies it,
// as does the pgxmock pool used in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config for the Postgres record store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Open creates a pgx pool for the record store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("record.db.connecting", "dsn", cfg.DSN)

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse record store dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "archivescan-pipeline"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect record store: %w", err)
	}

	logger.Info("record.db.connected")
	return pool, nil
}

const createRecordSQL = `INSERT INTO records
(id, title, description, subject, coverage, identifier, record_type, format, source, rights, collection_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const listRecordsSQL = `SELECT id, title, description, subject, coverage, identifier, record_type, format, source, rights, collection_name, created_at
FROM records WHERE collection_name = $1 ORDER BY created_at`

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	db     Querier
	logger *slog.Logger
	now    func() time.Time
}

func NewPostgresStore(db Querier, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger, now: time.Now}
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec Record) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	_, err := s.db.Exec(ctx, createRecordSQL,
		rec.ID, rec.Title, rec.Description, rec.Subject, rec.Coverage,
		rec.Identifier, rec.Type, rec.Format, rec.Source, rec.Rights,
		rec.Collection, rec.CreatedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert record: %w", err)
	}

	s.logger.Info("record.created",
		"record_id", rec.ID.String(),
		"identifier", rec.Identifier,
		"collection", rec.Collection,
	)
	return rec.ID, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.Query(ctx, listRecordsSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Description, &r.Subject, &r.Coverage,
			&r.Identifier, &r.Type, &r.Format, &r.Source, &r.Rights,
			&r.Collection, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}
