package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go sqlite driver (no CGO required)

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists checkpoints in a local sqlite database, one row per
// witnesser name.
type SQLiteStore struct {
	db   *sql.DB
	lggr *zap.SugaredLogger
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath and runs
// pending migrations.
func NewSQLiteStore(dbPath string, lggr *zap.SugaredLogger) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		lggr: lggr.With("component", "SQLiteStore"),
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.lggr.Infow("sqlite checkpoint store initialized", "dbPath", dbPath)
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*WitnessedUntil, error) {
	var (
		epochIndex  uint32
		blockNumber string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT epoch_index, block_number FROM witnessed_until WHERE witnesser = ?`, name,
	).Scan(&epochIndex, &blockNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint for %q: %w", name, err)
	}

	block, err := strconv.ParseUint(blockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse block number %q for %q: %w", blockNumber, name, err)
	}

	return &WitnessedUntil{EpochIndex: epochIndex, BlockNumber: block}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, name string, value WitnessedUntil) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO witnessed_until (witnesser, epoch_index, block_number)
		VALUES (?, ?, ?)
		ON CONFLICT(witnesser) DO UPDATE SET
			epoch_index = excluded.epoch_index,
			block_number = excluded.block_number,
			updated_at = strftime('%s', 'now')
	`, name, value.EpochIndex, strconv.FormatUint(value.BlockNumber, 10))
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint for %q: %w", name, err)
	}

	s.lggr.Debugw("checkpoint written",
		"witnesser", name, "epoch", value.EpochIndex, "block", value.BlockNumber)
	return nil
}

// All returns every persisted checkpoint keyed by witnesser name.
func (s *SQLiteStore) All(ctx context.Context) (map[string]WitnessedUntil, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT witnesser, epoch_index, block_number FROM witnessed_until`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]WitnessedUntil)
	for rows.Next() {
		var (
			name        string
			epochIndex  uint32
			blockNumber string
		)
		if err := rows.Scan(&name, &epochIndex, &blockNumber); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		block, err := strconv.ParseUint(blockNumber, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse block number %q for %q: %w", blockNumber, name, err)
		}
		out[name] = WitnessedUntil{EpochIndex: epochIndex, BlockNumber: block}
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
