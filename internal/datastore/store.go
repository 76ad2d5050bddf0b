package datastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ndajr/shortlink/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// dbConnectTimeout is the timeout for establishing a database connection.
const dbConnectTimeout = 15 * time.Second

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the Postgres backed link store.
type Store struct {
	db        *pgxpool.Pool
	logger    *slog.Logger
	dbMetrics Metrics
}

// NewStore establishes a database connection, runs the migrations and returns a new Store.
func NewStore(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer, dbConnStr string) (Store, error) {
	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbConnStr)
	if err != nil {
		return Store{}, fmt.Errorf("store: failed to parse db config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return Store{}, fmt.Errorf("store: failed to create connection pool: %w", err)
	}

	metrics, err := NewMetrics(reg, db, config.ConnConfig.Database)
	if err != nil {
		db.Close()
		return Store{}, fmt.Errorf("store: failed to register metrics: %w", err)
	}

	store := Store{
		db:        db,
		logger:    logger,
		dbMetrics: metrics,
	}

	if pingErr := store.waitReady(ctx); pingErr != nil {
		db.Close()
		return Store{}, pingErr
	}

	if migrErr := runMigrations(dbConnStr); migrErr != nil {
		db.Close()
		return Store{}, fmt.Errorf("store: failed to run migrations: %w", migrErr)
	}
	logger.Info("successfully connected to db", "database", config.ConnConfig.Database, "host", config.ConnConfig.Host)

	return store, nil
}

func runMigrations(connStr string) (err error) {
	migrationDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("store: failed to open migration db: %w", err)
	}
	defer func() {
		if closeErr := migrationDB.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	driver, err := pgxv5.WithInstance(migrationDB, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("store: failed to create migrate driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: failed to open migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx", driver)
	if err != nil {
		return fmt.Errorf("store: failed to create migrate instance: %w", err)
	}
	if runErr := m.Up(); runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return fmt.Errorf("store: failed to run migrations: %w", runErr)
	}
	return nil
}

// waitReady pings until the database answers or ctx is done.
func (s Store) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(time.Second * 1)
	defer ticker.Stop()

	for {
		err := s.db.Ping(ctx)
		if err == nil {
			return nil
		}

		s.logger.Warn("unable to establish connection, retrying...", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("db connection timed out or was cancelled: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

func (s Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Insert stores l. An existing short code yields core.ErrDuplicateCode and leaves the row untouched.
func (s Store) Insert(ctx context.Context, l core.Link) (core.Link, error) {
	const queryName = "InsertLink"
	start := time.Now()
	defer s.observe(queryName, start)

	rows, err := s.db.Query(ctx, insertLink, pgx.NamedArgs{
		"short_code": l.ShortCode,
		"long_url":   l.LongURL,
		"custom":     l.Custom,
		"created_at": l.CreatedAt,
	})
	if err != nil {
		s.count(queryName, StatusError)
		return core.Link{}, fmt.Errorf("store: insertLink: %w", err)
	}

	out, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[core.Link])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// ON CONFLICT DO NOTHING returns no row when the code is taken.
			s.count(queryName, StatusCollision)
			return core.Link{}, core.ErrDuplicateCode
		}
		s.count(queryName, StatusError)
		return core.Link{}, fmt.Errorf("store: failed to collect inserted row: %w", err)
	}

	s.count(queryName, StatusSuccess)
	return out, nil
}

// FindByCode retrieves the link stored under shortCode.
func (s Store) FindByCode(ctx context.Context, shortCode string) (core.Link, error) {
	const queryName = "FindByCode"
	start := time.Now()
	defer s.observe(queryName, start)

	rows, err := s.db.Query(ctx, getLinkByCode, shortCode)
	if err != nil {
		s.count(queryName, StatusError)
		return core.Link{}, fmt.Errorf("store: FindByCode: %w", err)
	}
	return s.collectOne(queryName, rows)
}

// FindReusable retrieves the oldest link for longURL matching q.
func (s Store) FindReusable(ctx context.Context, longURL string, q core.ReuseQuery) (core.Link, error) {
	const queryName = "FindReusable"
	start := time.Now()
	defer s.observe(queryName, start)

	rows, err := s.db.Query(ctx, getReusableLink, pgx.NamedArgs{
		"long_url":       longURL,
		"code_length":    q.CodeLength,
		"exclude_custom": q.ExcludeCustom,
	})
	if err != nil {
		s.count(queryName, StatusError)
		return core.Link{}, fmt.Errorf("store: FindReusable: %w", err)
	}
	return s.collectOne(queryName, rows)
}

func (s Store) collectOne(queryName string, rows pgx.Rows) (core.Link, error) {
	link, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[core.Link])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The query was successful but found no rows. This is not a DB error.
			s.count(queryName, StatusNotFound)
			return core.Link{}, core.ErrNotFound
		}
		s.count(queryName, StatusError)
		return core.Link{}, fmt.Errorf("store: %s: %w", queryName, err)
	}
	s.count(queryName, StatusSuccess)
	return link, nil
}

// IncrementClicks adds one to the click counter in a single UPDATE, so concurrent
// redirects never lose an increment.
func (s Store) IncrementClicks(ctx context.Context, shortCode string) error {
	const queryName = "IncrementClicks"
	start := time.Now()
	defer s.observe(queryName, start)

	tag, err := s.db.Exec(ctx, incrementClicks, shortCode)
	if err != nil {
		s.count(queryName, StatusError)
		return fmt.Errorf("store: IncrementClicks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.count(queryName, StatusNotFound)
		return core.ErrNotFound
	}
	s.count(queryName, StatusSuccess)
	return nil
}

func (s Store) observe(queryName string, start time.Time) {
	s.dbMetrics.QueryDuration.WithLabelValues(queryName).Observe(time.Since(start).Seconds())
}

func (s Store) count(queryName, status string) {
	s.dbMetrics.QueryTotal.WithLabelValues(queryName, status).Inc()
}

func (s Store) Close() {
	s.db.Close()
}
