// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "hpit_schema_migrations"

// Pool holds the connection pool limits.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// DefaultPool suits a single hub process.
var DefaultPool = Pool{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 5 * time.Minute}

// PostgresStore is the database-backed store. Every query runs through the
// embedded queries, either on the pool or inside RunInTransaction.
type PostgresStore struct {
	queries
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New connects to databaseURL, applies pending migrations and returns the
// store.
func New(databaseURL string) (*PostgresStore, error) {
	return NewWithPool(databaseURL, DefaultPool)
}

// NewWithPool is New with explicit pool limits.
func NewWithPool(databaseURL string, pool Pool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return Open(db), nil
}

// Open wraps an already migrated database handle.
func Open(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{db}, db: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	target, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", target)
	if err != nil {
		return fmt.Errorf("prepare migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RunInTransaction calls fn with a store bound to one database transaction,
// committing when fn returns nil.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{queries{tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the store handed to RunInTransaction callbacks. Nested calls
// join the open transaction.
type txStore struct {
	queries
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *txStore) Close() error { return nil }

// queries binds the query functions to a pool or a transaction.
type queries struct {
	ex executor
}

func (q queries) AddSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	return queryAddSubscription(ctx, q.ex, sub)
}

func (q queries) RemoveSubscription(ctx context.Context, pluginName, eventName string) (bool, error) {
	return queryRemoveSubscription(ctx, q.ex, pluginName, eventName)
}

func (q queries) ListSubscriptions(ctx context.Context, pluginName string) ([]*model.Subscription, error) {
	return queryListSubscriptions(ctx, q.ex, pluginName)
}

func (q queries) ListSubscribers(ctx context.Context, eventName string) ([]string, error) {
	return queryListSubscribers(ctx, q.ex, eventName)
}

func (q queries) ListAllSubscriptions(ctx context.Context) ([]*model.Subscription, error) {
	return queryListAllSubscriptions(ctx, q.ex)
}

func (q queries) CreateMessage(ctx context.Context, msg *model.Message) error {
	return queryCreateMessage(ctx, q.ex, msg)
}

func (q queries) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return queryGetMessage(ctx, q.ex, id)
}

func (q queries) ListAllMessages(ctx context.Context) ([]*model.Message, error) {
	return queryListAllMessages(ctx, q.ex)
}

func (q queries) CreateDelivery(ctx context.Context, d *model.Delivery) error {
	return queryCreateDelivery(ctx, q.ex, d)
}

func (q queries) ListDeliveries(ctx context.Context, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	return queryListDeliveries(ctx, q.ex, filter)
}

func (q queries) ClaimDeliveries(ctx context.Context, pluginName string, channel model.Channel) ([]*model.Delivery, error) {
	return queryClaimDeliveries(ctx, q.ex, pluginName, channel)
}

func (q queries) CreateResponse(ctx context.Context, r *model.Response) error {
	return queryCreateResponse(ctx, q.ex, r)
}

func (q queries) ClaimResponses(ctx context.Context, entityID string) ([]*model.Response, error) {
	return queryClaimResponses(ctx, q.ex, entityID)
}

func (q queries) GetMastery(ctx context.Context, key model.MasteryKey) (*model.Mastery, error) {
	return queryGetMastery(ctx, q.ex, key)
}

func (q queries) FindMastery(ctx context.Context, publisherID, studentID string, skillIDs []string) ([]*model.Mastery, error) {
	return queryFindMastery(ctx, q.ex, publisherID, studentID, skillIDs)
}

func (q queries) UpsertMastery(ctx context.Context, m *model.Mastery) error {
	return queryUpsertMastery(ctx, q.ex, m)
}

func (q queries) ListMasteryByStudent(ctx context.Context, studentID string) ([]*model.Mastery, error) {
	return queryListMasteryByStudent(ctx, q.ex, studentID)
}

func (q queries) ListAllMastery(ctx context.Context) ([]*model.Mastery, error) {
	return queryListAllMastery(ctx, q.ex)
}
