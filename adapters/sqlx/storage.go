package sqlx

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"duelkit/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Driver selects the SQL backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver" mapstructure:"driver" env:"DUELKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn" mapstructure:"dsn" env:"DUELKIT_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `json:"migrate_on_start" mapstructure:"migrate_on_start"`
}

// DefaultConfig returns sensible defaults for the given driver
func DefaultConfig(driver Driver) Config {
	cfg := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		MigrateOnStart:  true,
	}
	switch driver {
	case DriverPostgres:
		cfg.DSN = "postgres://localhost:5432/duelkit?sslmode=disable"
	case DriverMySQL:
		cfg.DSN = "root@tcp(localhost:3306)/duelkit"
	case DriverSQLite:
		cfg.DSN = "file:duelkit.db?_pragma=busy_timeout(5000)"
		cfg.MaxOpenConns = 1
	}
	return cfg
}

// driverName maps a Driver to its database/sql driver and the name sqlx
// uses to pick a bind style.
func (d Driver) driverName() (sqlName, bindName string, err error) {
	switch d {
	case DriverPostgres:
		return "postgres", "postgres", nil
	case DriverMySQL:
		return "mysql", "mysql", nil
	case DriverSQLite:
		return "sqlite", "sqlite3", nil
	}
	return "", "", fmt.Errorf("unsupported sql driver %q", d)
}

// Store implements engine.Storage on a relational database.
// Tables:
// - users(id, name, created_at, updated_at)
// - user_counters(user_id, counter, value, updated_at)
// Timestamps are unix milliseconds.
type Store struct {
	db        *sqlx.DB
	driver    Driver
	batchSize int
}

// New opens a connection pool and verifies it.
func New(cfg Config) (*Store, error) {
	sqlName, bindName, err := cfg.Driver.driverName()
	if err != nil {
		return nil, err
	}
	raw, err := sql.Open(sqlName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		raw.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		raw.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return NewWithDB(sqlx.NewDb(raw, bindName), cfg.Driver), nil
}

// NewWithDB wraps an existing handle (useful for testing)
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver, batchSize: 500}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialect := string(s.driver)
	if s.driver == DriverSQLite {
		dialect = "sqlite3"
	}
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(zap.NewStdLog(logger.Named("migrations")))
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type userRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

type counterRow struct {
	UserID  string `db:"user_id"`
	Counter string `db:"counter"`
	Value   int64  `db:"value"`
}

func (r userRow) user() core.User {
	return core.User{
		ID:       core.UserID(r.ID),
		Name:     r.Name,
		Counters: map[core.Counter]int64{},
		Created:  time.UnixMilli(r.CreatedAt).UTC(),
		Updated:  time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// forUpdate returns the row lock clause where the backend supports it.
func (s *Store) forUpdate() string {
	if s.driver == DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Store) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateUser inserts the user or renames an existing one.
func (s *Store) CreateUser(ctx context.Context, id core.UserID, name string) (core.User, bool, error) {
	var (
		row     userRow
		created bool
	)
	now := time.Now().UTC().UnixMilli()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`SELECT id, name, created_at, updated_at FROM users WHERE id = ?` + s.forUpdate())
		err := tx.GetContext(ctx, &row, q, string(id))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			row = userRow{ID: string(id), Name: name, CreatedAt: now, UpdatedAt: now}
			created = true
			_, err = tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO users (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`),
				row.ID, row.Name, row.CreatedAt, row.UpdatedAt)
			if err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("select user: %w", err)
		case row.Name == name:
			return nil
		}
		row.Name, row.UpdatedAt = name, now
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`),
			row.Name, row.UpdatedAt, row.ID); err != nil {
			return fmt.Errorf("rename user: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.User{}, false, err
	}
	u := row.user()
	if !created {
		if err := s.loadCounters(ctx, s.db, []*core.User{&u}); err != nil {
			return core.User{}, false, err
		}
	}
	return u, created, nil
}

// GetUser loads the user row and its counters.
func (s *Store) GetUser(ctx context.Context, id core.UserID) (core.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT id, name, created_at, updated_at FROM users WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("select user: %w", err)
	}
	u := row.user()
	if err := s.loadCounters(ctx, s.db, []*core.User{&u}); err != nil {
		return core.User{}, err
	}
	return u, nil
}

// AddToCounter applies delta inside a transaction.
func (s *Store) AddToCounter(ctx context.Context, id core.UserID, counter core.Counter, delta int64) (int64, error) {
	if err := core.ValidateCounter(counter); err != nil {
		return 0, err
	}
	var total int64
	now := time.Now().UTC().UnixMilli()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		err := tx.GetContext(ctx, &exists,
			tx.Rebind(`SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`), string(id))
		if err != nil {
			return fmt.Errorf("select user: %w", err)
		}
		if !exists {
			return core.ErrUserNotFound
		}

		var current int64
		q := tx.Rebind(`SELECT value FROM user_counters WHERE user_id = ? AND counter = ?` + s.forUpdate())
		err = tx.GetContext(ctx, &current, q, string(id), string(counter))
		found := true
		if errors.Is(err, sql.ErrNoRows) {
			found, err = false, nil
		}
		if err != nil {
			return fmt.Errorf("select counter: %w", err)
		}

		total, err = core.AddCounter(current, delta)
		if err != nil {
			return err
		}
		if found {
			_, err = tx.ExecContext(ctx,
				tx.Rebind(`UPDATE user_counters SET value = ?, updated_at = ? WHERE user_id = ? AND counter = ?`),
				total, now, string(id), string(counter))
		} else {
			_, err = tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO user_counters (user_id, counter, value, updated_at) VALUES (?, ?, ?, ?)`),
				string(id), string(counter), total, now)
		}
		if err != nil {
			return fmt.Errorf("write counter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE users SET updated_at = ? WHERE id = ?`), now, string(id)); err != nil {
			return fmt.Errorf("touch user: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ForEach pages through users by id and loads counters per page.
func (s *Store) ForEach(ctx context.Context, fn func(core.User) error) error {
	after := ""
	for {
		var rows []userRow
		err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
			`SELECT id, name, created_at, updated_at FROM users WHERE id > ? ORDER BY id LIMIT ?`),
			after, s.batchSize)
		if err != nil {
			return fmt.Errorf("select users: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		users := make([]core.User, len(rows))
		ptrs := make([]*core.User, len(rows))
		for i, r := range rows {
			users[i] = r.user()
			ptrs[i] = &users[i]
		}
		if err := s.loadCounters(ctx, s.db, ptrs); err != nil {
			return err
		}
		for _, u := range users {
			if err := fn(u); err != nil {
				return err
			}
		}
		if len(rows) < s.batchSize {
			return nil
		}
		after = rows[len(rows)-1].ID
	}
}

func (s *Store) loadCounters(ctx context.Context, q sqlx.QueryerContext, users []*core.User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]string, len(users))
	byID := make(map[string]*core.User, len(users))
	for i, u := range users {
		ids[i] = string(u.ID)
		byID[ids[i]] = u
	}
	query, args, err := sqlx.In(`SELECT user_id, counter, value FROM user_counters WHERE user_id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build counters query: %w", err)
	}
	var rows []counterRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("select counters: %w", err)
	}
	for _, r := range rows {
		if u, ok := byID[r.UserID]; ok {
			u.Counters[core.Counter(r.Counter)] = r.Value
		}
	}
	return nil
}
