package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// modernc.org/sqlite takes pragmas as _pragma=name(value) parameters.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, record *UserRecord) error {
	sent, incoming, matched, err := encodeSets(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_records (id, sent_requests, incoming_requests, matched, onboarding_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.ID, sent, incoming, matched,
		boolToInt(record.OnboardingCompleted),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user record: %w", err)
	}
	return nil
}

// GetUser fetches a user record by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*UserRecord, bool, error) {
	query := `
		SELECT id, sent_requests, incoming_requests, matched, onboarding_completed, created_at, updated_at
		FROM user_records WHERE id = ?
	`
	record, err := scanUserRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get user record: %w", err)
	}
	return record, true, nil
}

// ApplyMutations applies idempotent set mutations to one record. The
// read-modify-write is wrapped in a transaction for single-record
// atomicity only; no operation here ever touches a second record.
func (s *SQLiteStore) ApplyMutations(ctx context.Context, id string, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id, sent_requests, incoming_requests, matched, onboarding_completed, created_at, updated_at
		FROM user_records WHERE id = ?
	`
	record, err := scanUserRecord(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read user record: %w", err)
	}

	for _, m := range mutations {
		record.Apply(m)
	}

	sent, incoming, matched, err := encodeSets(record)
	if err != nil {
		return err
	}

	update := `
		UPDATE user_records
		SET sent_requests = ?, incoming_requests = ?, matched = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update, sent, incoming, matched, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update user record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutation: %w", err)
	}
	return nil
}

// SetOnboardingCompleted marks onboarding as completed for a user.
// The flag is never reverted; setting it again is a no-op.
func (s *SQLiteStore) SetOnboardingCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_records SET onboarding_completed = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set onboarding flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check onboarding update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserIDs returns all user ids in the store.
func (s *SQLiteStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM user_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendAudit appends an audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, outcome, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		entry.Action, entry.Actor, entry.TargetID, entry.Outcome, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAudit returns audit entries ordered most recent first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit, offset int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, action, actor, target_id, outcome, details, timestamp
		FROM audit ORDER BY id DESC LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &entry.TargetID, &entry.Outcome, &entry.Details, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRecord(row rowScanner) (*UserRecord, error) {
	var (
		record   UserRecord
		sent     string
		incoming string
		matched  string
		onboard  int
	)
	if err := row.Scan(&record.ID, &sent, &incoming, &matched, &onboard, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sent), &record.SentRequests); err != nil {
		return nil, fmt.Errorf("failed to decode sent_requests: %w", err)
	}
	if err := json.Unmarshal([]byte(incoming), &record.IncomingRequests); err != nil {
		return nil, fmt.Errorf("failed to decode incoming_requests: %w", err)
	}
	if err := json.Unmarshal([]byte(matched), &record.Matched); err != nil {
		return nil, fmt.Errorf("failed to decode matched: %w", err)
	}
	record.OnboardingCompleted = onboard != 0

	return &record, nil
}

func encodeSets(record *UserRecord) (sent, incoming, matched string, err error) {
	s, err := json.Marshal(record.SentRequests)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode sent_requests: %w", err)
	}
	i, err := json.Marshal(record.IncomingRequests)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode incoming_requests: %w", err)
	}
	m, err := json.Marshal(record.Matched)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode matched: %w", err)
	}
	return string(s), string(i), string(m), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
