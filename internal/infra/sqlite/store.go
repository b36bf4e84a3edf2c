// Package sqlite is the embedded single-file store, used for local runs,
// single-instance deployments and the integration tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("sqlite")

// Store implements port.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ port.Store = (*Store)(nil)

// Open creates the database file if needed and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		brand_name TEXT NOT NULL,
		brand_color TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT '',
		format TEXT NOT NULL DEFAULT 'IMAGE',
		template INTEGER NOT NULL DEFAULT 1,
		receipt_count INTEGER NOT NULL DEFAULT 0,
		recovery_code TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		brand_name TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		customer_name TEXT NOT NULL,
		total TEXT NOT NULL,
		items_json TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		edit_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_user_created ON artifacts(user_id, created_at);

	CREATE TABLE IF NOT EXISTS turn_claims (
		user_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isUniqueViolation matches the modernc error text for UNIQUE/PRIMARY KEY failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ============================================================
// Accounts
// ============================================================

const accountColumns = `user_id, brand_name, brand_color, logo_url, format, template, receipt_count, recovery_code, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var acc domain.Account
	var format string
	var createdAt int64
	err := row.Scan(
		&acc.UserID, &acc.BrandName, &acc.BrandColor, &acc.LogoURL,
		&format, &acc.Template, &acc.ReceiptCount, &acc.RecoveryCode, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}
	acc.Format = domain.OutputFormat(format)
	acc.CreatedAt = time.UnixMilli(createdAt)
	return &acc, nil
}

// GetAccount returns the account for userID, or nil when none exists.
func (s *Store) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	return scanAccount(row)
}

// FindAccountByRecoveryCode matches the code case-insensitively.
func (s *Store) FindAccountByRecoveryCode(ctx context.Context, code string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "SQLite.FindAccountByRecoveryCode")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE recovery_code = ?`,
		domain.NormalizeRecoveryCode(code))
	return scanAccount(row)
}

// CreateAccount inserts a new account.
func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "SQLite.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", acc.UserID))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.UserID, acc.BrandName, acc.BrandColor, acc.LogoURL,
		string(acc.FormatOrDefault()), acc.TemplateOrDefault(), acc.ReceiptCount,
		domain.NormalizeRecoveryCode(acc.RecoveryCode), acc.CreatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "account or recovery code already exists"}
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// UpdateAccount writes the mutable profile fields.
func (s *Store) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "SQLite.UpdateAccount")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET brand_name = ?, brand_color = ?, logo_url = ?, format = ?, template = ?
		WHERE user_id = ?`,
		acc.BrandName, acc.BrandColor, acc.LogoURL, string(acc.FormatOrDefault()), acc.TemplateOrDefault(), acc.UserID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res, "account", acc.UserID)
}

// IncrementReceiptCount bumps the completed-receipt counter by one.
func (s *Store) IncrementReceiptCount(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "SQLite.IncrementReceiptCount")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET receipt_count = receipt_count + 1 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("increment receipt count: %w", err)
	}
	return requireRow(res, "account", userID)
}

// RebindAccount moves the account and its artifacts to toUserID in one transaction.
func (s *Store) RebindAccount(ctx context.Context, fromUserID, toUserID string) error {
	ctx, span := tracer.Start(ctx, "SQLite.RebindAccount")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebind: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET user_id = ? WHERE user_id = ?`, toUserID, fromUserID)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "target user already has an account"}
	}
	if err != nil {
		return fmt.Errorf("rebind account: %w", err)
	}
	if err := requireRow(res, "account", fromUserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE artifacts SET user_id = ? WHERE user_id = ?`, toUserID, fromUserID); err != nil {
		return fmt.Errorf("rebind artifacts: %w", err)
	}
	return tx.Commit()
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}

// ============================================================
// Sessions
// ============================================================

// GetSession returns the live session for userID, or nil.
func (s *Store) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetSession")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, state, payload_json, brand_name, updated_at FROM sessions WHERE user_id = ?`, userID)

	var sess domain.Session
	var state, payloadJSON string
	var updatedAt int64
	err := row.Scan(&sess.UserID, &state, &payloadJSON, &sess.BrandName, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &sess.Payload); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	sess.State = domain.SessionState(state)
	sess.UpdatedAt = time.UnixMilli(updatedAt)
	return &sess, nil
}

// UpsertSession creates or replaces the user's session.
func (s *Store) UpsertSession(ctx context.Context, sess *domain.Session) error {
	ctx, span := tracer.Start(ctx, "SQLite.UpsertSession")
	defer span.End()

	payload, err := json.Marshal(sess.Payload)
	if err != nil {
		return fmt.Errorf("encode session payload: %w", err)
	}
	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, state, payload_json, brand_name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			payload_json = excluded.payload_json,
			brand_name = excluded.brand_name,
			updated_at = excluded.updated_at`,
		sess.UserID, string(sess.State), string(payload), sess.BrandName, updatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes the user's session if any.
func (s *Store) DeleteSession(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "SQLite.DeleteSession")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ============================================================
// Artifacts
// ============================================================

const artifactColumns = `id, user_id, created_at, customer_name, total, items_json, payment_method, edit_count`

func scanArtifact(row interface{ Scan(...any) error }) (*domain.Artifact, error) {
	var a domain.Artifact
	var createdAt int64
	var total, itemsJSON string
	if err := row.Scan(&a.ID, &a.UserID, &createdAt, &a.CustomerName, &total, &itemsJSON, &a.PaymentMethod, &a.EditCount); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("decode artifact total: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsJSON), &a.Items); err != nil {
		return nil, fmt.Errorf("decode artifact items: %w", err)
	}
	a.Total = d
	a.CreatedAt = time.UnixMilli(createdAt)
	return &a, nil
}

// CreateArtifact appends a finalized receipt record.
func (s *Store) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	ctx, span := tracer.Start(ctx, "SQLite.CreateArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.id", a.ID))

	items, err := json.Marshal(a.Items)
	if err != nil {
		return fmt.Errorf("encode artifact items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.CreatedAt.UnixMilli(), a.CustomerName, a.Total.String(), string(items), a.PaymentMethod, a.EditCount,
	)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "artifact already exists: " + a.ID}
	}
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns *domain.ErrNotFound for unknown ids.
func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "SQLite.GetArtifact")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "artifact", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return a, nil
}

// ListRecentArtifacts returns up to limit artifacts, newest first.
func (s *Store) ListRecentArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "SQLite.ListRecentArtifacts")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("limit", limit))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Artifact, 0, limit)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountArtifactsSince counts artifacts created at or after since.
func (s *Store) CountArtifactsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "SQLite.CountArtifactsSince")
	defer span.End()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE user_id = ? AND created_at >= ?`, userID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// ============================================================
// Turn claims
// ============================================================

// ClaimTurn takes the user's claim unless another owner holds an unexpired one.
func (s *Store) ClaimTurn(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "SQLite.ClaimTurn")
	defer span.End()

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_claims (user_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE turn_claims.expires_at < ?`,
		userID, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim turn: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseTurn drops the claim if owner still holds it.
func (s *Store) ReleaseTurn(ctx context.Context, userID, owner string) error {
	ctx, span := tracer.Start(ctx, "SQLite.ReleaseTurn")
	defer span.End()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM turn_claims WHERE user_id = ? AND owner = ?`, userID, owner); err != nil {
		return fmt.Errorf("release turn: %w", err)
	}
	return nil
}
