// Package postgres implements port.Store on PostgreSQL through gorm. It is
// the self-hosted alternative to the Supabase backend and the one that
// gives real transactions for account rebinding.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// PgErrUniqueViolation is the SQLSTATE for unique_violation.
const PgErrUniqueViolation = "23505"

var tracer = otel.Tracer("postgres")

// Store implements port.Store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ port.Store = (*Store)(nil)

// Open connects with a bounded number of attempts, since the database
// container often starts after the bot, then migrates the schema.
func Open(dsn string, attempts int, logger *zap.Logger) (*Store, error) {
	if attempts < 1 {
		attempts = 1
	}

	var db *gorm.DB
	var err error
	for i := range attempts {
		db, err = gorm.Open(gormpg.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			break
		}
		logger.Warn("postgres: connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := db.AutoMigrate(&AccountModel{}, &SessionModel{}, &ArtifactModel{}, &TurnClaimModel{}); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("postgres: connected and migrated")

	return &Store{db: db, logger: logger}, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == PgErrUniqueViolation
}

// ============================================================
// Accounts
// ============================================================

func (s *Store) findAccount(ctx context.Context, column, value string) (*domain.Account, error) {
	var m AccountModel
	err := s.db.WithContext(ctx).Where(column+" = ?", value).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return s.findAccount(ctx, "user_id", userID)
}

func (s *Store) FindAccountByRecoveryCode(ctx context.Context, code string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindAccountByRecoveryCode")
	defer span.End()

	return s.findAccount(ctx, "recovery_code", domain.NormalizeRecoveryCode(code))
}

func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "Postgres.CreateAccount")
	defer span.End()

	m := toAccountModel(acc)
	err := s.db.WithContext(ctx).Create(&m).Error
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "account or recovery code already exists"}
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateAccount")
	defer span.End()

	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("user_id = ?", acc.UserID).
		Updates(map[string]any{
			"brand_name":  acc.BrandName,
			"brand_color": acc.BrandColor,
			"logo_url":    acc.LogoURL,
			"format":      string(acc.FormatOrDefault()),
			"template":    acc.TemplateOrDefault(),
		})
	return requireRow(res, "account", acc.UserID)
}

func (s *Store) IncrementReceiptCount(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.IncrementReceiptCount")
	defer span.End()

	res := s.db.WithContext(ctx).Model(&AccountModel{}).
		Where("user_id = ?", userID).
		Update("receipt_count", gorm.Expr("receipt_count + 1"))
	return requireRow(res, "account", userID)
}

func (s *Store) RebindAccount(ctx context.Context, fromUserID, toUserID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.RebindAccount")
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AccountModel{}).Where("user_id = ?", fromUserID).Update("user_id", toUserID)
		if isUniqueViolation(res.Error) {
			return &domain.ErrConflict{Message: "target user already has an account"}
		}
		if err := requireRow(res, "account", fromUserID); err != nil {
			return err
		}
		if err := tx.Model(&ArtifactModel{}).Where("user_id = ?", fromUserID).Update("user_id", toUserID).Error; err != nil {
			return fmt.Errorf("rebind artifacts: %w", err)
		}
		return nil
	})
}

func requireRow(res *gorm.DB, resource, id string) error {
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", resource, res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}

// ============================================================
// Sessions
// ============================================================

func (s *Store) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetSession")
	defer span.End()

	var m SessionModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return m.toDomain()
}

func (s *Store) UpsertSession(ctx context.Context, sess *domain.Session) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertSession")
	defer span.End()

	m, err := toSessionModel(sess)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteSession")
	defer span.End()

	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&SessionModel{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ============================================================
// Artifacts
// ============================================================

func (s *Store) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	ctx, span := tracer.Start(ctx, "Postgres.CreateArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.id", a.ID))

	m, err := toArtifactModel(a)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(&m).Error
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "artifact already exists: " + a.ID}
	}
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetArtifact")
	defer span.End()

	var m ArtifactModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "artifact", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	a, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListRecentArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListRecentArtifacts")
	defer span.End()

	var rows []ArtifactModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	out := make([]domain.Artifact, 0, len(rows))
	for _, m := range rows {
		a, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) CountArtifactsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountArtifactsSince")
	defer span.End()

	var n int64
	err := s.db.WithContext(ctx).Model(&ArtifactModel{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return int(n), nil
}

// ============================================================
// Turn claims
// ============================================================

// ClaimTurn inserts the claim or overwrites an expired one in one statement.
func (s *Store) ClaimTurn(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ClaimTurn")
	defer span.End()

	now := time.Now()
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO turn_claims (user_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE turn_claims.expires_at < ?`,
		userID, owner, now.Add(ttl), now,
	)
	if res.Error != nil {
		return false, fmt.Errorf("claim turn: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseTurn(ctx context.Context, userID, owner string) error {
	ctx, span := tracer.Start(ctx, "Postgres.ReleaseTurn")
	defer span.End()

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND owner = ?", userID, owner).
		Delete(&TurnClaimModel{}).Error
	if err != nil {
		return fmt.Errorf("release turn: %w", err)
	}
	return nil
}
