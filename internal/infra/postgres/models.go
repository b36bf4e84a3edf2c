package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AccountModel is the accounts table.
type AccountModel struct {
	UserID       string    `gorm:"type:text;primaryKey"`
	BrandName    string    `gorm:"type:text;not null"`
	BrandColor   string    `gorm:"type:text;not null;default:''"`
	LogoURL      string    `gorm:"type:text;not null;default:''"`
	Format       string    `gorm:"type:text;not null;default:'IMAGE'"`
	Template     int       `gorm:"not null;default:1"`
	ReceiptCount int       `gorm:"not null;default:0"`
	RecoveryCode string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt    time.Time `gorm:"not null;default:now()"`
}

func (AccountModel) TableName() string { return "accounts" }

// SessionModel is the sessions table. The payload is stored as jsonb.
type SessionModel struct {
	UserID    string         `gorm:"type:text;primaryKey"`
	State     string         `gorm:"type:text;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	BrandName string         `gorm:"type:text;not null;default:''"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (SessionModel) TableName() string { return "sessions" }

// ArtifactModel is the append-only artifacts table.
type ArtifactModel struct {
	ID            string          `gorm:"type:text;primaryKey"`
	UserID        string          `gorm:"type:text;not null;index:idx_artifacts_user_created,priority:1"`
	CreatedAt     time.Time       `gorm:"not null;index:idx_artifacts_user_created,priority:2"`
	CustomerName  string          `gorm:"type:text;not null"`
	Total         decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Items         datatypes.JSON  `gorm:"type:jsonb;not null"`
	PaymentMethod string          `gorm:"type:text;not null"`
	EditCount     int             `gorm:"not null;default:0"`
}

func (ArtifactModel) TableName() string { return "artifacts" }

// TurnClaimModel is the turn_claims table.
type TurnClaimModel struct {
	UserID    string    `gorm:"type:text;primaryKey"`
	Owner     string    `gorm:"type:text;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (TurnClaimModel) TableName() string { return "turn_claims" }

func toAccountModel(a *domain.Account) AccountModel {
	return AccountModel{
		UserID:       a.UserID,
		BrandName:    a.BrandName,
		BrandColor:   a.BrandColor,
		LogoURL:      a.LogoURL,
		Format:       string(a.FormatOrDefault()),
		Template:     a.TemplateOrDefault(),
		ReceiptCount: a.ReceiptCount,
		RecoveryCode: domain.NormalizeRecoveryCode(a.RecoveryCode),
		CreatedAt:    a.CreatedAt,
	}
}

func (m AccountModel) toDomain() *domain.Account {
	return &domain.Account{
		UserID:       m.UserID,
		BrandName:    m.BrandName,
		BrandColor:   m.BrandColor,
		LogoURL:      m.LogoURL,
		Format:       domain.OutputFormat(m.Format),
		Template:     m.Template,
		ReceiptCount: m.ReceiptCount,
		RecoveryCode: m.RecoveryCode,
		CreatedAt:    m.CreatedAt,
	}
}

func toSessionModel(s *domain.Session) (SessionModel, error) {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return SessionModel{}, fmt.Errorf("encode session payload: %w", err)
	}
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return SessionModel{
		UserID:    s.UserID,
		State:     string(s.State),
		Payload:   datatypes.JSON(payload),
		BrandName: s.BrandName,
		UpdatedAt: updatedAt,
	}, nil
}

func (m SessionModel) toDomain() (*domain.Session, error) {
	sess := &domain.Session{
		UserID:    m.UserID,
		State:     domain.SessionState(m.State),
		BrandName: m.BrandName,
		UpdatedAt: m.UpdatedAt,
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &sess.Payload); err != nil {
			return nil, fmt.Errorf("decode session payload: %w", err)
		}
	}
	return sess, nil
}

func toArtifactModel(a *domain.Artifact) (ArtifactModel, error) {
	items, err := json.Marshal(a.Items)
	if err != nil {
		return ArtifactModel{}, fmt.Errorf("encode artifact items: %w", err)
	}
	return ArtifactModel{
		ID:            a.ID,
		UserID:        a.UserID,
		CreatedAt:     a.CreatedAt,
		CustomerName:  a.CustomerName,
		Total:         a.Total,
		Items:         datatypes.JSON(items),
		PaymentMethod: a.PaymentMethod,
		EditCount:     a.EditCount,
	}, nil
}

func (m ArtifactModel) toDomain() (domain.Artifact, error) {
	a := domain.Artifact{
		ID:            m.ID,
		UserID:        m.UserID,
		CreatedAt:     m.CreatedAt,
		CustomerName:  m.CustomerName,
		Total:         m.Total,
		PaymentMethod: m.PaymentMethod,
		EditCount:     m.EditCount,
	}
	if err := json.Unmarshal(m.Items, &a.Items); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode artifact items: %w", err)
	}
	return a, nil
}
