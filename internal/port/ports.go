// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
)

// AccountStore persists accounts. Lookups return (nil, nil) when nothing matches.
type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	FindAccountByRecoveryCode(ctx context.Context, code string) (*domain.Account, error)
	// CreateAccount returns *domain.ErrConflict when the user id or recovery code is taken.
	CreateAccount(ctx context.Context, acc *domain.Account) error
	UpdateAccount(ctx context.Context, acc *domain.Account) error
	IncrementReceiptCount(ctx context.Context, userID string) error
	// RebindAccount moves an account and its artifacts to a new user id.
	RebindAccount(ctx context.Context, fromUserID, toUserID string) error
}

// SessionStore persists at most one session per user.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*domain.Session, error)
	UpsertSession(ctx context.Context, sess *domain.Session) error
	// DeleteSession succeeds when no session exists.
	DeleteSession(ctx context.Context, userID string) error
}

// ArtifactStore is append-only, indexed by user and creation time.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *domain.Artifact) error
	GetArtifact(ctx context.Context, id string) (*domain.Artifact, error)
	ListRecentArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error)
	CountArtifactsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// TurnClaimer is a conditional per-user claim in shared storage, used when
// several instances consume the same webhook.
type TurnClaimer interface {
	// ClaimTurn returns false when another owner holds an unexpired claim.
	ClaimTurn(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error)
	ReleaseTurn(ctx context.Context, userID, owner string) error
}

// Store is everything a persistence backend provides.
type Store interface {
	AccountStore
	SessionStore
	ArtifactStore
	TurnClaimer
	Ping(ctx context.Context) error
	Close() error
}

// Messenger sends outbound messages. Implementations log their own failures.
type Messenger interface {
	SendText(ctx context.Context, to, text string) error
	SendListMenu(ctx context.Context, to string, menu *domain.ListMenu) error
	SendButtons(ctx context.Context, to string, menu *domain.ButtonMenu) error
	SendMedia(ctx context.Context, to string, media *domain.Media) error
}

// Renderer turns a template URL into PDF or PNG bytes.
type Renderer interface {
	Render(ctx context.Context, url string, format domain.OutputFormat) ([]byte, error)
}
