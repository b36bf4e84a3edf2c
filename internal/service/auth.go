package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer       = "receipt-assistant"
	tokenTypeAccess   = "access"
	maxFailedAttempts = 5
	lockDuration      = 15 * time.Minute
)

// JWTClaims represents the custom claims in operator access tokens.
type JWTClaims struct {
	Sub  string `json:"sub"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// OperatorAuth guards the support API with a single configured operator.
type OperatorAuth struct {
	username     string
	passwordHash []byte
	jwtSecret    []byte
	accessTTL    time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
}

func NewOperatorAuth(username, passwordHash, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *OperatorAuth {
	return &OperatorAuth{
		username:     username,
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		accessTTL:    accessTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================
// Login — POST /v1/admin/login
// ============================================================

func (a *OperatorAuth) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	_, span := tracer.Start(ctx, "OperatorAuth.Login")
	defer span.End()
	span.SetAttributes(attribute.String("username", req.Username))

	if req.Username == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "credentials", Message: "username and password are required"}
	}
	if len(a.passwordHash) == 0 || len(a.jwtSecret) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "operator login disabled"}
	}

	if until, locked := a.locked(); locked {
		a.logger.Warn("login: operator locked", zap.Time("locked_until", until))
		return nil, &domain.ErrUnauthorized{Message: "too many failed attempts, try again later"}
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password))
	if !userOK || passErr != nil {
		a.recordFailure()
		a.logger.Warn("login: invalid credentials", zap.String("username", req.Username))
		return nil, &domain.ErrUnauthorized{Message: "invalid credentials"}
	}
	a.resetFailures()

	token, err := a.signAccessToken(a.username)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	a.logger.Info("operator logged in", zap.String("username", a.username))
	return &domain.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.accessTTL.Seconds()),
	}, nil
}

func (a *OperatorAuth) locked() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lockedUntil, a.now().Before(a.lockedUntil)
}

func (a *OperatorAuth) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures++
	if a.failures >= maxFailedAttempts {
		a.lockedUntil = a.now().Add(lockDuration)
		a.failures = 0
	}
}

func (a *OperatorAuth) resetFailures() {
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()
}

// ============================================================
// ValidateAccessToken — used by middleware
// ============================================================

func (a *OperatorAuth) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != tokenTypeAccess {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	return claims, nil
}

func (a *OperatorAuth) signAccessToken(subject string) (string, error) {
	now := a.now()
	claims := JWTClaims{
		Sub:  subject,
		Type: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}
