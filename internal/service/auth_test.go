package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-0123456789"

func newTestAuth(t *testing.T) *service.OperatorAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return service.NewOperatorAuth("admin", string(hash), testSecret, 15*time.Minute, zap.NewNop())
}

func TestLogin_IssuesValidToken(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(context.Background(), &domain.LoginRequest{Username: "admin", Password: "s3cret"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 900 || resp.AccessToken == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	claims, err := auth.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Sub != "admin" || claims.Type != "access" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	auth := newTestAuth(t)

	for _, req := range []*domain.LoginRequest{
		{Username: "admin", Password: "wrong"},
		{Username: "root", Password: "s3cret"},
	} {
		_, err := auth.Login(context.Background(), req)
		var unauth *domain.ErrUnauthorized
		if !errors.As(err, &unauth) {
			t.Errorf("%+v: expected ErrUnauthorized, got %v", req, err)
		}
	}

	_, err := auth.Login(context.Background(), &domain.LoginRequest{Username: "admin"})
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Errorf("expected ErrValidation for missing password, got %v", err)
	}
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = auth.Login(ctx, &domain.LoginRequest{Username: "admin", Password: "wrong"})
	}
	if _, err := auth.Login(ctx, &domain.LoginRequest{Username: "admin", Password: "s3cret"}); err == nil {
		t.Fatal("expected login to be locked after repeated failures")
	}
}

func TestLogin_DisabledWithoutHash(t *testing.T) {
	auth := service.NewOperatorAuth("admin", "", testSecret, time.Minute, zap.NewNop())

	_, err := auth.Login(context.Background(), &domain.LoginRequest{Username: "admin", Password: "x"})
	var unauth *domain.ErrUnauthorized
	if !errors.As(err, &unauth) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	auth := newTestAuth(t)
	now := time.Now()

	sign := func(secret string, claims service.JWTClaims, method jwt.SigningMethod) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	valid := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		Issuer:    "receipt-assistant",
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	foreign := valid
	foreign.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign("other-secret", service.JWTClaims{Sub: "admin", Type: "access", RegisteredClaims: valid}, jwt.SigningMethodHS256)},
		{"expired", sign(testSecret, service.JWTClaims{Sub: "admin", Type: "access", RegisteredClaims: expired}, jwt.SigningMethodHS256)},
		{"wrong type", sign(testSecret, service.JWTClaims{Sub: "admin", Type: "refresh", RegisteredClaims: valid}, jwt.SigningMethodHS256)},
		{"wrong issuer", sign(testSecret, service.JWTClaims{Sub: "admin", Type: "access", RegisteredClaims: foreign}, jwt.SigningMethodHS256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ValidateAccessToken(tt.token)
			var unauth *domain.ErrUnauthorized
			if !errors.As(err, &unauth) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}
