package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	got, err := s.GetAccount(ctx, "2348000000001")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for unknown account, got (%v, %v)", got, err)
	}

	acc := &domain.Account{
		UserID:       "2348000000001",
		BrandName:    "Mama Put",
		BrandColor:   "Blue",
		RecoveryCode: "ab12cd34",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("create account: %v", err)
	}

	dup := *acc
	dup.UserID = "2348000000002"
	var conflict *domain.ErrConflict
	if err := s.CreateAccount(ctx, &dup); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on duplicate recovery code, got %v", err)
	}

	found, err := s.FindAccountByRecoveryCode(ctx, "Ab12Cd34")
	if err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if found == nil || found.UserID != acc.UserID {
		t.Fatalf("expected case-insensitive match, got %+v", found)
	}
	if found.Format != domain.FormatImage || found.Template != 1 {
		t.Errorf("expected default format/template, got %s/%d", found.Format, found.Template)
	}

	if err := s.IncrementReceiptCount(ctx, acc.UserID); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementReceiptCount(ctx, acc.UserID); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, _ = s.GetAccount(ctx, acc.UserID)
	if got.ReceiptCount != 2 {
		t.Errorf("expected receipt count 2, got %d", got.ReceiptCount)
	}

	got.Format = domain.FormatPDF
	got.Template = 3
	if err := s.UpdateAccount(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetAccount(ctx, acc.UserID)
	if got.Format != domain.FormatPDF || got.Template != 3 {
		t.Errorf("expected PDF/3, got %s/%d", got.Format, got.Template)
	}

	var notFound *domain.ErrNotFound
	if err := s.IncrementReceiptCount(ctx, "nobody"); !errors.As(err, &notFound) {
		t.Errorf("expected not found for unknown user, got %v", err)
	}
}

func TestRebindAccountMovesArtifacts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	acc := &domain.Account{UserID: "old", BrandName: "Shop", RecoveryCode: "CODE0001", CreatedAt: time.Now()}
	if err := s.CreateAccount(ctx, acc); err != nil {
		t.Fatalf("create: %v", err)
	}
	art := domain.NewArtifact("a-1", "old", domain.Payload{
		CustomerName:  "Musa",
		Items:         []domain.LineItem{{Name: "Rice", Price: 3000, Quantity: 2}},
		PaymentMethod: "Cash",
	}, time.Now())
	if err := s.CreateArtifact(ctx, art); err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	if err := s.RebindAccount(ctx, "old", "new"); err != nil {
		t.Fatalf("rebind: %v", err)
	}

	if got, _ := s.GetAccount(ctx, "old"); got != nil {
		t.Error("expected old user id to be free after rebind")
	}
	if got, _ := s.GetAccount(ctx, "new"); got == nil {
		t.Fatal("expected account under new user id")
	}
	list, err := s.ListRecentArtifacts(ctx, "new", 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected artifact to follow the account, got %d", len(list))
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if err := s.DeleteSession(ctx, "u1"); err != nil {
		t.Fatalf("delete of missing session must succeed, got %v", err)
	}

	sess := &domain.Session{
		UserID:  "u1",
		State:   domain.StateCollecting,
		Payload: domain.Payload{CustomerName: "Musa"},
	}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	sess.Payload.Items = []domain.LineItem{{Name: "Rice", Price: 3000, Quantity: 2}}
	if err := s.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetSession(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StateCollecting {
		t.Errorf("expected COLLECTING, got %s", got.State)
	}
	if got.Payload.CustomerName != "Musa" || len(got.Payload.Items) != 1 || got.Payload.Items[0].Quantity != 2 {
		t.Errorf("unexpected payload %+v", got.Payload)
	}

	if err := s.DeleteSession(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.GetSession(ctx, "u1"); got != nil {
		t.Error("expected session to be gone")
	}
}

func TestArtifacts_RecentAndCount(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	now := time.Now()
	lastMonth := domain.StartOfMonth(now).Add(-time.Hour)

	for i, ts := range []time.Time{lastMonth, now.Add(-3 * time.Second), now.Add(-2 * time.Second), now.Add(-time.Second)} {
		a := domain.NewArtifact(
			"id-"+string(rune('a'+i)), "u1",
			domain.Payload{CustomerName: "C" + string(rune('A'+i)), Items: []domain.LineItem{{Name: "X", Price: 100, Quantity: 1}}, PaymentMethod: "Cash"},
			ts,
		)
		if err := s.CreateArtifact(ctx, a); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}

	list, err := s.ListRecentArtifacts(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	if list[0].CustomerName != "CD" || list[1].CustomerName != "CC" {
		t.Errorf("expected newest first, got %s, %s", list[0].CustomerName, list[1].CustomerName)
	}
	if list[0].Total.String() != "100" {
		t.Errorf("expected total 100, got %s", list[0].Total)
	}

	n, err := s.CountArtifactsSince(ctx, "u1", domain.StartOfMonth(now))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 artifacts this month, got %d", n)
	}

	var notFound *domain.ErrNotFound
	if _, err := s.GetArtifact(ctx, "missing"); !errors.As(err, &notFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTurnClaims(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	ok, err := s.ClaimTurn(ctx, "u1", "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got (%v, %v)", ok, err)
	}
	ok, err = s.ClaimTurn(ctx, "u1", "worker-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second claim to fail, got (%v, %v)", ok, err)
	}

	if err := s.ReleaseTurn(ctx, "u1", "worker-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	ok, _ = s.ClaimTurn(ctx, "u1", "worker-b", time.Minute)
	if ok {
		t.Fatal("non-owner release must not free the claim")
	}

	if err := s.ReleaseTurn(ctx, "u1", "worker-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = s.ClaimTurn(ctx, "u1", "worker-b", time.Minute)
	if !ok {
		t.Fatal("expected claim after release")
	}
}

func TestTurnClaims_ExpiredClaimCanBeTaken(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	if ok, _ := s.ClaimTurn(ctx, "u1", "worker-a", -time.Second); !ok {
		t.Fatal("expected claim")
	}
	if ok, _ := s.ClaimTurn(ctx, "u1", "worker-b", time.Minute); !ok {
		t.Fatal("expected expired claim to be taken over")
	}
}
