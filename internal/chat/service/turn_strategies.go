package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
	mainport "github.com/boddenberg/receipt-assistant-go/internal/port"

	"go.uber.org/zap"
)

// ============================================================
// TurnStrategy — one handler per intent family
// ============================================================

// TurnContext carries everything a strategy needs for one turn.
type TurnContext struct {
	UserID    string
	Utterance string
	Account   *maindomain.Account
	Session   *maindomain.Session
	Turn      *domain.Turn
	Logger    *zap.Logger
}

// TurnStrategy handles the intents it accepts.
type TurnStrategy interface {
	CanHandle(intent domain.Intent) bool
	Handle(ctx context.Context, tc *TurnContext) error
}

// collectStrategy stores progress or finalizes a complete receipt and
// offers the next step.
type collectStrategy struct {
	sessions mainport.SessionStore
	receipts ReceiptActions
	notify   notifier
}

func (s *collectStrategy) CanHandle(intent domain.Intent) bool {
	return intent == domain.IntentDataCollection
}

func (s *collectStrategy) Handle(ctx context.Context, tc *TurnContext) error {
	turn := tc.Turn
	if len(turn.MissingFields) > 0 {
		err := s.sessions.UpsertSession(ctx, &maindomain.Session{
			UserID:    tc.UserID,
			State:     maindomain.StateCollecting,
			Payload:   turn.Data,
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		s.notify.text(ctx, tc.UserID, turn.Reply)
		return nil
	}

	s.notify.text(ctx, tc.UserID, turn.Reply)
	art, err := s.receipts.Finalize(ctx, tc.Account, turn.Data)
	if err != nil {
		return fmt.Errorf("finalize receipt: %w", err)
	}
	if err := s.sessions.DeleteSession(ctx, tc.UserID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	tc.Logger.Info("receipt finalized", zap.String("artifact_id", art.ID))
	s.notify.buttons(ctx, tc.UserID, PostTaskMenu(MenuBodyPostTask))
	return nil
}

// lookupStrategy answers history and stats, then offers the next step.
type lookupStrategy struct {
	receipts ReceiptActions
	notify   notifier
}

func (s *lookupStrategy) CanHandle(intent domain.Intent) bool {
	return intent == domain.IntentLookupHistory || intent == domain.IntentLookupStats
}

func (s *lookupStrategy) Handle(ctx context.Context, tc *TurnContext) error {
	var err error
	if tc.Turn.Intent == domain.IntentLookupHistory {
		err = s.receipts.SendHistory(ctx, tc.Account)
	} else {
		err = s.receipts.SendStats(ctx, tc.Account)
	}
	if err != nil {
		return err
	}
	s.notify.buttons(ctx, tc.UserID, PostTaskMenu(MenuBodyPostTask))
	return nil
}

type profileStrategy struct {
	profile ProfileEditor
}

func (s *profileStrategy) CanHandle(intent domain.Intent) bool {
	return intent == domain.IntentUpdateProfile
}

func (s *profileStrategy) Handle(ctx context.Context, tc *TurnContext) error {
	return s.profile.UpdateProfile(ctx, tc.Account, tc.Utterance)
}

// cancelStrategy drops the session and returns to the main menu.
type cancelStrategy struct {
	sessions mainport.SessionStore
	notify   notifier
}

func (s *cancelStrategy) CanHandle(intent domain.Intent) bool {
	return intent == domain.IntentCancel
}

func (s *cancelStrategy) Handle(ctx context.Context, tc *TurnContext) error {
	if err := s.sessions.DeleteSession(ctx, tc.UserID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.notify.text(ctx, tc.UserID, tc.Turn.Reply)
	s.notify.list(ctx, tc.UserID, MainMenu())
	return nil
}

// replyStrategy sends the interpreter's reply and leaves the session alone.
// It serves OFF_TOPIC and CHAT.
type replyStrategy struct {
	notify notifier
}

func (s *replyStrategy) CanHandle(intent domain.Intent) bool {
	return intent == domain.IntentOffTopic || intent == domain.IntentChat
}

func (s *replyStrategy) Handle(ctx context.Context, tc *TurnContext) error {
	if tc.Turn.Reply != "" {
		s.notify.text(ctx, tc.UserID, tc.Turn.Reply)
	}
	return nil
}
