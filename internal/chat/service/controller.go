package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/chat/port"
	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
	mainport "github.com/boddenberg/receipt-assistant-go/internal/port"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Collaborators
// ============================================================

// StateStore is the slice of persistence the controller reads and writes.
type StateStore interface {
	GetAccount(ctx context.Context, userID string) (*maindomain.Account, error)
	mainport.SessionStore
}

// ReceiptActions finalizes receipts and answers lookups.
type ReceiptActions interface {
	Finalize(ctx context.Context, acc *maindomain.Account, p maindomain.Payload) (*maindomain.Artifact, error)
	SendHistory(ctx context.Context, acc *maindomain.Account) error
	SendStats(ctx context.Context, acc *maindomain.Account) error
}

// AccountFlows runs the conversations for users without an account.
type AccountFlows interface {
	Onboard(ctx context.Context, userID, text string, sess *maindomain.Session) error
	Restore(ctx context.Context, userID, text string) error
}

// ProfileEditor applies a free-text brand update.
type ProfileEditor interface {
	UpdateProfile(ctx context.Context, acc *maindomain.Account, text string) error
}

// Deduper remembers message ids. SetIfAbsent returns false for a seen id.
type Deduper interface {
	SetIfAbsent(key string, value struct{}) bool
}

// Outcome is what happened to one inbound message.
type Outcome string

const (
	OutcomeHandled     Outcome = "handled"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeBusy        Outcome = "busy"
)

// ControllerDeps wires a Controller. Claimer is optional and only set when
// several instances share one webhook.
type ControllerDeps struct {
	Store       StateStore
	Interpreter port.Interpreter
	Messenger   mainport.Messenger
	Receipts    ReceiptActions
	Accounts    AccountFlows
	Profile     ProfileEditor
	Dedupe      Deduper
	Claimer     mainport.TurnClaimer
	ClaimTTL    time.Duration
	TurnTimeout time.Duration
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// ============================================================
// Controller
// ============================================================

// Controller runs one turn per inbound message: normalize, deduplicate,
// take the per-user lock, load state, interpret and dispatch.
type Controller struct {
	store       StateStore
	interpreter port.Interpreter
	accounts    AccountFlows
	notify      notifier
	dedupe      Deduper
	claimer     mainport.TurnClaimer
	claimTTL    time.Duration
	turnTimeout time.Duration
	owner       string
	locks       *KeyLock
	metrics     *observability.Metrics
	logger      *zap.Logger

	// strategies are tried in order; the first that accepts the intent wins.
	strategies []TurnStrategy
	fallback   TurnStrategy

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func NewController(deps ControllerDeps) *Controller {
	n := notifier{messenger: deps.Messenger, logger: deps.Logger}
	c := &Controller{
		store:       deps.Store,
		interpreter: deps.Interpreter,
		accounts:    deps.Accounts,
		notify:      n,
		dedupe:      deps.Dedupe,
		claimer:     deps.Claimer,
		claimTTL:    deps.ClaimTTL,
		turnTimeout: deps.TurnTimeout,
		owner:       uuid.NewString(),
		locks:       NewKeyLock(),
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	c.strategies = []TurnStrategy{
		&collectStrategy{sessions: deps.Store, receipts: deps.Receipts, notify: n},
		&lookupStrategy{receipts: deps.Receipts, notify: n},
		&profileStrategy{profile: deps.Profile},
		&cancelStrategy{sessions: deps.Store, notify: n},
	}
	c.fallback = &replyStrategy{notify: n}
	return c
}

// Submit processes msg on its own goroutine, detached from the caller's
// context. It returns false once Shutdown has started.
func (c *Controller) Submit(msg *maindomain.InboundMessage) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		ctx := context.Background()
		if c.turnTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.turnTimeout)
			defer cancel()
		}
		c.HandleMessage(ctx, msg)
	}()
	return true
}

// Shutdown stops accepting messages and waits for in-flight turns.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight turns: %w", ctx.Err())
	}
}

// Busy reports whether a turn for userID is running on this instance.
func (c *Controller) Busy(userID string) bool {
	return c.locks.Held(userID)
}

// HandleMessage runs one turn synchronously. The per-user lock is released
// on every exit path, panics included.
func (c *Controller) HandleMessage(ctx context.Context, msg *maindomain.InboundMessage) Outcome {
	ctx, span := chatTracer.Start(ctx, "Controller.HandleMessage")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", msg.From), attribute.String("message.id", msg.ID))

	logger := observability.TurnLogger(c.logger, msg.From, msg.ID)

	text, ok := Normalize(msg)
	if !ok {
		c.metrics.IncrDropped(observability.DropUnsupported)
		logger.Debug("dropping unsupported message", zap.String("type", string(msg.Type)))
		return OutcomeUnsupported
	}

	if msg.ID != "" && c.dedupe != nil {
		fresh := c.dedupe.SetIfAbsent(msg.ID, struct{}{})
		c.metrics.RecordDedupe(!fresh)
		if !fresh {
			c.metrics.IncrDropped(observability.DropDuplicate)
			logger.Info("dropping duplicate delivery")
			return OutcomeDuplicate
		}
	}

	release, ok := c.locks.TryAcquire(msg.From)
	if !ok {
		c.metrics.IncrDropped(observability.DropBusy)
		logger.Info("dropping message, turn already in progress")
		return OutcomeBusy
	}
	defer release()

	if c.claimer != nil {
		claimed, err := c.claimer.ClaimTurn(ctx, msg.From, c.owner, c.claimTTL)
		switch {
		case err != nil:
			logger.Warn("turn claim failed, continuing with local lock only", zap.Error(err))
		case !claimed:
			c.metrics.IncrDropped(observability.DropBusy)
			logger.Info("dropping message, turn claimed by another instance")
			return OutcomeBusy
		default:
			defer func() {
				if err := c.claimer.ReleaseTurn(context.WithoutCancel(ctx), msg.From, c.owner); err != nil {
					logger.Warn("turn claim not released", zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	err := c.runSafely(ctx, logger, msg.From, text)
	c.metrics.RecordDuration("turn", time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.IncrTurn(observability.OutcomeError)
		logger.Error("turn failed", zap.Error(err))
		c.notify.text(context.WithoutCancel(ctx), msg.From, ReplySystemError)
		return OutcomeFailed
	}
	c.metrics.IncrTurn(observability.OutcomeOK)
	return OutcomeHandled
}

func (c *Controller) runSafely(ctx context.Context, logger *zap.Logger, userID, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in turn: %v", r)
		}
	}()
	return c.runTurn(ctx, logger, userID, text)
}

func (c *Controller) runTurn(ctx context.Context, logger *zap.Logger, userID, text string) error {
	var (
		acc  *maindomain.Account
		sess *maindomain.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acc, err = c.store.GetAccount(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		sess, err = c.store.GetSession(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load user state: %w", err)
	}

	phase := maindomain.PhaseOf(acc, sess)
	logger.Debug("turn started", zap.String("phase", string(phase)))

	if acc == nil {
		if IsRestoreCommand(text) {
			return c.accounts.Restore(ctx, userID, text)
		}
		return c.accounts.Onboard(ctx, userID, text, sess)
	}

	if IsMenuWord(text) {
		c.notify.list(ctx, userID, MainMenu())
		return nil
	}

	req := domain.Request{Utterance: text}
	if phase == maindomain.PhaseCollecting {
		req.Known = sess.Payload
		req.Collecting = true
	}

	turn, err := c.interpreter.Interpret(ctx, req)
	if err != nil {
		var ierr *maindomain.ErrInterpretation
		if !errors.As(err, &ierr) || turn == nil {
			return fmt.Errorf("interpret: %w", err)
		}
		logger.Warn("using fallback turn", zap.String("reason", ierr.Reason))
	}
	c.metrics.IncrIntent(string(turn.Intent))
	logger = logger.With(zap.String("intent", string(turn.Intent)))

	tc := &TurnContext{
		UserID:    userID,
		Utterance: text,
		Account:   acc,
		Session:   sess,
		Turn:      turn,
		Logger:    logger,
	}
	for _, s := range c.strategies {
		if s.CanHandle(turn.Intent) {
			return s.Handle(ctx, tc)
		}
	}
	return c.fallback.Handle(ctx, tc)
}

// ============================================================
// notifier — best-effort outbound messages
// ============================================================

// notifier logs send failures instead of failing the turn.
type notifier struct {
	messenger mainport.Messenger
	logger    *zap.Logger
}

func (n notifier) text(ctx context.Context, to, text string) {
	if err := n.messenger.SendText(ctx, to, text); err != nil {
		n.logger.Warn("text not delivered", zap.String("user_id", to), zap.Error(err))
	}
}

func (n notifier) list(ctx context.Context, to string, menu *maindomain.ListMenu) {
	if err := n.messenger.SendListMenu(ctx, to, menu); err != nil {
		n.logger.Warn("list menu not delivered", zap.String("user_id", to), zap.Error(err))
	}
}

func (n notifier) buttons(ctx context.Context, to string, menu *maindomain.ButtonMenu) {
	if err := n.messenger.SendButtons(ctx, to, menu); err != nil {
		n.logger.Warn("buttons not delivered", zap.String("user_id", to), zap.Error(err))
	}
}
