package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copperline/stakebot/telegram"
)

// Action is a human-review verdict carried by a resumed turn.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Turn is one unit of work handed to the engine. Either Input is set
// (a fresh user message) or Action is set (a review verdict resuming a
// suspended thread).
type Turn struct {
	Input    string
	Action   Action
	ThreadID string
}

// Engine runs one conversational turn, pushing intermediate events
// through the Callbacks it was constructed with, and returns the final
// reply text.
type Engine interface {
	Execute(ctx context.Context, turn Turn) (string, error)
}

// EngineFactory builds a per-user engine wired to that user's sinks.
type EngineFactory func(ctx context.Context, userID int64, cb Callbacks) (Engine, error)

// ClaimIntake receives claim records for settled unstake transactions.
type ClaimIntake interface {
	CreateClaim(ctx context.Context, userID int64, amount float64, symbol, network, provider, txHash string, claimTime time.Time) error
}

const fallbackReply = "Sorry, something went wrong while processing your request. Please try again."

// Gateway owns the per-user engine handles and drives the placeholder
// lifecycle around each turn. Turns for the same user are serialized
// on the handle mutex; turns for different users run concurrently.
type Gateway struct {
	bot         telegram.Sender
	logger      *slog.Logger
	newEngine   EngineFactory
	claims      ClaimIntake
	unlockDelay time.Duration
	maxHandles  int

	mu      sync.Mutex
	handles map[int64]*handle
}

type handle struct {
	mu     sync.Mutex
	engine Engine
	chatID int64

	exec   *ExecutionSink
	ask    *AskUserSink
	review *ReviewSink

	threadID string

	stateMu          sync.Mutex
	pendingReview    string
	terminalRendered bool
	lastUsed         time.Time
}

type Options struct {
	// MaxHandles caps live engine handles; the least recently used is
	// evicted when exceeded. Zero means 256.
	MaxHandles int
	// UnlockDelay is the wait between an unstake settling and its
	// claim becoming due.
	UnlockDelay time.Duration
	Claims      ClaimIntake
}

func New(bot telegram.Sender, factory EngineFactory, logger *slog.Logger, opts Options) *Gateway {
	if opts.MaxHandles <= 0 {
		opts.MaxHandles = 256
	}
	if opts.UnlockDelay <= 0 {
		opts.UnlockDelay = 7 * 24 * time.Hour
	}
	return &Gateway{
		bot:         bot,
		logger:      logger,
		newEngine:   factory,
		claims:      opts.Claims,
		unlockDelay: opts.UnlockDelay,
		maxHandles:  opts.MaxHandles,
		handles:     make(map[int64]*handle),
	}
}

// HandleText runs a free-text turn for the user.
func (g *Gateway) HandleText(ctx context.Context, userID, chatID int64, input string) error {
	return g.run(ctx, userID, chatID, Turn{Input: input})
}

// Resolve resumes a thread suspended on human review with the user's
// verdict.
func (g *Gateway) Resolve(ctx context.Context, userID, chatID int64, action Action) error {
	h, err := g.handle(ctx, userID, chatID)
	if err != nil {
		return err
	}
	h.stateMu.Lock()
	threadID := h.pendingReview
	h.pendingReview = ""
	h.stateMu.Unlock()
	if threadID == "" {
		g.logger.Info("gateway_no_pending_review", "user_id", userID)
		return nil
	}
	return g.runOn(ctx, h, chatID, Turn{Action: action, ThreadID: threadID})
}

func (g *Gateway) run(ctx context.Context, userID, chatID int64, turn Turn) error {
	h, err := g.handle(ctx, userID, chatID)
	if err != nil {
		return err
	}
	return g.runOn(ctx, h, chatID, turn)
}

func (g *Gateway) runOn(ctx context.Context, h *handle, chatID int64, turn Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if turn.ThreadID == "" {
		turn.ThreadID = h.threadID
	}

	placeholder, err := g.bot.SendMessage(ctx, chatID, "Thinking...", nil)
	if err != nil {
		return fmt.Errorf("send placeholder: %w", err)
	}
	h.exec.SetMessageID(placeholder)
	h.ask.SetMessageID(placeholder)
	h.review.SetMessageID(placeholder)
	h.stateMu.Lock()
	h.terminalRendered = false
	h.stateMu.Unlock()

	reply, err := h.engine.Execute(ctx, turn)
	pointer := h.exec.MessageID()
	if err != nil {
		g.logger.Error("gateway_execute_error", "chat_id", chatID, "error", err.Error())
		if editErr := g.bot.EditMessageText(ctx, chatID, pointer, fallbackReply, nil); editErr != nil {
			g.logger.Warn("gateway_edit_error", "chat_id", chatID, "error", editErr.Error())
		}
		return nil
	}

	h.stateMu.Lock()
	terminal := h.terminalRendered
	h.stateMu.Unlock()
	if terminal {
		if delErr := g.bot.DeleteMessage(ctx, chatID, pointer); delErr != nil {
			g.logger.Warn("gateway_delete_error", "chat_id", chatID, "error", delErr.Error())
		}
		return nil
	}
	text := telegram.NormalizeMarkup(reply)
	if err := g.bot.EditMessageText(ctx, chatID, pointer, text, &telegram.SendOptions{ParseMode: telegram.HTML}); err != nil {
		g.logger.Warn("gateway_edit_error", "chat_id", chatID, "error", err.Error())
	}
	return nil
}

// handle returns the user's engine handle, creating it on first use and
// evicting the least recently used one past the cap.
func (g *Gateway) handle(ctx context.Context, userID, chatID int64) (*handle, error) {
	g.mu.Lock()
	if h, ok := g.handles[userID]; ok {
		h.stateMu.Lock()
		h.lastUsed = time.Now()
		h.stateMu.Unlock()
		g.mu.Unlock()
		return h, nil
	}
	g.mu.Unlock()

	h := &handle{
		chatID:   chatID,
		threadID: uuid.NewString(),
		lastUsed: time.Now(),
	}
	h.exec = &ExecutionSink{
		bot:    g.bot,
		logger: g.logger,
		chatID: chatID,
		onTerminal: func(ctx context.Context, card string) {
			h.stateMu.Lock()
			h.terminalRendered = true
			h.stateMu.Unlock()
			if _, err := g.bot.SendMessage(ctx, chatID, card, &telegram.SendOptions{
				ParseMode:             telegram.HTML,
				DisableWebPagePreview: true,
			}); err != nil {
				g.logger.Warn("gateway_card_send_error", "chat_id", chatID, "error", err.Error())
			}
		},
		onClaim: func(ctx context.Context, ev ToolEvent) {
			if g.claims == nil {
				return
			}
			claimTime := time.Now().Add(g.unlockDelay)
			err := g.claims.CreateClaim(ctx, userID, ev.Data.Amount, ev.Data.Symbol,
				ev.Data.Network, ev.Data.Provider, ev.Data.TxHash, claimTime)
			if err != nil {
				g.logger.Error("gateway_claim_create_error", "user_id", userID, "error", err.Error())
			}
		},
	}
	h.ask = &AskUserSink{bot: g.bot, logger: g.logger, chatID: chatID}
	h.review = &ReviewSink{
		bot:    g.bot,
		logger: g.logger,
		chatID: chatID,
		onAwaiting: func(threadID string) {
			h.stateMu.Lock()
			h.pendingReview = threadID
			h.terminalRendered = true
			h.stateMu.Unlock()
		},
	}

	engine, err := g.newEngine(ctx, userID, Callbacks{Execution: h.exec, AskUser: h.ask, Review: h.review})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	h.engine = engine

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.handles[userID]; ok {
		// Lost the race to another goroutine for the same user.
		return existing, nil
	}
	g.handles[userID] = h
	g.evictLocked()
	return h, nil
}

func (g *Gateway) evictLocked() {
	for len(g.handles) > g.maxHandles {
		var oldestID int64
		var oldest time.Time
		first := true
		for id, h := range g.handles {
			h.stateMu.Lock()
			used := h.lastUsed
			h.stateMu.Unlock()
			if first || used.Before(oldest) {
				first = false
				oldest = used
				oldestID = id
			}
		}
		delete(g.handles, oldestID)
		g.logger.Info("gateway_handle_evicted", "user_id", oldestID)
	}
}
