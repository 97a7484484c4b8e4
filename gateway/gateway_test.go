package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/copperline/stakebot/telegram"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   *telegram.SendOptions
}

type editedMessage struct {
	ChatID    int64
	MessageID int64
	Text      string
}

type fakeBot struct {
	mu      sync.Mutex
	nextID  int64
	sent    []sentMessage
	edits   []editedMessage
	deleted []int64
	sendErr error
}

func (b *fakeBot) SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return 0, b.sendErr
	}
	b.nextID++
	b.sent = append(b.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return b.nextID, nil
}

func (b *fakeBot) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *telegram.SendOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (b *fakeBot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)
	return nil
}

func (b *fakeBot) AnswerCallbackQuery(ctx context.Context, queryID string) error {
	return nil
}

type fakeEngine struct {
	run func(ctx context.Context, turn Turn) (string, error)
}

func (e *fakeEngine) Execute(ctx context.Context, turn Turn) (string, error) {
	return e.run(ctx, turn)
}

func newTestGateway(bot *fakeBot, run func(ctx context.Context, cb Callbacks, turn Turn) (string, error), opts Options) *Gateway {
	factory := func(ctx context.Context, userID int64, cb Callbacks) (Engine, error) {
		return &fakeEngine{run: func(ctx context.Context, turn Turn) (string, error) {
			return run(ctx, cb, turn)
		}}, nil
	}
	return New(bot, factory, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func TestHandleTextEditsPlaceholderWithReply(t *testing.T) {
	bot := &fakeBot{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		if turn.Input != "stake 1 BNB" {
			t.Errorf("turn input = %q", turn.Input)
		}
		return "**Done!** Staked.", nil
	}, Options{})

	if err := g.HandleText(context.Background(), 9, 5, "stake 1 BNB"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	if len(bot.sent) != 1 || bot.sent[0].Text != "Thinking..." {
		t.Fatalf("sent = %+v", bot.sent)
	}
	if len(bot.edits) != 1 {
		t.Fatalf("edits = %+v", bot.edits)
	}
	if bot.edits[0].MessageID != 1 || bot.edits[0].Text != "<b>Done!</b> Staked." {
		t.Fatalf("final edit = %+v", bot.edits[0])
	}
}

func TestHandleTextEngineErrorRendersFallback(t *testing.T) {
	bot := &fakeBot{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		return "", errors.New("upstream timeout")
	}, Options{})

	if err := g.HandleText(context.Background(), 9, 5, "hi"); err != nil {
		t.Fatalf("engine errors must not propagate: %v", err)
	}
	if len(bot.edits) != 1 || bot.edits[0].Text != fallbackReply {
		t.Fatalf("edits = %+v", bot.edits)
	}
}

func TestTerminalEventDeletesPlaceholder(t *testing.T) {
	bot := &fakeBot{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		cb.Execution.OnToolExecution(ctx, ToolEvent{
			State: StateCompleted,
			Tool:  ToolSwap,
			Data: ToolData{
				Status: "success", TxHash: "0xabc", Network: "bnb",
				FromAmount: 1.5, FromSymbol: "BNB", ToAmount: 945.2, ToSymbol: "USDT",
			},
		})
		return "swap done", nil
	}, Options{})

	if err := g.HandleText(context.Background(), 9, 5, "swap"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	// Placeholder then success card.
	if len(bot.sent) != 2 {
		t.Fatalf("sent = %+v", bot.sent)
	}
	card := bot.sent[1].Text
	if !strings.Contains(card, "Swap Success") || !strings.Contains(card, "bscscan.com/tx/0xabc") {
		t.Errorf("card = %q", card)
	}
	if len(bot.deleted) != 1 || bot.deleted[0] != 1 {
		t.Fatalf("deleted = %v", bot.deleted)
	}
	if len(bot.edits) != 0 {
		t.Fatalf("placeholder must not be edited after terminal render: %+v", bot.edits)
	}
}

func TestPlanRenderMovesPointer(t *testing.T) {
	bot := &fakeBot{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		cb.Execution.OnToolExecution(ctx, ToolEvent{
			State: StateStarted,
			Tool:  ToolCreatePlan,
			Plan:  []PlanTask{{Title: "Fetch quote"}, {Title: "Execute swap"}},
		})
		cb.Execution.OnToolExecution(ctx, ToolEvent{
			State: StateInProcess, Tool: ToolSwap, Progress: 40, Message: "Submitting transaction",
		})
		return "done", nil
	}, Options{})

	if err := g.HandleText(context.Background(), 9, 5, "swap"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	// Message 1 (placeholder) becomes the plan; message 2 is the
	// executing placeholder, which takes the progress edit and the
	// final reply.
	if len(bot.sent) != 2 || bot.sent[1].Text != "⏳ Executing..." {
		t.Fatalf("sent = %+v", bot.sent)
	}
	var planEdits, progressEdits, finalEdits int
	for _, e := range bot.edits {
		switch {
		case strings.Contains(e.Text, "Plan"):
			planEdits++
			if e.MessageID != 1 {
				t.Errorf("plan rendered on message %d", e.MessageID)
			}
		case strings.Contains(e.Text, "Progress: 40%"):
			progressEdits++
			if e.MessageID != 2 {
				t.Errorf("progress rendered on message %d", e.MessageID)
			}
		case e.Text == "done":
			finalEdits++
			if e.MessageID != 2 {
				t.Errorf("final reply rendered on message %d", e.MessageID)
			}
		}
	}
	if planEdits != 1 || progressEdits != 1 || finalEdits != 1 {
		t.Fatalf("edits = %+v", bot.edits)
	}
}

func TestReviewSuspendAndResolve(t *testing.T) {
	bot := &fakeBot{}
	var turns []Turn
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		turns = append(turns, turn)
		if turn.Action == "" {
			cb.Review.OnHumanReview(ctx, ReviewRequest{
				Tool:     ToolStaking,
				ThreadID: "thread-7",
				Staking:  &StakingReview{Amount: 2, Symbol: "BNB", Operation: "stake"},
			})
			return "awaiting your approval", nil
		}
		return "staked", nil
	}, Options{})

	if err := g.HandleText(context.Background(), 9, 5, "stake 2 BNB"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	// Review card was sent and the placeholder deleted instead of
	// edited with the reply.
	if len(bot.sent) != 2 || !strings.Contains(bot.sent[1].Text, "Review Transaction") {
		t.Fatalf("sent = %+v", bot.sent)
	}
	if len(bot.deleted) != 1 {
		t.Fatalf("deleted = %v", bot.deleted)
	}

	if err := g.Resolve(context.Background(), 9, 5, ActionApprove); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %+v", turns)
	}
	if turns[1].Action != ActionApprove || turns[1].ThreadID != "thread-7" {
		t.Fatalf("resumed turn = %+v", turns[1])
	}

	// Second resolve with nothing pending is a no-op.
	if err := g.Resolve(context.Background(), 9, 5, ActionReject); err != nil {
		t.Fatalf("Resolve (no pending): %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("no-op resolve reached engine: %+v", turns)
	}
}

type claimRecorder struct {
	mu     sync.Mutex
	claims []struct {
		UserID    int64
		Amount    float64
		Symbol    string
		ClaimTime time.Time
	}
}

func (c *claimRecorder) CreateClaim(ctx context.Context, userID int64, amount float64, symbol, network, provider, txHash string, claimTime time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, struct {
		UserID    int64
		Amount    float64
		Symbol    string
		ClaimTime time.Time
	}{userID, amount, symbol, claimTime})
	return nil
}

func TestUnstakeCompletionCreatesClaim(t *testing.T) {
	bot := &fakeBot{}
	rec := &claimRecorder{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		cb.Execution.OnToolExecution(ctx, ToolEvent{
			State: StateCompleted,
			Tool:  ToolStaking,
			Data: ToolData{
				Status: "success", TxHash: "0xdef", Network: "bnb",
				Amount: 3.2, Symbol: "BNB", Operation: "unstake", Provider: "lista",
			},
		})
		return "unstaked", nil
	}, Options{Claims: rec, UnlockDelay: time.Hour})

	before := time.Now()
	if err := g.HandleText(context.Background(), 9, 5, "unstake"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if len(rec.claims) != 1 {
		t.Fatalf("claims = %+v", rec.claims)
	}
	got := rec.claims[0]
	if got.UserID != 9 || got.Amount != 3.2 || got.Symbol != "BNB" {
		t.Fatalf("claim = %+v", got)
	}
	if got.ClaimTime.Before(before.Add(time.Hour)) || got.ClaimTime.After(time.Now().Add(time.Hour)) {
		t.Fatalf("claim time = %v", got.ClaimTime)
	}
}

func TestStakeCompletionDoesNotCreateClaim(t *testing.T) {
	bot := &fakeBot{}
	rec := &claimRecorder{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		cb.Execution.OnToolExecution(ctx, ToolEvent{
			State: StateCompleted,
			Tool:  ToolStaking,
			Data:  ToolData{Status: "success", Amount: 1, Symbol: "BNB", Operation: "stake"},
		})
		return "staked", nil
	}, Options{Claims: rec})

	if err := g.HandleText(context.Background(), 9, 5, "stake"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if len(rec.claims) != 0 {
		t.Fatalf("stake must not enqueue a claim: %+v", rec.claims)
	}
}

func TestHandleEviction(t *testing.T) {
	bot := &fakeBot{}
	g := newTestGateway(bot, func(ctx context.Context, cb Callbacks, turn Turn) (string, error) {
		return "ok", nil
	}, Options{MaxHandles: 2})

	for userID := int64(1); userID <= 3; userID++ {
		if err := g.HandleText(context.Background(), userID, userID, "hi"); err != nil {
			t.Fatalf("HandleText(%d): %v", userID, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.handles) != 2 {
		t.Fatalf("handles = %d, want 2", len(g.handles))
	}
	if _, ok := g.handles[1]; ok {
		t.Fatal("oldest handle not evicted")
	}
}
