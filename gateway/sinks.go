package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/copperline/stakebot/numfmt"
	"github.com/copperline/stakebot/telegram"
)

// Callbacks bundles the three push targets an engine is wired with.
type Callbacks struct {
	Execution ExecutionCallback
	AskUser   AskUserCallback
	Review    ReviewCallback
}

type ExecutionCallback interface {
	OnToolExecution(ctx context.Context, ev ToolEvent)
}

type AskUserCallback interface {
	OnAskUser(ctx context.Context, question string)
}

type ReviewCallback interface {
	OnHumanReview(ctx context.Context, req ReviewRequest)
}

// ExecutionSink turns tool progress events into edits of the message
// that currently represents the running turn. The gateway repoints it
// before every turn via SetMessageID; its pointer moves again when a
// plan render spawns a fresh "Executing…" placeholder.
type ExecutionSink struct {
	bot    telegram.Sender
	logger *slog.Logger
	chatID int64

	mu        sync.Mutex
	messageID int64
	planMsgID int64

	// onTerminal hands a terminal success card to the gateway so it
	// knows not to re-edit the placeholder at turn end.
	onTerminal func(ctx context.Context, card string)
	// onClaim feeds settled unstake transactions into the claim queue.
	onClaim func(ctx context.Context, ev ToolEvent)
}

func (s *ExecutionSink) SetMessageID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = id
}

func (s *ExecutionSink) MessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

func (s *ExecutionSink) OnToolExecution(ctx context.Context, ev ToolEvent) {
	switch ev.State {
	case StateStarted:
		if ev.Tool == ToolCreatePlan {
			s.renderPlan(ctx, ev.Plan)
		}
	case StateInProcess, StatePending:
		text := fmt.Sprintf("⏳ Progress: %d%%\n\n%s", ev.Progress, ev.Message)
		s.edit(ctx, s.MessageID(), text, nil)
	case StateCompleted:
		switch {
		case ev.Tool == ToolUpdatePlan:
			s.renderPlanProgress(ctx, ev.Plan)
		case ev.Tool.Transactional() && ev.Data.Status == "success":
			if s.onTerminal != nil {
				s.onTerminal(ctx, successCard(ev))
			}
			if s.onClaim != nil && ev.Tool == ToolStaking && ev.Data.Operation == "unstake" {
				s.onClaim(ctx, ev)
			}
		}
	case StateFailed:
		msg := ev.Error
		if msg == "" {
			msg = ev.Message
		}
		s.edit(ctx, s.MessageID(), "❌ Error: "+telegram.EscapeHTML(msg), nil)
	}
}

// renderPlan replaces the thinking placeholder with the numbered plan,
// then sends a fresh executing placeholder and repoints at it.
func (s *ExecutionSink) renderPlan(ctx context.Context, plan []PlanTask) {
	s.edit(ctx, s.MessageID(), formatPlan(plan), &telegram.SendOptions{ParseMode: telegram.HTML})
	s.mu.Lock()
	s.planMsgID = s.messageID
	s.mu.Unlock()

	id, err := s.bot.SendMessage(ctx, s.chatID, "⏳ Executing...", nil)
	if err != nil {
		s.logger.Warn("execution_sink_send_error", "chat_id", s.chatID, "error", err.Error())
		return
	}
	s.SetMessageID(id)
}

func (s *ExecutionSink) renderPlanProgress(ctx context.Context, plan []PlanTask) {
	s.mu.Lock()
	planID := s.planMsgID
	s.mu.Unlock()
	if planID == 0 {
		return
	}
	s.edit(ctx, planID, formatPlan(plan), &telegram.SendOptions{ParseMode: telegram.HTML})
}

func (s *ExecutionSink) edit(ctx context.Context, messageID int64, text string, opts *telegram.SendOptions) {
	if messageID == 0 {
		return
	}
	if err := s.bot.EditMessageText(ctx, s.chatID, messageID, text, opts); err != nil {
		s.logger.Warn("execution_sink_edit_error", "chat_id", s.chatID, "message_id", messageID, "error", err.Error())
	}
}

func formatPlan(plan []PlanTask) string {
	var b strings.Builder
	b.WriteString("📋 <b>Plan</b>\n")
	for i, task := range plan {
		icon := "▫️"
		switch task.Status {
		case "in_progress":
			icon = "⏳"
		case "completed":
			icon = "✅"
		}
		fmt.Fprintf(&b, "%d. %s %s\n", i+1, icon, telegram.EscapeHTML(task.Title))
	}
	return strings.TrimRight(b.String(), "\n")
}

func successCard(ev ToolEvent) string {
	var b strings.Builder
	switch ev.Tool {
	case ToolSwap:
		fmt.Fprintf(&b, "✅ <b>Swap Success!</b>\n\n%s %s ⇄ %s %s\n",
			numfmt.FormatSmart(ev.Data.FromAmount), telegram.EscapeHTML(ev.Data.FromSymbol),
			numfmt.FormatSmart(ev.Data.ToAmount), telegram.EscapeHTML(ev.Data.ToSymbol))
	case ToolBridge:
		fmt.Fprintf(&b, "✅ <b>Bridge Success!</b>\n\n%s %s ⇄ %s %s\n",
			numfmt.FormatSmart(ev.Data.FromAmount), telegram.EscapeHTML(ev.Data.FromSymbol),
			numfmt.FormatSmart(ev.Data.ToAmount), telegram.EscapeHTML(ev.Data.ToSymbol))
	case ToolStaking:
		fmt.Fprintf(&b, "✅ <b>Staking Success!</b>\n\n%s: %s %s\n",
			telegram.EscapeHTML(titleCase(ev.Data.Operation)),
			numfmt.FormatSmart(ev.Data.Amount), telegram.EscapeHTML(ev.Data.Symbol))
	case ToolTransfer:
		fmt.Fprintf(&b, "✅ <b>Transfer Success!</b>\n\n%s %s → <code>%s</code>\n",
			numfmt.FormatSmart(ev.Data.Amount), telegram.EscapeHTML(ev.Data.Symbol),
			telegram.EscapeHTML(ev.Data.Receiver))
	}
	if ev.Data.Network != "" {
		fmt.Fprintf(&b, "Network: %s\n", telegram.EscapeHTML(titleCase(ev.Data.Network)))
	}
	if url := ExplorerTxURL(ev.Data.Network, ev.Data.TxHash); url != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">View on explorer</a>", url)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExplorerTxURL builds the block-explorer link for a transaction hash,
// or returns "" for networks without a known explorer.
func ExplorerTxURL(network, txHash string) string {
	if txHash == "" {
		return ""
	}
	switch strings.ToLower(network) {
	case "bnb", "bsc":
		return "https://bscscan.com/tx/" + txHash
	case "ethereum", "eth":
		return "https://etherscan.io/tx/" + txHash
	case "solana":
		return "https://solscan.io/tx/" + txHash
	}
	return ""
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// AskUserSink relays mid-turn questions from the engine. Only one
// prompt stays visible: the previous pointer message is deleted once
// the new question is up.
type AskUserSink struct {
	bot    telegram.Sender
	logger *slog.Logger
	chatID int64

	mu        sync.Mutex
	messageID int64
}

func (s *AskUserSink) SetMessageID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = id
}

func (s *AskUserSink) OnAskUser(ctx context.Context, question string) {
	id, err := s.bot.SendMessage(ctx, s.chatID, question, &telegram.SendOptions{ParseMode: telegram.HTML})
	if err != nil {
		s.logger.Warn("ask_user_send_error", "chat_id", s.chatID, "error", err.Error())
		return
	}
	s.mu.Lock()
	prev := s.messageID
	s.messageID = id
	s.mu.Unlock()
	if prev != 0 {
		if err := s.bot.DeleteMessage(ctx, s.chatID, prev); err != nil {
			s.logger.Warn("ask_user_delete_error", "chat_id", s.chatID, "message_id", prev, "error", err.Error())
		}
	}
}

// ReviewSink renders the approve/reject gate for transactions the
// engine declares as needing human review.
type ReviewSink struct {
	bot    telegram.Sender
	logger *slog.Logger
	chatID int64

	mu        sync.Mutex
	messageID int64

	// onAwaiting records the thread id the gateway must resume once
	// the user answers.
	onAwaiting func(threadID string)
}

func (s *ReviewSink) SetMessageID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = id
}

func (s *ReviewSink) OnHumanReview(ctx context.Context, req ReviewRequest) {
	if s.onAwaiting != nil {
		s.onAwaiting(req.ThreadID)
	}
	text := reviewCard(req)
	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			telegram.Button("✅ Approve", "human_review_yes"),
			telegram.Button("❌ Reject", "human_review_no"),
		}},
	}
	id, err := s.bot.SendMessage(ctx, s.chatID, text, &telegram.SendOptions{ParseMode: telegram.HTML, ReplyMarkup: markup})
	if err != nil {
		s.logger.Warn("review_send_error", "chat_id", s.chatID, "error", err.Error())
		return
	}
	s.SetMessageID(id)
}

func reviewCard(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("📝 <b>Review Transaction</b>\n")
	b.WriteString("Please review the following transaction details carefully before proceeding:\n")
	switch {
	case req.Swap != nil:
		fmt.Fprintf(&b, "- <b>From:</b> %s %s\n", numfmt.FormatSmart(req.Swap.FromAmount), telegram.EscapeHTML(req.Swap.FromSymbol))
		fmt.Fprintf(&b, "- <b>To:</b> %s %s\n", numfmt.FormatSmart(req.Swap.ToAmount), telegram.EscapeHTML(req.Swap.ToSymbol))
		fmt.Fprintf(&b, "- <b>Network:</b> %s", telegram.EscapeHTML(titleCase(req.Swap.Network)))
	case req.Staking != nil:
		fmt.Fprintf(&b, "- <b>Operation:</b> %s\n", telegram.EscapeHTML(titleCase(req.Staking.Operation)))
		fmt.Fprintf(&b, "- <b>Amount:</b> %s %s", numfmt.FormatSmart(req.Staking.Amount), telegram.EscapeHTML(req.Staking.Symbol))
	case req.Transfer != nil:
		fmt.Fprintf(&b, "- <b>Amount:</b> %s %s\n", numfmt.FormatSmart(req.Transfer.Amount), telegram.EscapeHTML(req.Transfer.Symbol))
		fmt.Fprintf(&b, "- <b>To:</b> <code>%s</code>\n", telegram.EscapeHTML(req.Transfer.Receiver))
		fmt.Fprintf(&b, "- <b>Network:</b> %s", telegram.EscapeHTML(titleCase(req.Transfer.Network)))
	}
	return b.String()
}
