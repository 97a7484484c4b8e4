package flows

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/session"
)

// CustomAmountPrompt asks for a free-form spend amount and arms the
// input-wait state so the next plain message is routed back here
// instead of to the agent.
func (f *Flows) CustomAmountPrompt(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)
	return f.prompt(ctx, req, session.WaitingCustomAmount,
		"Please enter the amount of "+nativeSymbol+" you want to spend:")
}

// CustomPercentagePrompt asks for a sell percentage between 1 and 100.
func (f *Flows) CustomPercentagePrompt(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)
	return f.prompt(ctx, req, session.WaitingCustomPercentage,
		"Please enter the percentage of your position to sell (1-100):")
}

func (f *Flows) prompt(ctx context.Context, req command.Request, kind, text string) error {
	promptID, err := f.bot.SendMessage(ctx, req.ChatID, text, nil)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	err = f.sessions.SetPending(ctx, req.UserID, session.PendingInput{
		Kind:           kind,
		MessageID:      req.MessageID,
		ReplyMessageID: promptID,
	})
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	return nil
}

// handlePendingInput consumes a plain message as the answer to an armed
// prompt. Invalid values get a corrective message and leave both the
// wizard state and the input-wait state untouched, so the user can just
// type again.
func (f *Flows) handlePendingInput(ctx context.Context, req command.Request, pending session.PendingInput) error {
	text := strings.TrimSpace(req.Text)
	switch pending.Kind {
	case session.WaitingCustomAmount:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || !isFinite(v) || v <= 0 {
			return f.sendError(ctx, req.ChatID, msgInvalidAmount, nil)
		}
		_, err = f.sessions.Set(ctx, req.UserID, session.FlowBuy, session.State{
			Amount:       "X",
			CustomAmount: text,
		})
		if err != nil {
			return f.sendError(ctx, req.ChatID, msgGenericError, err)
		}
		f.finishPrompt(ctx, req, pending)
		return f.renderBuyDetail(ctx, req.UserID, req.ChatID, pending.MessageID, nil)

	case session.WaitingCustomPercentage:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || !isFinite(v) || v < 1 || v > 100 {
			return f.sendError(ctx, req.ChatID, msgInvalidPercent, nil)
		}
		_, err = f.sessions.Set(ctx, req.UserID, session.FlowSell, session.State{
			Percentage:       text,
			CustomPercentage: text,
		})
		if err != nil {
			return f.sendError(ctx, req.ChatID, msgGenericError, err)
		}
		f.finishPrompt(ctx, req, pending)
		return f.renderSellDetail(ctx, req.UserID, req.ChatID, pending.MessageID, nil)
	}

	f.logger.Warn("flow_unknown_pending_kind", "user_id", req.UserID, "kind", pending.Kind)
	return f.sessions.ClearPending(ctx, req.UserID)
}

// isFinite rejects the NaN and Inf spellings ParseFloat accepts. Range
// checks alone let NaN through: every comparison against it is false.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finishPrompt disarms the input wait and removes the prompt and the
// user's answer, keeping the chat down to the wizard message.
func (f *Flows) finishPrompt(ctx context.Context, req command.Request, pending session.PendingInput) {
	if err := f.sessions.ClearPending(ctx, req.UserID); err != nil {
		f.logger.Error("flow_clear_pending_error", "user_id", req.UserID, "error", err.Error())
	}
	for _, id := range []int64{pending.ReplyMessageID, req.MessageID} {
		if id == 0 {
			continue
		}
		if err := f.bot.DeleteMessage(ctx, req.ChatID, id); err != nil {
			f.logger.Warn("flow_delete_message_error", "chat_id", req.ChatID, "message_id", id, "error", err.Error())
		}
	}
}
