package flows

import (
	"context"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/gateway"
)

// review resolves a human-review prompt: clear the button spinner,
// remove the prompt so it cannot be answered twice, then resume the
// suspended agent thread with the verdict.
func (f *Flows) review(action gateway.Action) command.HandlerFunc {
	return func(ctx context.Context, req command.Request) error {
		f.answer(ctx, req.QueryID)
		if req.MessageID != 0 {
			if err := f.bot.DeleteMessage(ctx, req.ChatID, req.MessageID); err != nil {
				f.logger.Warn("review_delete_error", "chat_id", req.ChatID, "message_id", req.MessageID, "error", err.Error())
			}
		}
		return f.agent.Resolve(ctx, req.UserID, req.ChatID, action)
	}
}
