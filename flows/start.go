package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/telegram"
)

// Start provisions the account on first contact and renders the main
// menu. "/start <code>" carries a referral code from a deep link.
func (f *Flows) Start(ctx context.Context, req command.Request) error {
	referral := ""
	if fields := strings.Fields(req.Text); len(fields) > 1 {
		referral = fields[1]
	}

	account, created, err := f.users.GetOrCreate(ctx, req.UserID, req.Username, referral)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, fmt.Errorf("provision user: %w", err))
	}
	if created {
		f.logger.Info("user_created", "user_id", req.UserID, "address", account.Address, "referral", referral)
	}

	var b strings.Builder
	b.WriteString("👋 <b>Welcome to StakeBot!</b>\n\n")
	fmt.Fprintf(&b, "Your wallet:\n<code>%s</code>\n\n", telegram.EscapeHTML(account.Address))
	b.WriteString("Paste a token address to buy, tap Sell to manage your positions, or just tell me what you want to do.")

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{telegram.Button("💰 Sell", command.SellDetail)},
			{
				telegram.Button("👛 Wallet", command.Wallet),
				telegram.Button("📚 Help", command.Help),
			},
		},
	}
	if _, err := f.bot.SendMessage(ctx, req.ChatID, b.String(), &telegram.SendOptions{
		ParseMode:   telegram.HTML,
		ReplyMarkup: markup,
	}); err != nil {
		f.logger.Error("start_send_error", "chat_id", req.ChatID, "error", err.Error())
	}
	return nil
}
