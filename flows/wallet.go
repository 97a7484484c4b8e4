package flows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/numfmt"
	"github.com/copperline/stakebot/telegram"
)

// keyMessageTTL is how long an exported private key stays on screen
// before the bot removes it again.
const keyMessageTTL = 120 * time.Second

const (
	msgWalletError = "Error fetching wallet information. Please try again."
	msgExportError = "Error exporting private keys. Please try again."
)

// Wallet renders the funding screen: native balance, the deposit
// address and the referral code, with export and back actions.
func (f *Flows) Wallet(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)

	account, _, err := f.users.GetOrCreate(ctx, req.UserID, req.Username, "")
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgWalletError, fmt.Errorf("load account: %w", err))
	}
	balance, err := f.data.NativeBalance(ctx, req.UserID)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgWalletError, fmt.Errorf("native balance: %w", err))
	}

	var b strings.Builder
	b.WriteString("<b>Here is your wallet address, please top up to use the bot:</b>\n\n")
	fmt.Fprintf(&b, "<b>💳 %s Chain:</b> %s %s\n", nativeSymbol, numfmt.FormatSmart(balance), nativeSymbol)
	fmt.Fprintf(&b, "<code>%s</code> (Tap to copy)\n\n", telegram.EscapeHTML(account.Address))
	if account.ReferralCode != "" {
		fmt.Fprintf(&b, "<b>🔗 Referral code:</b> <code>%s</code>\n", telegram.EscapeHTML(account.ReferralCode))
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{telegram.Button("🔑 Export Private Key", command.ExportKeys)},
			{telegram.Button("← Back", command.Start)},
		},
	}
	if _, err := f.bot.SendMessage(ctx, req.ChatID, b.String(), &telegram.SendOptions{
		ParseMode:             telegram.HTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}); err != nil {
		return f.sendError(ctx, req.ChatID, msgWalletError, err)
	}
	return nil
}

// ExportKeys sends the wallet's private key and schedules the message
// for deletion so the plaintext does not linger in the chat history.
func (f *Flows) ExportKeys(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)

	keyHex, err := f.users.ExportKey(ctx, req.UserID)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgExportError, fmt.Errorf("export key: %w", err))
	}

	var b strings.Builder
	b.WriteString("🔑 <b>Export Private Key</b>\n\n")
	fmt.Fprintf(&b, "<b>💠 %s Chain:</b>\n<code>%s</code> (Tap to copy)\n\n", nativeSymbol, telegram.EscapeHTML(keyHex))
	b.WriteString("=========\n")
	b.WriteString("<i>⚠️ For your security, this message will be automatically deleted in 120 seconds.</i>")

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{telegram.Button("← Back to Wallet", command.Wallet)},
		},
	}
	msgID, err := f.bot.SendMessage(ctx, req.ChatID, b.String(), &telegram.SendOptions{
		ParseMode:   telegram.HTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgExportError, err)
	}
	f.deleteLater(req.ChatID, msgID)
	return nil
}

// Withdraw is a placeholder until on-chain withdrawals ship; it points
// at the key export in the meantime.
func (f *Flows) Withdraw(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)
	text := "💰 <b>Withdraw Assets</b>\n\n" +
		"This feature will be available in the future.\n\n" +
		"For now, you can export your private key from the wallet screen and use any external wallet.\n\n" +
		"/wallet"
	if _, err := f.bot.SendMessage(ctx, req.ChatID, text, &telegram.SendOptions{ParseMode: telegram.HTML}); err != nil {
		f.logger.Warn("flow_withdraw_send_error", "chat_id", req.ChatID, "error", err.Error())
	}
	return nil
}

// Help renders the usage guide.
func (f *Flows) Help(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)

	var b strings.Builder
	b.WriteString("📚 <b>How to use?</b>\n\n")
	b.WriteString("💠 <b>Buy:</b> paste a token address to open the buy screen.\n")
	b.WriteString("💠 <b>Sell:</b> tap Sell in the menu to manage your positions.\n")
	b.WriteString("💠 <b>Wallet:</b> /wallet shows your deposit address and balance.\n\n")
	b.WriteString("🤖 <b>Or just tell me what you want to do:</b>\n")
	fmt.Fprintf(&b, "💠 <i>\"Swap 1 %s for USDT\"</i>\n", nativeSymbol)
	fmt.Fprintf(&b, "💠 <i>\"Stake 2 %s\"</i>\n", nativeSymbol)
	b.WriteString("💠 <i>\"Unstake everything\"</i>\n")

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{telegram.Button("← Back", command.Start)},
		},
	}
	if _, err := f.bot.SendMessage(ctx, req.ChatID, b.String(), &telegram.SendOptions{
		ParseMode:             telegram.HTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}); err != nil {
		f.logger.Warn("flow_help_send_error", "chat_id", req.ChatID, "error", err.Error())
	}
	return nil
}
