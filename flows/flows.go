// Package flows implements the wizard screens behind the inline
// keyboards: buy detail, sell detail, the custom-value prompts, the
// confirm actions, /start provisioning and human-review resolution.
//
// Every handler is terminal. Failures inside a render are logged and
// turned into a generic retry message; validation failures produce a
// specific corrective message and leave session state untouched.
package flows

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/gateway"
	"github.com/copperline/stakebot/market"
	"github.com/copperline/stakebot/session"
	"github.com/copperline/stakebot/telegram"
	"github.com/copperline/stakebot/users"
)

// UserDirectory provisions and looks up accounts. Created reports
// whether this call made the account. ExportKey returns the wallet's
// hex-encoded private key for the export screen.
type UserDirectory interface {
	GetOrCreate(ctx context.Context, telegramID int64, username, referralCode string) (users.Account, bool, error)
	ExportKey(ctx context.Context, telegramID int64) (string, error)
}

// TurnHandler is the agent side the free-text path and the review
// buttons call into. *gateway.Gateway satisfies it.
type TurnHandler interface {
	HandleText(ctx context.Context, userID, chatID int64, input string) error
	Resolve(ctx context.Context, userID, chatID int64, action gateway.Action) error
}

const (
	nativeSymbol = "BNB"
	network      = "bnb"

	msgGenericError    = "Error fetching token information. Please try again."
	msgTokenNotFound   = "Token not found. Please try again."
	msgInvalidPercent  = "Please enter a valid percentage between 1 and 100."
	msgInvalidAmount   = "Please enter a valid amount."
	msgProcessing      = "⏳ Processing your transaction..."
	msgTradeFailed     = "❌ Transaction failed. Please try again."
	defaultBuySlippage = "0.3"
	defaultSellPct     = "50"
	defaultSellSlip    = "30"
)

var tokenAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Flows holds the collaborators every screen needs.
type Flows struct {
	bot      telegram.Sender
	sessions *session.Store
	data     market.Data
	trader   market.Trader
	users    UserDirectory
	agent    TurnHandler
	logger   *slog.Logger

	// deleteLater schedules removal of a sensitive message after
	// keyMessageTTL. Swapped out in tests.
	deleteLater func(chatID, messageID int64)
}

func New(bot telegram.Sender, sessions *session.Store, data market.Data, trader market.Trader, users UserDirectory, agent TurnHandler, logger *slog.Logger) *Flows {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Flows{
		bot:      bot,
		sessions: sessions,
		data:     data,
		trader:   trader,
		users:    users,
		agent:    agent,
		logger:   logger,
	}
	f.deleteLater = func(chatID, messageID int64) {
		time.AfterFunc(keyMessageTTL, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := f.bot.DeleteMessage(ctx, chatID, messageID); err != nil {
				f.logger.Warn("flow_key_message_delete_error", "chat_id", chatID, "message_id", messageID, "error", err.Error())
			}
		})
	}
	return f
}

// Register wires every handler into the router.
func (f *Flows) Register(r *command.Router) {
	r.Handle(command.Start, f.Start)
	r.Handle(command.BuyDetail, f.BuyDetail)
	r.Handle(command.SellDetail, f.SellDetail)
	r.Handle(command.CustomAmount, f.CustomAmountPrompt)
	r.Handle(command.CustomPercentage, f.CustomPercentagePrompt)
	r.Handle(command.ConfirmBuy, f.ConfirmBuy)
	r.Handle(command.ConfirmSell, f.ConfirmSell)
	r.Handle(command.Wallet, f.Wallet)
	r.Handle(command.ExportKeys, f.ExportKeys)
	r.Handle(command.Withdraw, f.Withdraw)
	r.Handle(command.Help, f.Help)
	r.Handle(command.ReviewApprove, f.review(gateway.ActionApprove))
	r.Handle(command.ReviewReject, f.review(gateway.ActionReject))
	r.HandleFreeText(f.FreeText)
}

// FreeText handles plain messages. Priority: a pending custom-value
// prompt consumes the message first; a bare token address opens the buy
// screen; everything else becomes an agent turn.
func (f *Flows) FreeText(ctx context.Context, req command.Request) error {
	pending, ok, err := f.sessions.Pending(ctx, req.UserID)
	if err != nil {
		// The message may be the answer to an armed prompt; routing it
		// to the agent instead would act on it twice once the store
		// recovers. End the interaction here.
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	if ok {
		return f.handlePendingInput(ctx, req, pending)
	}

	text := strings.TrimSpace(req.Text)
	if tokenAddressRe.MatchString(text) {
		return f.renderBuyDetail(ctx, req.UserID, req.ChatID, 0, map[string]string{"t": text})
	}
	return f.agent.HandleText(ctx, req.UserID, req.ChatID, text)
}

// sendError pushes the generic retry message, logging the underlying
// cause. Returning nil keeps handler failures out of the router.
func (f *Flows) sendError(ctx context.Context, chatID int64, userMsg string, cause error) error {
	if cause != nil {
		f.logger.Error("flow_error", "chat_id", chatID, "error", cause.Error())
	}
	if _, err := f.bot.SendMessage(ctx, chatID, userMsg, nil); err != nil {
		f.logger.Warn("flow_error_send_failed", "chat_id", chatID, "error", err.Error())
	}
	return nil
}

// renderTo edits messageID in place when non-zero, otherwise sends a
// fresh message. Returns the id of the message now showing the screen.
func (f *Flows) renderTo(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) (int64, error) {
	opts := &telegram.SendOptions{
		ParseMode:             telegram.HTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	}
	if messageID != 0 {
		if err := f.bot.EditMessageText(ctx, chatID, messageID, text, opts); err != nil {
			return 0, err
		}
		return messageID, nil
	}
	return f.bot.SendMessage(ctx, chatID, text, opts)
}

// answer clears the inline button loading spinner; failures are logged
// only, the screen render matters more.
func (f *Flows) answer(ctx context.Context, queryID string) {
	if queryID == "" {
		return
	}
	if err := f.bot.AnswerCallbackQuery(ctx, queryID); err != nil {
		f.logger.Warn("flow_answer_callback_error", "query_id", queryID, "error", err.Error())
	}
}

// resolveToken maps a token prefix (or full address) onto one of the
// user's holdings. An empty prefix picks the largest screen, meaning
// the first holding reported by the data provider.
func resolveToken(prefix string, holdings []market.Holding) (market.Holding, bool) {
	if prefix == "" {
		if len(holdings) == 0 {
			return market.Holding{}, false
		}
		return holdings[0], true
	}
	lower := strings.ToLower(prefix)
	for _, h := range holdings {
		if strings.HasPrefix(strings.ToLower(h.Address), lower) {
			return h, true
		}
	}
	return market.Holding{}, false
}

func check(selected bool, label string) string {
	if selected {
		return "✅ " + label
	}
	return label
}
