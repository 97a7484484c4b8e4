package command

import (
	"context"
	"log/slog"
	"strings"
)

// Command names used in callback payloads and slash commands. Kept short
// on purpose: every byte counts against the callback limit.
const (
	Start            = "start"
	BuyDetail        = "buy_detail"
	SellDetail       = "sell_detail"
	CustomAmount     = "custom_amount"
	CustomPercentage = "custom_percentage"
	ConfirmBuy       = "confirm_buy"
	ConfirmSell      = "confirm_sell"
	Wallet           = "wallet"
	ExportKeys       = "export_keys"
	Withdraw         = "withdraw"
	Help             = "help"
	ReviewApprove    = "human_review_yes"
	ReviewReject     = "human_review_no"
)

// Request carries the decoded fields of one inbound chat event.
type Request struct {
	ChatID    int64
	UserID    int64
	MessageID int64
	QueryID   string
	Username  string
	Text      string
	Params    map[string]string
}

type HandlerFunc func(ctx context.Context, req Request) error

// Router dispatches inbound commands and inline-button callbacks to
// named handlers. Handlers are terminal: a returned error is logged, not
// re-raised, so no event can take the poll loop down.
type Router struct {
	logger   *slog.Logger
	handlers map[string]HandlerFunc
	freeText HandlerFunc
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers fn for a command name.
func (r *Router) Handle(name string, fn HandlerFunc) {
	r.handlers[name] = fn
}

// HandleFreeText registers the handler for plain messages that are not
// slash commands.
func (r *Router) HandleFreeText(fn HandlerFunc) {
	r.freeText = fn
}

// DispatchCallback routes an inline-button payload. Unknown command
// names are logged and dropped: stale buttons on old messages are
// expected and must not surface errors to the user.
func (r *Router) DispatchCallback(ctx context.Context, data string, req Request) {
	// Review resolutions carry no parameter block; route them on the
	// raw payload so the originating message id survives untouched.
	if data == ReviewApprove || data == ReviewReject {
		r.invoke(ctx, data, req)
		return
	}

	name, params := Parse(data)
	req.Params = params
	r.invoke(ctx, name, req)
}

// DispatchMessage routes a plain message: "/name" invokes the named
// handler, anything else goes to the free-text handler.
func (r *Router) DispatchMessage(ctx context.Context, req Request) {
	text := strings.TrimSpace(req.Text)
	if strings.HasPrefix(text, "/") {
		name := strings.ToLower(strings.TrimPrefix(text, "/"))
		if fields := strings.Fields(name); len(fields) > 0 {
			name = fields[0]
		}
		if _, ok := r.handlers[name]; ok {
			r.invoke(ctx, name, req)
			return
		}
	}
	if r.freeText == nil {
		r.logger.Debug("router_no_free_text_handler", "chat_id", req.ChatID)
		return
	}
	if err := r.freeText(ctx, req); err != nil {
		r.logger.Error("router_free_text_error", "chat_id", req.ChatID, "error", err.Error())
	}
}

func (r *Router) invoke(ctx context.Context, name string, req Request) {
	fn, ok := r.handlers[name]
	if !ok {
		r.logger.Info("router_unknown_command", "command", name, "chat_id", req.ChatID)
		return
	}
	if err := fn(ctx, req); err != nil {
		r.logger.Error("router_handler_error", "command", name, "chat_id", req.ChatID, "error", err.Error())
	}
}
