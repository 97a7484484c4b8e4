package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/gateway"
	"github.com/copperline/stakebot/numfmt"
	"github.com/copperline/stakebot/session"
	"github.com/copperline/stakebot/telegram"
)

// ConfirmBuy submits the trade built up in the buy wizard.
func (f *Flows) ConfirmBuy(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)

	st, ok, err := f.sessions.Get(ctx, req.UserID, session.FlowBuy)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	if !ok || !tokenAddressRe.MatchString(st.TokenAddress) {
		return f.sendError(ctx, req.ChatID, msgTokenNotFound, nil)
	}
	amount, haveAmount := effectiveBuyAmount(st)
	if !haveAmount {
		return f.sendError(ctx, req.ChatID, msgInvalidAmount, nil)
	}
	slippage, _ := strconv.ParseFloat(st.Slippage, 64)

	f.showProcessing(ctx, req.ChatID, req.MessageID)

	txHash, err := f.trader.Buy(ctx, req.UserID, st.TokenAddress, amount, slippage)
	if err != nil {
		f.logger.Error("confirm_buy_error", "user_id", req.UserID, "token", st.TokenAddress, "error", err.Error())
		f.editResult(ctx, req.ChatID, req.MessageID, msgTradeFailed)
		return nil
	}

	var b strings.Builder
	b.WriteString("✅ <b>Buy Success!</b>\n\n")
	fmt.Fprintf(&b, "Spent %s %s\n", numfmt.FormatSmart(amount), nativeSymbol)
	if url := gateway.ExplorerTxURL(network, txHash); url != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">View on explorer</a>", url)
	}
	f.editResult(ctx, req.ChatID, req.MessageID, b.String())

	if err := f.sessions.Delete(ctx, req.UserID, session.FlowBuy); err != nil {
		f.logger.Error("confirm_buy_session_delete_error", "user_id", req.UserID, "error", err.Error())
	}
	return nil
}

// ConfirmSell submits the sell built up in the sell wizard. When the
// position ends up fully closed a PnL summary card follows the receipt.
func (f *Flows) ConfirmSell(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)

	st, ok, err := f.sessions.Get(ctx, req.UserID, session.FlowSell)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	if !ok || st.TokenAddress == "" {
		return f.sendError(ctx, req.ChatID, msgTokenNotFound, nil)
	}

	holdings, err := f.data.Holdings(ctx, req.UserID)
	if err != nil {
		return f.sendError(ctx, req.ChatID, msgGenericError, err)
	}
	holding, ok := resolveToken(st.TokenAddress, holdings)
	if !ok {
		return f.sendError(ctx, req.ChatID, msgTokenNotFound, nil)
	}

	pct := st.Percentage
	if pct == "" {
		pct = defaultSellPct
	}
	sellAmount := sellQuantity(holding.Balance, pct)
	if sellAmount <= 0 {
		return f.sendError(ctx, req.ChatID, msgInvalidAmount, nil)
	}
	slippage, _ := strconv.ParseFloat(st.Slippage, 64)

	f.showProcessing(ctx, req.ChatID, req.MessageID)

	txHash, err := f.trader.Sell(ctx, req.UserID, holding.Address, sellAmount, slippage)
	if err != nil {
		f.logger.Error("confirm_sell_error", "user_id", req.UserID, "token", holding.Address, "error", err.Error())
		f.editResult(ctx, req.ChatID, req.MessageID, msgTradeFailed)
		return nil
	}

	var b strings.Builder
	b.WriteString("✅ <b>Sell Success!</b>\n\n")
	fmt.Fprintf(&b, "Sold %s (%s%%)\n", numfmt.FormatSmart(sellAmount), pct)
	if url := gateway.ExplorerTxURL(network, txHash); url != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">View on explorer</a>", url)
	}
	f.editResult(ctx, req.ChatID, req.MessageID, b.String())

	f.maybeSendPnLCard(ctx, req.UserID, req.ChatID, holding.Address)

	if err := f.sessions.Delete(ctx, req.UserID, session.FlowSell); err != nil {
		f.logger.Error("confirm_sell_session_delete_error", "user_id", req.UserID, "error", err.Error())
	}
	return nil
}

// maybeSendPnLCard posts a position-closed summary when nothing of the
// token is left after the sell. Failures only cost the card.
func (f *Flows) maybeSendPnLCard(ctx context.Context, userID, chatID int64, token string) {
	balance, err := f.data.TokenBalance(ctx, userID, token)
	if err != nil {
		f.logger.Warn("pnl_balance_error", "user_id", userID, "error", err.Error())
		return
	}
	if balance > 0 {
		return
	}
	pnl, err := f.data.TokenPnL(ctx, userID, token)
	if err != nil {
		f.logger.Warn("pnl_fetch_error", "user_id", userID, "error", err.Error())
		return
	}

	var b strings.Builder
	b.WriteString("📊 <b>Position Closed</b>\n\n")
	fmt.Fprintf(&b, "PnL: %s%% ($%s)\n", numfmt.FormatSmart(pnl.Percent), numfmt.FormatSmart(pnl.USD))
	fmt.Fprintf(&b, "Total bought: $%s\n", numfmt.FormatSmart(pnl.TotalBuyUSD))
	fmt.Fprintf(&b, "Total sold: $%s", numfmt.FormatSmart(pnl.TotalSellUSD))
	if _, err := f.bot.SendMessage(ctx, chatID, b.String(), &telegram.SendOptions{ParseMode: telegram.HTML}); err != nil {
		f.logger.Warn("pnl_card_send_error", "chat_id", chatID, "error", err.Error())
	}
}

func (f *Flows) showProcessing(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := f.bot.EditMessageText(ctx, chatID, messageID, msgProcessing, nil); err != nil {
		f.logger.Warn("flow_processing_edit_error", "chat_id", chatID, "error", err.Error())
	}
}

// editResult writes the trade outcome over the wizard message, falling
// back to a fresh message when there is nothing to edit.
func (f *Flows) editResult(ctx context.Context, chatID, messageID int64, text string) {
	opts := &telegram.SendOptions{ParseMode: telegram.HTML, DisableWebPagePreview: true}
	if messageID != 0 {
		if err := f.bot.EditMessageText(ctx, chatID, messageID, text, opts); err == nil {
			return
		}
	}
	if _, err := f.bot.SendMessage(ctx, chatID, text, opts); err != nil {
		f.logger.Warn("flow_result_send_error", "chat_id", chatID, "error", err.Error())
	}
}
