package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/market"
	"github.com/copperline/stakebot/numfmt"
	"github.com/copperline/stakebot/session"
	"github.com/copperline/stakebot/telegram"
)

// SellDetail renders the sell wizard screen. Short param keys:
// t=token prefix, p=percentage, s=slippage.
func (f *Flows) SellDetail(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)
	return f.renderSellDetail(ctx, req.UserID, req.ChatID, req.MessageID, req.Params)
}

func (f *Flows) renderSellDetail(ctx context.Context, userID, chatID, messageID int64, params map[string]string) error {
	stored, _, err := f.sessions.Get(ctx, userID, session.FlowSell)
	if err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}

	merged := stored.Merge(session.State{
		Mode:         "swap",
		TokenAddress: params["t"],
		Percentage:   params["p"],
		Slippage:     params["s"],
	})
	if merged.Percentage == "" {
		merged.Percentage = defaultSellPct
	}
	if merged.Slippage == "" {
		merged.Slippage = defaultSellSlip
	}

	holdings, err := f.data.Holdings(ctx, userID)
	if err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}
	holding, ok := resolveToken(merged.TokenAddress, holdings)
	if !ok {
		// Abort without persisting so a typo does not poison the flow.
		return f.sendError(ctx, chatID, msgTokenNotFound, nil)
	}
	merged.TokenAddress = holding.Address

	pct, _ := strconv.ParseFloat(merged.Percentage, 64)
	sellAmount := sellQuantity(holding.Balance, merged.Percentage)

	var (
		wg       sync.WaitGroup
		info     market.TokenInfo
		pnl      market.PnL
		quote    float64
		infoErr, pnlErr, quoteErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		info, infoErr = f.data.TokenInfo(ctx, holding.Address)
	}()
	go func() {
		defer wg.Done()
		pnl, pnlErr = f.data.TokenPnL(ctx, userID, holding.Address)
	}()
	go func() {
		defer wg.Done()
		quote, quoteErr = f.data.SellQuote(ctx, holding.Address, sellAmount)
	}()
	wg.Wait()
	for _, err := range []error{infoErr, pnlErr, quoteErr} {
		if err != nil {
			return f.sendError(ctx, chatID, msgGenericError, err)
		}
	}

	text := sellDetailText(info, holding, pct, sellAmount, quote, pnl)
	markup, err := sellDetailMarkup(merged)
	if err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}
	if _, err := f.renderTo(ctx, chatID, messageID, text, markup); err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}

	if _, err := f.sessions.Set(ctx, userID, session.FlowSell, merged); err != nil {
		f.logger.Error("sell_detail_persist_error", "user_id", userID, "error", err.Error())
	}
	return nil
}

// sellQuantity computes balance × percentage/100 on exact decimals so
// percentage strings like "33" do not pick up float drift.
func sellQuantity(balance float64, percentage string) float64 {
	pct, err := decimal.NewFromString(percentage)
	if err != nil {
		return 0
	}
	qty := decimal.NewFromFloat(balance).Mul(pct).Div(decimal.NewFromInt(100))
	v, _ := qty.Float64()
	return v
}

func sellDetailText(info market.TokenInfo, holding market.Holding, pct, sellAmount, quote float64, pnl market.PnL) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💰 <b>Sell %s</b> (%s)\n", telegram.EscapeHTML(info.Symbol), telegram.EscapeHTML(info.Name))
	fmt.Fprintf(&b, "<code>%s</code>\n\n", telegram.EscapeHTML(info.Address))
	fmt.Fprintf(&b, "Price: $%s\n", numfmt.FormatSmart(info.Price))
	fmt.Fprintf(&b, "Position: %s %s\n", numfmt.FormatSmart(holding.Balance), telegram.EscapeHTML(info.Symbol))
	fmt.Fprintf(&b, "PnL: %s%% ($%s)\n\n", numfmt.FormatSmart(pnl.Percent), numfmt.FormatSmart(pnl.USD))
	fmt.Fprintf(&b, "You sell: %s %s (%s%%)\n", numfmt.FormatSmart(sellAmount), telegram.EscapeHTML(info.Symbol), numfmt.FormatSmart(pct))
	fmt.Fprintf(&b, "You receive: ~%s %s", numfmt.FormatSmart(quote), nativeSymbol)
	return b.String()
}

func sellDetailMarkup(st session.State) (*telegram.InlineKeyboardMarkup, error) {
	var rows [][]telegram.InlineKeyboardButton

	percents := []string{"25", "50", "75", "100"}
	row := make([]telegram.InlineKeyboardButton, 0, len(percents)+1)
	for _, p := range percents {
		data, err := command.Build(command.SellDetail, map[string]string{"p": p})
		if err != nil {
			return nil, err
		}
		row = append(row, telegram.Button(check(st.Percentage == p, p+"%"), data))
	}
	customLabel := "X% ✏️"
	if st.CustomPercentage != "" && st.Percentage == st.CustomPercentage {
		customLabel = check(true, st.CustomPercentage+"% ✏️")
	}
	row = append(row, telegram.Button(customLabel, command.CustomPercentage))
	rows = append(rows, row)

	slippages := []string{"10", "30", "50"}
	row = make([]telegram.InlineKeyboardButton, 0, len(slippages))
	for _, s := range slippages {
		data, err := command.Build(command.SellDetail, map[string]string{"s": s})
		if err != nil {
			return nil, err
		}
		row = append(row, telegram.Button(check(st.Slippage == s, s+"% Slippage"), data))
	}
	rows = append(rows, row)

	rows = append(rows, []telegram.InlineKeyboardButton{
		telegram.Button("💰 Confirm Sell", command.ConfirmSell),
	})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
}
