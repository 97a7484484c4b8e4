package flows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/copperline/stakebot/command"
	"github.com/copperline/stakebot/market"
	"github.com/copperline/stakebot/numfmt"
	"github.com/copperline/stakebot/session"
	"github.com/copperline/stakebot/telegram"
)

// BuyDetail renders the buy wizard screen. Callback params use short
// keys against the payload limit: t=token, a=amount, s=slippage.
func (f *Flows) BuyDetail(ctx context.Context, req command.Request) error {
	f.answer(ctx, req.QueryID)
	return f.renderBuyDetail(ctx, req.UserID, req.ChatID, req.MessageID, req.Params)
}

func (f *Flows) renderBuyDetail(ctx context.Context, userID, chatID, messageID int64, params map[string]string) error {
	stored, _, err := f.sessions.Get(ctx, userID, session.FlowBuy)
	if err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}

	merged := stored.Merge(session.State{
		Mode:         "swap",
		TokenAddress: params["t"],
		Amount:       params["a"],
		Slippage:     params["s"],
	})
	if merged.Amount == "" {
		merged.Amount = "X"
	}
	if merged.Slippage == "" {
		merged.Slippage = defaultBuySlippage
	}

	token := merged.TokenAddress
	if !tokenAddressRe.MatchString(token) {
		return f.sendError(ctx, chatID, msgTokenNotFound, nil)
	}

	amount, haveAmount := effectiveBuyAmount(merged)

	var (
		wg      sync.WaitGroup
		info    market.TokenInfo
		balance float64
		quote   float64
		infoErr, balErr, quoteErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		info, infoErr = f.data.TokenInfo(ctx, token)
	}()
	go func() {
		defer wg.Done()
		balance, balErr = f.data.NativeBalance(ctx, userID)
	}()
	if haveAmount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			quote, quoteErr = f.data.BuyQuote(ctx, token, amount)
		}()
	}
	wg.Wait()
	for _, err := range []error{infoErr, balErr, quoteErr} {
		if err != nil {
			return f.sendError(ctx, chatID, msgGenericError, err)
		}
	}

	text := buyDetailText(info, balance, amount, haveAmount, quote)
	markup, err := buyDetailMarkup(merged)
	if err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}
	if _, err := f.renderTo(ctx, chatID, messageID, text, markup); err != nil {
		return f.sendError(ctx, chatID, msgGenericError, err)
	}

	if _, err := f.sessions.Set(ctx, userID, session.FlowBuy, merged); err != nil {
		f.logger.Error("buy_detail_persist_error", "user_id", userID, "error", err.Error())
	}
	return nil
}

// effectiveBuyAmount resolves the spend amount: a numeric preset wins,
// "X" falls back to the stored custom amount if one was entered.
func effectiveBuyAmount(st session.State) (float64, bool) {
	raw := st.Amount
	if raw == "X" {
		raw = st.CustomAmount
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !isFinite(v) || v <= 0 {
		return 0, false
	}
	return v, true
}

func buyDetailText(info market.TokenInfo, balance, amount float64, haveAmount bool, quote float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 <b>Buy %s</b> (%s)\n", telegram.EscapeHTML(info.Symbol), telegram.EscapeHTML(info.Name))
	fmt.Fprintf(&b, "<code>%s</code>\n\n", telegram.EscapeHTML(info.Address))
	fmt.Fprintf(&b, "Price: $%s\n", numfmt.FormatSmart(info.Price))
	fmt.Fprintf(&b, "Liquidity: $%s\n", numfmt.FormatBig(info.Liquidity))
	fmt.Fprintf(&b, "Market Cap: $%s\n", numfmt.FormatBig(info.MarketCap))
	fmt.Fprintf(&b, "Renounced: %s\n\n", yesNo(info.Renounced))
	fmt.Fprintf(&b, "Wallet balance: %s %s\n", numfmt.FormatSmart(balance), nativeSymbol)
	if haveAmount {
		fmt.Fprintf(&b, "You spend: %s %s\n", numfmt.FormatSmart(amount), nativeSymbol)
		fmt.Fprintf(&b, "You receive: ~%s %s", numfmt.FormatSmart(quote), telegram.EscapeHTML(info.Symbol))
	} else {
		fmt.Fprintf(&b, "You spend: enter an amount below")
	}
	return b.String()
}

func buyDetailMarkup(st session.State) (*telegram.InlineKeyboardMarkup, error) {
	var rows [][]telegram.InlineKeyboardButton

	amounts := []string{"0.1", "0.5", "1"}
	row := make([]telegram.InlineKeyboardButton, 0, len(amounts)+1)
	for _, a := range amounts {
		data, err := command.Build(command.BuyDetail, map[string]string{"a": a})
		if err != nil {
			return nil, err
		}
		row = append(row, telegram.Button(check(st.Amount == a, a+" "+nativeSymbol), data))
	}
	customLabel := "X " + nativeSymbol + " ✏️"
	if st.Amount == "X" && st.CustomAmount != "" {
		customLabel = check(true, st.CustomAmount+" "+nativeSymbol+" ✏️")
	}
	row = append(row, telegram.Button(customLabel, command.CustomAmount))
	rows = append(rows, row)

	slippages := []string{"0.3", "0.5", "1"}
	row = make([]telegram.InlineKeyboardButton, 0, len(slippages))
	for _, s := range slippages {
		data, err := command.Build(command.BuyDetail, map[string]string{"s": s})
		if err != nil {
			return nil, err
		}
		row = append(row, telegram.Button(check(st.Slippage == s, s+"% Slippage"), data))
	}
	rows = append(rows, row)

	rows = append(rows, []telegram.InlineKeyboardButton{
		telegram.Button("🛒 Confirm Buy", command.ConfirmBuy),
	})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}, nil
}

func yesNo(v bool) string {
	if v {
		return "✅"
	}
	return "❌"
}
