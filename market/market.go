// Package market declares the live-data collaborators the wizard
// screens read from: token metadata, balances, quotes and PnL. The
// implementations live behind HTTP providers; this package only fixes
// the shapes the core depends on.
package market

import "context"

// TokenInfo is the metadata one wizard screen displays.
type TokenInfo struct {
	Address   string
	Symbol    string
	Name      string
	Price     float64
	Liquidity float64
	MarketCap float64
	Renounced bool
}

// Holding is one token position in a user's wallet.
type Holding struct {
	Address string
	Balance float64
}

// PnL summarizes a user's profit and loss for one token.
type PnL struct {
	Percent      float64
	USD          float64
	TotalBuyUSD  float64
	TotalSellUSD float64
}

// Data serves the concurrent fetches a screen render needs. All calls
// are independent; renders issue them in parallel.
type Data interface {
	TokenInfo(ctx context.Context, address string) (TokenInfo, error)
	NativeBalance(ctx context.Context, userID int64) (float64, error)
	TokenBalance(ctx context.Context, userID int64, address string) (float64, error)
	Holdings(ctx context.Context, userID int64) ([]Holding, error)
	TokenPnL(ctx context.Context, userID int64, address string) (PnL, error)
	BuyQuote(ctx context.Context, address string, nativeAmount float64) (float64, error)
	SellQuote(ctx context.Context, address string, tokenAmount float64) (float64, error)
}

// Trader submits the trade a confirm screen fires. Construction,
// routing and signing happen in the provider layer.
type Trader interface {
	Buy(ctx context.Context, userID int64, token string, nativeAmount, slippage float64) (txHash string, err error)
	Sell(ctx context.Context, userID int64, token string, tokenAmount, slippage float64) (txHash string, err error)
}
