// Package binkapi is the HTTP client for the trading backend: token
// metadata, balances, quotes, PnL and trade submission.
package binkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/copperline/stakebot/market"
)

// Client implements market.Data and market.Trader.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope is the backend's uniform response wrapper. A non-zero code
// is an application-level failure regardless of HTTP status.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokenInfoData struct {
	Address   string  `json:"address"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
	MarketCap float64 `json:"market_cap"`
	Renounced bool    `json:"renounced"`
}

type balanceData struct {
	Balance float64 `json:"balance"`
}

type holdingData struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

type pnlData struct {
	Percent      float64 `json:"percent"`
	USD          float64 `json:"usd"`
	TotalBuyUSD  float64 `json:"total_buy_usd"`
	TotalSellUSD float64 `json:"total_sell_usd"`
}

type quoteData struct {
	Amount float64 `json:"amount"`
}

type tradeRequest struct {
	UserID       int64   `json:"user_id"`
	TokenAddress string  `json:"token_address"`
	Amount       float64 `json:"amount"`
	Slippage     float64 `json:"slippage"`
}

type tradeData struct {
	TxHash string `json:"tx_hash"`
}

func (c *Client) TokenInfo(ctx context.Context, address string) (market.TokenInfo, error) {
	var data tokenInfoData
	err := c.get(ctx, "/api/token/info", url.Values{"address": {address}}, &data)
	if err != nil {
		return market.TokenInfo{}, fmt.Errorf("token info: %w", err)
	}
	return market.TokenInfo{
		Address:   data.Address,
		Symbol:    data.Symbol,
		Name:      data.Name,
		Price:     data.Price,
		Liquidity: data.Liquidity,
		MarketCap: data.MarketCap,
		Renounced: data.Renounced,
	}, nil
}

func (c *Client) NativeBalance(ctx context.Context, userID int64) (float64, error) {
	var data balanceData
	err := c.get(ctx, "/api/wallet/balance", url.Values{"user_id": {formatID(userID)}}, &data)
	if err != nil {
		return 0, fmt.Errorf("native balance: %w", err)
	}
	return data.Balance, nil
}

func (c *Client) TokenBalance(ctx context.Context, userID int64, address string) (float64, error) {
	var data balanceData
	err := c.get(ctx, "/api/wallet/token-balance", url.Values{
		"user_id": {formatID(userID)},
		"address": {address},
	}, &data)
	if err != nil {
		return 0, fmt.Errorf("token balance: %w", err)
	}
	return data.Balance, nil
}

func (c *Client) Holdings(ctx context.Context, userID int64) ([]market.Holding, error) {
	var data []holdingData
	err := c.get(ctx, "/api/wallet/holdings", url.Values{"user_id": {formatID(userID)}}, &data)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	out := make([]market.Holding, 0, len(data))
	for _, h := range data {
		out = append(out, market.Holding{Address: h.Address, Balance: h.Balance})
	}
	return out, nil
}

func (c *Client) TokenPnL(ctx context.Context, userID int64, address string) (market.PnL, error) {
	var data pnlData
	err := c.get(ctx, "/api/wallet/pnl", url.Values{
		"user_id": {formatID(userID)},
		"address": {address},
	}, &data)
	if err != nil {
		return market.PnL{}, fmt.Errorf("token pnl: %w", err)
	}
	return market.PnL{
		Percent:      data.Percent,
		USD:          data.USD,
		TotalBuyUSD:  data.TotalBuyUSD,
		TotalSellUSD: data.TotalSellUSD,
	}, nil
}

func (c *Client) BuyQuote(ctx context.Context, address string, nativeAmount float64) (float64, error) {
	var data quoteData
	err := c.get(ctx, "/api/quote/buy", url.Values{
		"address": {address},
		"amount":  {formatAmount(nativeAmount)},
	}, &data)
	if err != nil {
		return 0, fmt.Errorf("buy quote: %w", err)
	}
	return data.Amount, nil
}

func (c *Client) SellQuote(ctx context.Context, address string, tokenAmount float64) (float64, error) {
	var data quoteData
	err := c.get(ctx, "/api/quote/sell", url.Values{
		"address": {address},
		"amount":  {formatAmount(tokenAmount)},
	}, &data)
	if err != nil {
		return 0, fmt.Errorf("sell quote: %w", err)
	}
	return data.Amount, nil
}

func (c *Client) Buy(ctx context.Context, userID int64, token string, nativeAmount, slippage float64) (string, error) {
	var data tradeData
	err := c.post(ctx, "/api/trade/buy", tradeRequest{
		UserID:       userID,
		TokenAddress: token,
		Amount:       nativeAmount,
		Slippage:     slippage,
	}, &data)
	if err != nil {
		return "", fmt.Errorf("buy: %w", err)
	}
	return data.TxHash, nil
}

func (c *Client) Sell(ctx context.Context, userID int64, token string, tokenAmount, slippage float64) (string, error) {
	var data tradeData
	err := c.post(ctx, "/api/trade/sell", tradeRequest{
		UserID:       userID,
		TokenAddress: token,
		Amount:       tokenAmount,
		Slippage:     slippage,
	}, &data)
	if err != nil {
		return "", fmt.Errorf("sell: %w", err)
	}
	return data.TxHash, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("backend code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
