package binkapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenInfoDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token/info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("address"); got != "0xabc" {
			t.Errorf("address = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key1" {
			t.Errorf("auth = %s", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"address": "0xabc", "symbol": "PEPE", "name": "Pepe",
				"price": 0.0001, "liquidity": 500000.0, "market_cap": 1000000.0,
				"renounced": true,
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key1")
	info, err := c.TokenInfo(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("TokenInfo: %v", err)
	}
	if info.Symbol != "PEPE" || info.Price != 0.0001 || !info.Renounced {
		t.Fatalf("info = %+v", info)
	}
}

func TestBuySubmitsTradeAndReturnsHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/trade/buy" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserID != 9 || req.TokenAddress != "0xabc" || req.Amount != 0.5 || req.Slippage != 0.3 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]string{"tx_hash": "0xfeed"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	txHash, err := c.Buy(context.Background(), 9, "0xabc", 0.5, 0.3)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if txHash != "0xfeed" {
		t.Fatalf("tx hash = %s", txHash)
	}
}

func TestBackendErrorCodeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 4001, "message": "insufficient balance",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.Sell(context.Background(), 9, "0xabc", 100, 30); err == nil {
		t.Fatal("backend error code did not surface")
	}
}

func TestHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.NativeBalance(context.Background(), 9); err == nil {
		t.Fatal("http error did not surface")
	}
}

func TestHoldingsDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": []map[string]any{
				{"address": "0x1", "balance": 10.0},
				{"address": "0x2", "balance": 20.0},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	holdings, err := c.Holdings(context.Background(), 9)
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(holdings) != 2 || holdings[1].Balance != 20 {
		t.Fatalf("holdings = %+v", holdings)
	}
}
