package claims

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// WithdrawalRequest is one on-chain position eligible for claiming.
type WithdrawalRequest struct {
	ID          *big.Int
	Amount      *big.Int
	RequestTime time.Time
}

// ContractGateway is the on-chain surface the worker needs. The fake in
// tests stands in for PoolGateway.
type ContractGateway interface {
	WithdrawalRequests(ctx context.Context, owner common.Address) ([]WithdrawalRequest, error)
	SubmitClaim(ctx context.Context, key *ecdsa.PrivateKey, requestID *big.Int) (txHash string, err error)
}

const poolABIJSON = `[
	{"name":"getUserWithdrawalRequests","type":"function","stateMutability":"view",
	 "inputs":[{"name":"_user","type":"address"}],
	 "outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"id","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"startTime","type":"uint256"}]}]},
	{"name":"claimWithdraw","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"_id","type":"uint256"}],"outputs":[]}
]`

// PoolGateway talks to the staking pool contract over JSON-RPC.
type PoolGateway struct {
	client       *ethclient.Client
	contract     common.Address
	abi          abi.ABI
	waitTimeout  time.Duration
	pollInterval time.Duration
}

func NewPoolGateway(ctx context.Context, rpcURL, contractAddr string) (*PoolGateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &PoolGateway{
		client:       client,
		contract:     common.HexToAddress(contractAddr),
		abi:          parsed,
		waitTimeout:  3 * time.Minute,
		pollInterval: 3 * time.Second,
	}, nil
}

func (g *PoolGateway) Close() { g.client.Close() }

// WithdrawalRequests reads the user's currently withdrawable positions.
func (g *PoolGateway) WithdrawalRequests(ctx context.Context, owner common.Address) ([]WithdrawalRequest, error) {
	data, err := g.abi.Pack("getUserWithdrawalRequests", owner)
	if err != nil {
		return nil, fmt.Errorf("pack withdrawal query: %w", err)
	}
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getUserWithdrawalRequests: %w", err)
	}

	var decoded []struct {
		Id        *big.Int
		Amount    *big.Int
		StartTime *big.Int
	}
	if err := g.abi.UnpackIntoInterface(&decoded, "getUserWithdrawalRequests", raw); err != nil {
		return nil, fmt.Errorf("decode withdrawal requests: %w", err)
	}

	out := make([]WithdrawalRequest, 0, len(decoded))
	for _, d := range decoded {
		out = append(out, WithdrawalRequest{
			ID:          d.Id,
			Amount:      d.Amount,
			RequestTime: time.Unix(d.StartTime.Int64(), 0),
		})
	}
	return out, nil
}

// SubmitClaim signs and broadcasts claimWithdraw(id) and waits for the
// receipt. A reverted transaction is an error.
func (g *PoolGateway) SubmitClaim(ctx context.Context, key *ecdsa.PrivateKey, requestID *big.Int) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := g.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("read chain id: %w", err)
	}
	data, err := g.abi.Pack("claimWithdraw", requestID)
	if err != nil {
		return "", fmt.Errorf("pack claimWithdraw: %w", err)
	}

	msg := ethereum.CallMsg{From: from, To: &g.contract, Data: data}
	gasLimit, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	tipCap, err := g.client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(1_000_000_000)
	}
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("fetch latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &g.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.waitTimeout)
	defer cancel()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := g.client.TransactionReceipt(waitCtx, signed.Hash())
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return signed.Hash().Hex(), nil
			}
			return "", errors.New("claim transaction reverted on-chain")
		}
		select {
		case <-waitCtx.Done():
			return "", fmt.Errorf("wait for claim receipt: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
}
