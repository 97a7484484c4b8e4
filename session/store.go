// Package session keeps per-user wizard state between button presses.
//
// State lives in a fast key-value store (redis in production) with no
// durability requirement: losing it costs the user one extra tap. Writes
// are last-write-wins; each user drives one chat client serially, so no
// stronger guarantee is needed.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Flow names a wizard whose state is tracked independently.
type Flow string

const (
	FlowBuy  Flow = "buy"
	FlowSell Flow = "sell"
)

// State is one user's position in a wizard. Empty fields mean "not set";
// Merge treats them as absent.
type State struct {
	Mode             string `json:"mode,omitempty"`
	Amount           string `json:"amount,omitempty"`
	Percentage       string `json:"percentage,omitempty"`
	Slippage         string `json:"slippage,omitempty"`
	TokenAddress     string `json:"token_address,omitempty"`
	CustomAmount     string `json:"custom_amount,omitempty"`
	CustomPercentage string `json:"custom_percentage,omitempty"`
	UpdatedAt        int64  `json:"updated_at,omitempty"`
}

// Merge overlays the set fields of partial onto s and returns the
// result. UpdatedAt is not merged; Set stamps it.
func (s State) Merge(partial State) State {
	out := s
	if partial.Mode != "" {
		out.Mode = partial.Mode
	}
	if partial.Amount != "" {
		out.Amount = partial.Amount
	}
	if partial.Percentage != "" {
		out.Percentage = partial.Percentage
	}
	if partial.Slippage != "" {
		out.Slippage = partial.Slippage
	}
	if partial.TokenAddress != "" {
		out.TokenAddress = partial.TokenAddress
	}
	if partial.CustomAmount != "" {
		out.CustomAmount = partial.CustomAmount
	}
	if partial.CustomPercentage != "" {
		out.CustomPercentage = partial.CustomPercentage
	}
	return out
}

// PendingInput marks that the next plain message from a user is the
// answer to a follow-up prompt (custom amount or percentage), and which
// wizard message to refresh once it arrives.
type PendingInput struct {
	Kind           string `json:"kind"` // waiting_custom_amount|waiting_custom_percentage
	MessageID      int64  `json:"message_id"`
	ReplyMessageID int64  `json:"reply_message_id"`
	UpdatedAt      int64  `json:"updated_at"`
}

const (
	WaitingCustomAmount     = "waiting_custom_amount"
	WaitingCustomPercentage = "waiting_custom_percentage"
)

// KV is the minimal key-value surface the store needs. *goredis.Client
// satisfies it through redisKV; tests use an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
}

// Store reads and writes wizard state keyed by user id and flow name.
type Store struct {
	kv  KV
	now func() time.Time
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// NewRedisStore wraps a redis client in a Store.
func NewRedisStore(client *goredis.Client) *Store {
	return NewStore(redisKV{client: client})
}

func flowKey(userID int64, flow Flow) string {
	return fmt.Sprintf("user:%d:%s", userID, flow)
}

func pendingKey(userID int64) string {
	return fmt.Sprintf("user:%d:state", userID)
}

// Get returns the stored state for one user and flow, reporting whether
// any state existed.
func (s *Store) Get(ctx context.Context, userID int64, flow Flow) (State, bool, error) {
	raw, ok, err := s.kv.Get(ctx, flowKey(userID, flow))
	if err != nil {
		return State{}, false, fmt.Errorf("session get %s: %w", flow, err)
	}
	if !ok {
		return State{}, false, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, fmt.Errorf("session decode %s: %w", flow, err)
	}
	return st, true, nil
}

// Set merges partial over the stored state, stamps UpdatedAt, persists
// the result and returns it.
func (s *Store) Set(ctx context.Context, userID int64, flow Flow, partial State) (State, error) {
	cur, _, err := s.Get(ctx, userID, flow)
	if err != nil {
		return State{}, err
	}
	next := cur.Merge(partial)
	next.UpdatedAt = s.now().UnixMilli()

	raw, err := json.Marshal(next)
	if err != nil {
		return State{}, fmt.Errorf("session encode %s: %w", flow, err)
	}
	if err := s.kv.Set(ctx, flowKey(userID, flow), string(raw)); err != nil {
		return State{}, fmt.Errorf("session set %s: %w", flow, err)
	}
	return next, nil
}

// Delete removes the state for one flow, used when a transaction
// completes or a sell flow is reset.
func (s *Store) Delete(ctx context.Context, userID int64, flow Flow) error {
	if err := s.kv.Del(ctx, flowKey(userID, flow)); err != nil {
		return fmt.Errorf("session delete %s: %w", flow, err)
	}
	return nil
}

// Pending returns the input-wait marker for a user, if any.
func (s *Store) Pending(ctx context.Context, userID int64) (PendingInput, bool, error) {
	raw, ok, err := s.kv.Get(ctx, pendingKey(userID))
	if err != nil {
		return PendingInput{}, false, fmt.Errorf("session pending get: %w", err)
	}
	if !ok {
		return PendingInput{}, false, nil
	}
	var p PendingInput
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return PendingInput{}, false, fmt.Errorf("session pending decode: %w", err)
	}
	return p, true, nil
}

// SetPending records that the user's next message answers a prompt.
func (s *Store) SetPending(ctx context.Context, userID int64, p PendingInput) error {
	p.UpdatedAt = s.now().UnixMilli()
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session pending encode: %w", err)
	}
	if err := s.kv.Set(ctx, pendingKey(userID), string(raw)); err != nil {
		return fmt.Errorf("session pending set: %w", err)
	}
	return nil
}

// ClearPending drops the input-wait marker.
func (s *Store) ClearPending(ctx context.Context, userID int64) error {
	if err := s.kv.Del(ctx, pendingKey(userID)); err != nil {
		return fmt.Errorf("session pending clear: %w", err)
	}
	return nil
}

type redisKV struct {
	client *goredis.Client
}

func (r redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r redisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r redisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
