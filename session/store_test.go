package session

import (
	"context"
	"errors"
	"testing"
)

type memKV struct {
	data map[string]string
	err  error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (m *memKV) Get(ctx context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Del(ctx context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestSetMergesOverPrevious(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemKV())

	first, err := store.Set(ctx, 1, FlowSell, State{Mode: "swap", Percentage: "50", Slippage: "30"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if first.UpdatedAt == 0 {
		t.Error("Set did not stamp UpdatedAt")
	}

	second, err := store.Set(ctx, 1, FlowSell, State{Percentage: "100"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if second.Percentage != "100" || second.Mode != "swap" || second.Slippage != "30" {
		t.Fatalf("merge result = %+v", second)
	}
}

func TestMergeAssociative(t *testing.T) {
	ctx := context.Background()
	a := State{Mode: "swap", Percentage: "50", Slippage: "30"}
	b := State{Percentage: "100", TokenAddress: "0xabc"}

	sequential := NewStore(newMemKV())
	if _, err := sequential.Set(ctx, 1, FlowSell, a); err != nil {
		t.Fatal(err)
	}
	got, err := sequential.Set(ctx, 1, FlowSell, b)
	if err != nil {
		t.Fatal(err)
	}

	combined := NewStore(newMemKV())
	want, err := combined.Set(ctx, 1, FlowSell, a.Merge(b))
	if err != nil {
		t.Fatal(err)
	}

	got.UpdatedAt, want.UpdatedAt = 0, 0
	if got != want {
		t.Fatalf("set(A);set(B) = %+v, set(merge(A,B)) = %+v", got, want)
	}
}

func TestGetMissing(t *testing.T) {
	store := NewStore(newMemKV())
	_, ok, err := store.Get(context.Background(), 9, FlowBuy)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get reported state for an unknown user")
	}
}

func TestDeleteRemovesFlowOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemKV())
	if _, err := store.Set(ctx, 1, FlowBuy, State{Amount: "0.5"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Set(ctx, 1, FlowSell, State{Percentage: "50"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, 1, FlowBuy); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(ctx, 1, FlowBuy); ok {
		t.Error("buy state survived delete")
	}
	if _, ok, _ := store.Get(ctx, 1, FlowSell); !ok {
		t.Error("sell state was deleted too")
	}
}

func TestPendingRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemKV())

	if _, ok, _ := store.Pending(ctx, 1); ok {
		t.Fatal("pending reported before SetPending")
	}
	err := store.SetPending(ctx, 1, PendingInput{Kind: WaitingCustomPercentage, MessageID: 10, ReplyMessageID: 11})
	if err != nil {
		t.Fatalf("SetPending: %v", err)
	}
	p, ok, err := store.Pending(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Pending: ok=%v err=%v", ok, err)
	}
	if p.Kind != WaitingCustomPercentage || p.MessageID != 10 || p.ReplyMessageID != 11 {
		t.Fatalf("pending = %+v", p)
	}
	if err := store.ClearPending(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Pending(ctx, 1); ok {
		t.Fatal("pending survived clear")
	}
}

func TestStoreErrorPropagates(t *testing.T) {
	kv := newMemKV()
	kv.err = errors.New("connection refused")
	store := NewStore(kv)
	if _, _, err := store.Get(context.Background(), 1, FlowBuy); err == nil {
		t.Fatal("store outage did not propagate")
	}
	if _, err := store.Set(context.Background(), 1, FlowBuy, State{Mode: "swap"}); err == nil {
		t.Fatal("store outage did not propagate from Set")
	}
}
