package agentd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/copperline/stakebot/gateway"
)

type recordingSinks struct {
	events    []gateway.ToolEvent
	questions []string
	reviews   []gateway.ReviewRequest
}

func (r *recordingSinks) OnToolExecution(ctx context.Context, ev gateway.ToolEvent) {
	r.events = append(r.events, ev)
}

func (r *recordingSinks) OnAskUser(ctx context.Context, question string) {
	r.questions = append(r.questions, question)
}

func (r *recordingSinks) OnHumanReview(ctx context.Context, req gateway.ReviewRequest) {
	r.reviews = append(r.reviews, req)
}

func newEngine(t *testing.T, url string) (gateway.Engine, *recordingSinks) {
	t.Helper()
	sinks := &recordingSinks{}
	factory := NewFactory(url, "key1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	engine, err := factory(context.Background(), 9, gateway.Callbacks{
		Execution: sinks, AskUser: sinks, Review: sinks,
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return engine, sinks
}

func TestExecuteDispatchesStreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/turns" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.UserID != 9 || req.Input != "swap 1 BNB to USDT" || req.ThreadID != "th1" {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprintln(w, `{"type":"tool_execution","tool_execution":{"state":"started","tool_name":"create_plan","plan":[{"title":"Fetch quote"}]}}`)
		fmt.Fprintln(w, `{"type":"ask_user","question":"Which network?"}`)
		fmt.Fprintln(w, `{"type":"human_review","human_review":{"tool_name":"swap","thread_id":"th1","swap":{"from_amount":1.5,"from_symbol":"BNB","to_amount":945.2,"to_symbol":"USDT","network":"bnb"}}}`)
		fmt.Fprintln(w, `{"type":"reply","text":"All set."}`)
	}))
	defer srv.Close()

	engine, sinks := newEngine(t, srv.URL)
	reply, err := engine.Execute(context.Background(), gateway.Turn{Input: "swap 1 BNB to USDT", ThreadID: "th1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "All set." {
		t.Fatalf("reply = %q", reply)
	}
	if len(sinks.events) != 1 || sinks.events[0].Tool != gateway.ToolCreatePlan {
		t.Fatalf("events = %+v", sinks.events)
	}
	if len(sinks.questions) != 1 || sinks.questions[0] != "Which network?" {
		t.Fatalf("questions = %v", sinks.questions)
	}
	if len(sinks.reviews) != 1 || sinks.reviews[0].Swap == nil || sinks.reviews[0].Swap.FromAmount != 1.5 {
		t.Fatalf("reviews = %+v", sinks.reviews)
	}
}

func TestExecuteSendsResumeAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Action != "reject" || req.Input != "" || req.ThreadID != "th1" {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprintln(w, `{"type":"reply","text":"Cancelled."}`)
	}))
	defer srv.Close()

	engine, _ := newEngine(t, srv.URL)
	reply, err := engine.Execute(context.Background(), gateway.Turn{Action: gateway.ActionReject, ThreadID: "th1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reply != "Cancelled." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestExecuteErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"error","error":"model unavailable"}`)
	}))
	defer srv.Close()

	engine, _ := newEngine(t, srv.URL)
	if _, err := engine.Execute(context.Background(), gateway.Turn{Input: "hi"}); err == nil {
		t.Fatal("error event did not surface")
	}
}

func TestExecuteTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"ask_user","question":"?"}`)
	}))
	defer srv.Close()

	engine, _ := newEngine(t, srv.URL)
	if _, err := engine.Execute(context.Background(), gateway.Turn{Input: "hi"}); err == nil {
		t.Fatal("missing reply did not surface")
	}
}

func TestExecuteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	engine, _ := newEngine(t, srv.URL)
	if _, err := engine.Execute(context.Background(), gateway.Turn{Input: "hi"}); err == nil {
		t.Fatal("http error did not surface")
	}
}
