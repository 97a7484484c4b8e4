// Package agentd is the client for the agent daemon's streaming turn
// API. One POST per turn; the response body is a newline-delimited
// JSON event stream ending in a reply event.
package agentd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/copperline/stakebot/gateway"
)

// Event types on the turn stream.
const (
	eventToolExecution = "tool_execution"
	eventAskUser       = "ask_user"
	eventHumanReview   = "human_review"
	eventReply         = "reply"
	eventError         = "error"
)

type turnRequest struct {
	UserID   int64  `json:"user_id"`
	Input    string `json:"input,omitempty"`
	Action   string `json:"action,omitempty"`
	ThreadID string `json:"thread_id"`
}

type streamEvent struct {
	Type          string                 `json:"type"`
	ToolExecution *gateway.ToolEvent     `json:"tool_execution,omitempty"`
	Question      string                 `json:"question,omitempty"`
	HumanReview   *gateway.ReviewRequest `json:"human_review,omitempty"`
	Text          string                 `json:"text,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Engine runs turns for one user against the daemon, pushing stream
// events into the sinks it was built with.
type Engine struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	userID  int64
	cb      gateway.Callbacks
}

// NewFactory returns a gateway.EngineFactory bound to the daemon at
// baseURL. The zero timeout on the client is deliberate: a turn stays
// open as long as the agent works, cancellation comes from the context.
func NewFactory(baseURL, apiKey string, logger *slog.Logger) gateway.EngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimRight(baseURL, "/")
	httpClient := &http.Client{}
	return func(ctx context.Context, userID int64, cb gateway.Callbacks) (gateway.Engine, error) {
		return &Engine{
			baseURL: base,
			apiKey:  apiKey,
			http:    httpClient,
			logger:  logger,
			userID:  userID,
			cb:      cb,
		}, nil
	}
}

// Execute posts one turn and consumes the event stream until the reply.
func (e *Engine) Execute(ctx context.Context, turn gateway.Turn) (string, error) {
	body, err := json.Marshal(turnRequest{
		UserID:   e.userID,
		Input:    turn.Input,
		Action:   string(turn.Action),
		ThreadID: turn.ThreadID,
	})
	if err != nil {
		return "", fmt.Errorf("encode turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/turns", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("turn http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	reply, err := e.consume(ctx, resp.Body)
	if err != nil {
		return "", err
	}
	e.logger.Debug("agentd_turn_done", "user_id", e.userID, "thread_id", turn.ThreadID, "duration", time.Since(start).String())
	return reply, nil
}

func (e *Engine) consume(ctx context.Context, body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			e.logger.Warn("agentd_bad_event", "user_id", e.userID, "error", err.Error())
			continue
		}
		switch ev.Type {
		case eventToolExecution:
			if ev.ToolExecution != nil {
				e.cb.Execution.OnToolExecution(ctx, *ev.ToolExecution)
			}
		case eventAskUser:
			e.cb.AskUser.OnAskUser(ctx, ev.Question)
		case eventHumanReview:
			if ev.HumanReview != nil {
				e.cb.Review.OnHumanReview(ctx, *ev.HumanReview)
			}
		case eventReply:
			return ev.Text, nil
		case eventError:
			return "", fmt.Errorf("agent error: %s", ev.Error)
		default:
			e.logger.Debug("agentd_unknown_event", "type", ev.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read turn stream: %w", err)
	}
	return "", errors.New("turn stream ended without a reply")
}
