// Package telegram is a thin client for the pieces of the Bot API the
// bot uses: long-poll updates, message send/edit/delete and callback
// query answering.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender is the transport surface handlers and sinks depend on. *API
// implements it; tests swap in a fake.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, queryID string) error
}

type API struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewAPI(httpClient *http.Client, baseURL, token string) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (api *API) GetMe(ctx context.Context) (*User, error) {
	var out getMeResponse
	if err := api.call(ctx, "getMe", nil, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getMe: ok=false")
	}
	return &out.Result, nil
}

// GetUpdates long-polls for updates past offset and returns them along
// with the next offset to poll from.
func (api *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	req := map[string]any{
		"offset":          offset,
		"timeout":         secs,
		"allowed_updates": []string{"message", "edited_message", "callback_query"},
	}
	var out getUpdatesResponse
	if err := api.call(ctx, "getUpdates", req, &out); err != nil {
		return nil, offset, err
	}
	if !out.OK {
		return nil, offset, fmt.Errorf("telegram getUpdates: ok=false")
	}
	next := offset
	for _, u := range out.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

// SendMessage sends text to a chat and returns the new message id.
func (api *API) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if opts != nil {
		req.ParseMode = opts.ParseMode
		req.DisableWebPagePreview = opts.DisableWebPagePreview
		req.ReplyMarkup = opts.ReplyMarkup
	}
	var out sendMessageResponse
	if err := api.call(ctx, "sendMessage", req, &out); err != nil {
		return 0, err
	}
	if !out.OK || out.Result == nil {
		return 0, fmt.Errorf("telegram sendMessage: ok=false")
	}
	return out.Result.MessageID, nil
}

// EditMessageText rewrites a previously sent message in place.
func (api *API) EditMessageText(ctx context.Context, chatID, messageID int64, text string, opts *SendOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(empty)"
	}
	req := editMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text}
	if opts != nil {
		req.ParseMode = opts.ParseMode
		req.DisableWebPagePreview = opts.DisableWebPagePreview
		req.ReplyMarkup = opts.ReplyMarkup
	}
	var out boolResponse
	if err := api.call(ctx, "editMessageText", req, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram editMessageText: ok=false")
	}
	return nil
}

func (api *API) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	req := deleteMessageRequest{ChatID: chatID, MessageID: messageID}
	var out boolResponse
	if err := api.call(ctx, "deleteMessage", req, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram deleteMessage: ok=false")
	}
	return nil
}

// AnswerCallbackQuery clears the loading spinner on a tapped button.
func (api *API) AnswerCallbackQuery(ctx context.Context, queryID string) error {
	req := answerCallbackQueryRequest{CallbackQueryID: queryID}
	var out boolResponse
	if err := api.call(ctx, "answerCallbackQuery", req, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram answerCallbackQuery: ok=false")
	}
	return nil
}

func (api *API) call(ctx context.Context, method string, body, out any) error {
	url := fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token, method)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telegram %s: encode: %w", method, err)
		}
		reader = bytes.NewReader(b)
	}
	httpMethod := http.MethodPost
	if body == nil {
		httpMethod = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := api.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	return nil
}
