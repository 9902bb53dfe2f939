package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	pollTimeout    = 20 * time.Second

	// Telegram rejects messages longer than 4096 characters.
	maxMessageLen = 4096
)

// UpdateHandler receives the text of each incoming message from the
// operator chat.
type UpdateHandler func(ctx context.Context, text string)

// Client is a minimal Telegram Bot API client: sendMessage plus long
// polling on getUpdates. Sends are rate limited per Telegram's one message
// per second per chat rule.
type Client struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	limiter *rate.Limiter
	offset  int64
}

// ClientOption configures optional Client parameters.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for one bot token and operator chat.
func NewClient(token, chatID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		chatID:  chatID,
		http:    &http.Client{Timeout: pollTimeout + 15*time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ TelegramAPI = (*Client)(nil) //nolint:gochecknoglobals // compile-time check

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// SendMessage posts text to a chat, splitting it when it exceeds the
// platform limit. The ID of the last sent message is returned.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	var lastID string
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("telegram.Client.SendMessage: %w", err)
		}

		id, err := c.sendOne(ctx, chatID, chunk)
		if err != nil {
			return "", err
		}
		lastID = id
	}
	return lastID, nil
}

func (c *Client) sendOne(ctx context.Context, chatID, text string) (string, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("telegram.Client.SendMessage: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/bot"+c.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("telegram.Client.SendMessage: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram.Client.SendMessage: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("telegram.Client.SendMessage: decode: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("telegram.Client.SendMessage: api: %s", out.Description)
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(out.Result, &sent); err != nil {
		return "", fmt.Errorf("telegram.Client.SendMessage: decode result: %w", err)
	}

	return strconv.FormatInt(sent.MessageID, 10), nil
}

// Poll long-polls getUpdates and invokes the handler for every text
// message from the configured operator chat, ignoring all other chats.
// It blocks until the context is cancelled.
func (c *Client) Poll(ctx context.Context, handle UpdateHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("telegram: poll failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if strconv.FormatInt(u.Message.Chat.ID, 10) != c.chatID {
				continue
			}
			handle(ctx, u.Message.Text)
		}
	}
}

func (c *Client) getUpdates(ctx context.Context) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d",
		c.baseURL, c.token, c.offset, int(pollTimeout.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram.Client.getUpdates: request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram.Client.getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("telegram.Client.getUpdates: decode: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram.Client.getUpdates: api: %s", out.Description)
	}

	var updates []update
	if err := json.Unmarshal(out.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram.Client.getUpdates: decode result: %w", err)
	}

	return updates, nil
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
