// Package telegram implements the Telegram Bot API calls the monitor uses to
// reach operators: plain text messages and media groups carrying screenshot
// evidence.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DeliveryError reports a failed send to one chat. Each recipient fails
// independently; one bad chat id never blocks the rest.
type DeliveryError struct {
	ChatID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram delivery to chat %s failed: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Client for the Telegram Bot API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.telegram.org/bot" + token,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With().Str("client", "telegram").Logger(),
	}
}

// apiResponse is the Bot API envelope. Only the fields needed to judge
// success and surface the error text are decoded.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage sends a plain text message to one chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sendMessage", strings.NewReader(form.Encode()))
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err := c.do(req); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

// SendDocuments sends the given files to one chat as a single media group,
// with caption attached to the last document so it renders under the album.
// Telegram caps media groups at ten items; longer lists are sent in chunks.
func (c *Client) SendDocuments(ctx context.Context, chatID, caption string, paths []string) error {
	if len(paths) == 0 {
		return c.SendMessage(ctx, chatID, caption)
	}

	const maxGroup = 10
	for start := 0; start < len(paths); start += maxGroup {
		end := start + maxGroup
		if end > len(paths) {
			end = len(paths)
		}
		// Caption goes with the final chunk only.
		chunkCaption := ""
		if end == len(paths) {
			chunkCaption = caption
		}
		if err := c.sendMediaGroup(ctx, chatID, chunkCaption, paths[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendMediaGroup(ctx context.Context, chatID, caption string, paths []string) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	type inputMedia struct {
		Type    string `json:"type"`
		Media   string `json:"media"`
		Caption string `json:"caption,omitempty"`
	}

	media := make([]inputMedia, 0, len(paths))
	for i, path := range paths {
		name := fmt.Sprintf("file%d", i)
		m := inputMedia{Type: "document", Media: "attach://" + name}
		if i == len(paths)-1 {
			m.Caption = caption
		}
		media = append(media, m)

		f, err := os.Open(path)
		if err != nil {
			return &DeliveryError{ChatID: chatID, Err: fmt.Errorf("open attachment: %w", err)}
		}
		part, err := w.CreateFormFile(name, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return &DeliveryError{ChatID: chatID, Err: fmt.Errorf("attach %s: %w", path, err)}
		}
	}

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	if err := w.WriteField("chat_id", chatID); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	if err := w.WriteField("media", string(mediaJSON)); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	if err := w.Close(); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMediaGroup", body)
	if err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	if err := c.do(req); err != nil {
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return fmt.Errorf("API returned status %d with unreadable body: %w", resp.StatusCode, err)
	}
	if !api.OK {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, api.Description)
	}
	return nil
}
