// Package telegram is the bot's transport: a minimal Bot API client plus the
// long-poll loop that turns inline queries into answers.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

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

type Update struct {
	UpdateID    int64        `json:"update_id"`
	InlineQuery *InlineQuery `json:"inline_query,omitempty"`
}

type InlineQuery struct {
	ID     string `json:"id"`
	From   *User  `json:"from,omitempty"`
	Query  string `json:"query"`
	Offset string `json:"offset,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type getUpdatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

type getMeResponse struct {
	OK     bool `json:"ok"`
	Result User `json:"result"`
}

type okResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (api *API) GetMe(ctx context.Context) (*User, error) {
	url := fmt.Sprintf("%s/bot%s/getMe", api.baseURL, api.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out getMeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getMe: ok=false")
	}
	return &out.Result, nil
}

// GetUpdates long-polls for inline queries only and returns the updates with
// the next offset to acknowledge them.
func (api *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("timeout", fmt.Sprintf("%d", secs))
	q.Set("allowed_updates", `["inline_query"]`)
	if offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", offset))
	}
	url := fmt.Sprintf("%s/bot%s/getUpdates?%s", api.baseURL, api.token, q.Encode())

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, offset, err
	}
	resp, err := api.http.Do(req)
	if err != nil {
		return nil, offset, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, offset, fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out getUpdatesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
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

// InlineVideoResult is an InlineQueryResultVideo payload.
type InlineVideoResult struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	VideoURL      string `json:"video_url"`
	MimeType      string `json:"mime_type"`
	ThumbnailURL  string `json:"thumbnail_url"`
	Title         string `json:"title"`
	Caption       string `json:"caption,omitempty"`
	VideoDuration int    `json:"video_duration,omitempty"`
}

type answerInlineQueryRequest struct {
	InlineQueryID string              `json:"inline_query_id"`
	Results       []InlineVideoResult `json:"results"`
	CacheTime     int                 `json:"cache_time,omitempty"`
	IsPersonal    bool                `json:"is_personal,omitempty"`
}

// AnswerInlineQuery responds to an inline query. An empty results slice is a
// valid answer and clears the client's loading state. Answers are always
// personal: results depend on who asked, so Telegram must not serve them to
// other users from its shared cache.
func (api *API) AnswerInlineQuery(ctx context.Context, queryID string, results []InlineVideoResult, cacheTime int) error {
	if results == nil {
		results = []InlineVideoResult{}
	}
	body, err := json.Marshal(answerInlineQueryRequest{
		InlineQueryID: queryID,
		Results:       results,
		CacheTime:     cacheTime,
		IsPersonal:    true,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/answerInlineQuery", api.baseURL, api.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out okResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram answerInlineQuery: %d %s", out.ErrorCode, out.Description)
	}
	return nil
}

func isPollTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}
