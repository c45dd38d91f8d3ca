// Package instagram talks to the private mobile API. It owns nothing but the
// wire protocol: session persistence and pooling live in other packages.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"

	"github.com/DeadLemon/reelsbot/internal/sessionfile"
)

const (
	defaultBaseURL = "https://i.instagram.com/api/v1"
	defaultTimeout = 30 * time.Second
)

// timelineReason mirrors the reasons the official client sends; a cold start
// fetch is the cheapest authenticated call that proves a session still works.
const timelineReason = "cold_start_fetch"

// Client is the capability the session layer needs from the service.
// Implementations must return *APIError for service-level failures so the
// caller can classify them.
type Client interface {
	Username() string
	State() sessionfile.State
	SetState(st sessionfile.State)
	Login(ctx context.Context) error
	Timeline(ctx context.Context) error
	MediaInfo(ctx context.Context, pk int64) (*Media, error)
}

type Options struct {
	Username string
	Password string
	ProxyURL string
	Timeout  time.Duration
	BaseURL  string
	Logger   *slog.Logger
}

// APIClient implements Client over net/http.
type APIClient struct {
	username string
	password string
	baseURL  string
	http     *http.Client
	logger   *slog.Logger

	mu    sync.Mutex
	state sessionfile.State
}

var _ Client = (*APIClient)(nil)

func NewAPIClient(opts Options) (*APIClient, error) {
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		return nil, fmt.Errorf("instagram: missing username")
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("instagram: missing password for %s", username)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL := strings.TrimSpace(opts.ProxyURL); proxyURL != "" {
		if err := configureProxy(transport, proxyURL); err != nil {
			return nil, fmt.Errorf("instagram: proxy for %s: %w", username, err)
		}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		username: username,
		password: opts.Password,
		baseURL:  baseURL,
		http:     &http.Client{Transport: transport, Timeout: timeout},
		logger:   logger.With("account", username),
	}, nil
}

func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return nil
}

func (c *APIClient) Username() string { return c.username }

func (c *APIClient) State() sessionfile.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if len(c.state.Cookies) > 0 {
		st.Cookies = make(map[string]string, len(c.state.Cookies))
		for k, v := range c.state.Cookies {
			st.Cookies[k] = v
		}
	}
	return st
}

func (c *APIClient) SetState(st sessionfile.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = st
	c.ensureIdentityLocked()
}

// ensureIdentityLocked fills in a fresh device identity when none was loaded.
// The identity is generated once and then pinned through the session file.
func (c *APIClient) ensureIdentityLocked() {
	if c.state.Username == "" {
		c.state.Username = c.username
	}
	if c.state.UUIDs.IsZero() {
		c.state.UUIDs = sessionfile.UUIDs{
			UUID:            uuid.NewString(),
			PhoneID:         uuid.NewString(),
			DeviceID:        "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
			AdvertisingID:   uuid.NewString(),
			ClientSessionID: uuid.NewString(),
		}
	}
	if c.state.Device == (sessionfile.DeviceSettings{}) {
		c.state.Device = sessionfile.DeviceSettings{
			AppVersion:     "269.0.0.18.75",
			AndroidVersion: 26,
			AndroidRelease: "8.0.0",
			Manufacturer:   "OnePlus",
			Model:          "ONEPLUS A3010",
		}
	}
}

type loginResponse struct {
	Status       string `json:"status"`
	LoggedInUser struct {
		PK       int64  `json:"pk"`
		Username string `json:"username"`
	} `json:"logged_in_user"`
}

// Login performs a full credential login and captures the resulting bearer
// token and cookies into the in-memory state.
func (c *APIClient) Login(ctx context.Context) error {
	c.mu.Lock()
	c.ensureIdentityLocked()
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), c.password))
	form.Set("guid", c.state.UUIDs.UUID)
	form.Set("phone_id", c.state.UUIDs.PhoneID)
	form.Set("device_id", c.state.UUIDs.DeviceID)
	form.Set("login_attempt_count", "0")
	c.mu.Unlock()

	body, resp, err := c.do(ctx, http.MethodPost, "/accounts/login/", form)
	if err != nil {
		return err
	}
	var out loginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return &APIError{Kind: KindClient, Status: resp.StatusCode, Message: "unparseable login response"}
	}
	if out.Status != "ok" || out.LoggedInUser.PK == 0 {
		return &APIError{Kind: KindClient, Status: resp.StatusCode, Message: "login did not yield a user"}
	}

	c.mu.Lock()
	c.state.UserID = out.LoggedInUser.PK
	c.mu.Unlock()
	c.logger.Debug("instagram_login_ok", "user_id", out.LoggedInUser.PK)
	return nil
}

// Timeline issues the lightweight authenticated probe. A nil error means the
// current session state is usable.
func (c *APIClient) Timeline(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodGet, "/feed/timeline/?reason="+timelineReason, nil)
	return err
}

type mediaInfoResponse struct {
	Status string `json:"status"`
	Items  []struct {
		PK            int64   `json:"pk"`
		Code          string  `json:"code"`
		VideoDuration float64 `json:"video_duration"`
		ViewCount     int64   `json:"view_count"`
		PlayCount     int64   `json:"play_count"`
		LikeCount     int64   `json:"like_count"`
		CommentCount  int64   `json:"comment_count"`
		VideoVersions []struct {
			URL string `json:"url"`
		} `json:"video_versions"`
		ImageVersions struct {
			Candidates []struct {
				URL string `json:"url"`
			} `json:"candidates"`
		} `json:"image_versions2"`
	} `json:"items"`
}

// MediaInfo fetches metadata for one media primary key.
func (c *APIClient) MediaInfo(ctx context.Context, pk int64) (*Media, error) {
	body, resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/media/%d/info/", pk), nil)
	if err != nil {
		return nil, err
	}
	var out mediaInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{Kind: KindClient, Status: resp.StatusCode, Message: "unparseable media response"}
	}
	if out.Status != "ok" || len(out.Items) == 0 {
		return nil, &APIError{Kind: KindNotFound, Status: resp.StatusCode, Message: "media has no items"}
	}
	item := out.Items[0]
	media := &Media{
		PK:           item.PK,
		Code:         item.Code,
		Duration:     item.VideoDuration,
		ViewCount:    item.ViewCount,
		PlayCount:    item.PlayCount,
		LikeCount:    item.LikeCount,
		CommentCount: item.CommentCount,
		MimeType:     "video/mp4",
	}
	if len(item.VideoVersions) > 0 {
		media.VideoURL = item.VideoVersions[0].URL
	}
	if len(item.ImageVersions.Candidates) > 0 {
		media.ThumbnailURL = item.ImageVersions.Candidates[0].URL
	}
	if media.VideoURL == "" {
		return nil, &APIError{Kind: KindNotFound, Status: resp.StatusCode, Message: "media has no video version"}
	}
	return media, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, form url.Values) ([]byte, *http.Response, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("instagram: %s %s: %w", method, path, err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()

	c.captureSession(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp, nil
	}
	return nil, resp, decodeAPIError(resp.StatusCode, body)
}

func (c *APIClient) applyHeaders(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureIdentityLocked()
	dev := c.state.Device
	req.Header.Set("User-Agent", fmt.Sprintf(
		"Instagram %s Android (%d/%s; %s; %s)",
		dev.AppVersion, dev.AndroidVersion, dev.AndroidRelease, dev.Manufacturer, dev.Model,
	))
	req.Header.Set("X-IG-Device-ID", c.state.UUIDs.UUID)
	req.Header.Set("X-IG-Android-ID", c.state.UUIDs.DeviceID)
	if c.state.Authorization != "" {
		req.Header.Set("Authorization", c.state.Authorization)
	}
	for name, value := range c.state.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// captureSession folds any returned bearer token and cookies into the state
// so the owning session can persist them.
func (c *APIClient) captureSession(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auth := strings.TrimSpace(resp.Header.Get("Ig-Set-Authorization")); auth != "" && !strings.HasSuffix(auth, ":") {
		c.state.Authorization = auth
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Value == "" {
			continue
		}
		if c.state.Cookies == nil {
			c.state.Cookies = make(map[string]string)
		}
		c.state.Cookies[cookie.Name] = cookie.Value
	}
}

type apiErrorBody struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	Status    string `json:"status"`
}

func decodeAPIError(status int, body []byte) error {
	var parsed apiErrorBody
	_ = json.Unmarshal(body, &parsed)
	kind := KindClient
	switch {
	case parsed.Message == "login_required" || status == http.StatusUnauthorized:
		kind = KindLoginRequired
	case parsed.Message == "challenge_required" || parsed.ErrorType == "checkpoint_challenge_required":
		kind = KindChallenge
	case parsed.ErrorType == "bad_password" || parsed.ErrorType == "invalid_user":
		kind = KindBadCredentials
	case status == http.StatusNotFound:
		kind = KindNotFound
	}
	msg := parsed.Message
	if msg == "" && parsed.ErrorType != "" {
		msg = parsed.ErrorType
	}
	return &APIError{Kind: kind, Status: status, Message: msg}
}
