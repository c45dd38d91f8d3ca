package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/resolver"
)

// Resolver is the piece that turns query text into media metadata.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (resolver.Result, error)
}

// Config tunes the bot. Token is required; everything else has defaults.
type Config struct {
	Token          string
	BaseURL        string
	HTTPClient     *http.Client
	PollTimeout    time.Duration
	MaxConcurrency int
	// Whitelist restricts who may query the bot; empty allows everyone.
	Whitelist []int64
	CacheTime int
	Logger    *slog.Logger
}

// Bot runs the inline-query loop: long-poll, dispatch to a bounded worker
// set, answer. Resolution failures never reach the end user as errors; the
// user just gets an empty result list.
type Bot struct {
	api         *API
	resolver    Resolver
	logger      *slog.Logger
	whitelist   map[int64]struct{}
	pollTimeout time.Duration
	cacheTime   int
	sem         chan struct{}
}

func NewBot(cfg Config, res Resolver) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: missing bot token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var whitelist map[int64]struct{}
	if len(cfg.Whitelist) > 0 {
		whitelist = make(map[int64]struct{}, len(cfg.Whitelist))
		for _, id := range cfg.Whitelist {
			whitelist[id] = struct{}{}
		}
	}
	return &Bot{
		api:         NewAPI(cfg.HTTPClient, cfg.BaseURL, cfg.Token),
		resolver:    res,
		logger:      cfg.Logger,
		whitelist:   whitelist,
		pollTimeout: cfg.PollTimeout,
		cacheTime:   cfg.CacheTime,
		sem:         make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Run polls until ctx is done, then waits for in-flight handlers to finish.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: getMe: %w", err)
	}
	b.logger.Info("bot_started", "username", me.Username, "id", me.ID)

	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, next, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPollTimeoutError(err) {
				continue
			}
			b.logger.Error("telegram_get_updates_error", "error", err.Error())
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		offset = next

		for _, u := range updates {
			if u.InlineQuery == nil {
				continue
			}
			q := u.InlineQuery

			select {
			case b.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-b.sem }()
				b.handleInlineQuery(ctx, q)
			}()
		}
	}
}

func (b *Bot) handleInlineQuery(ctx context.Context, q *InlineQuery) {
	logger := b.logger.With("query_id", q.ID)

	var results []InlineVideoResult
	if b.allowed(q.From) {
		res, err := b.resolver.Resolve(ctx, q.Query)
		if err != nil {
			// Context ended; the query is stale anyway.
			return
		}
		if res.Status == resolver.StatusFound {
			results = append(results, b.videoResult(q, res.Media))
		}
		logger.Info("inline_query_resolved", "status", res.Status.String())
	} else {
		logger.Warn("inline_query_rejected", "user_id", userID(q.From))
	}

	answerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := b.api.AnswerInlineQuery(answerCtx, q.ID, results, b.cacheTime); err != nil {
		logger.Error("telegram_answer_inline_error", "error", err.Error())
	}
}

func (b *Bot) allowed(u *User) bool {
	if b.whitelist == nil {
		return true
	}
	if u == nil {
		return false
	}
	_, ok := b.whitelist[u.ID]
	return ok
}

func (b *Bot) videoResult(q *InlineQuery, media *instagram.Media) InlineVideoResult {
	id := uuid.NewString()
	if q.From != nil && media.Code != "" {
		id = fmt.Sprintf("%d:%s", q.From.ID, media.Code)
	}
	mime := media.MimeType
	if mime == "" {
		mime = "video/mp4"
	}
	return InlineVideoResult{
		Type:          "video",
		ID:            id,
		VideoURL:      media.VideoURL,
		MimeType:      mime,
		ThumbnailURL:  media.ThumbnailURL,
		Title:         "Instagram video",
		VideoDuration: int(media.Duration),
	}
}

func userID(u *User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
