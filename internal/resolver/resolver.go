// Package resolver turns raw query text into media metadata: URL
// classification, cache lookup, duplicate suppression, and a bounded trip
// through the session pool.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/session"
)

// Status classifies the outcome of a resolution attempt.
type Status int

const (
	// StatusNotApplicable means the input is not an Instagram media URL.
	StatusNotApplicable Status = iota
	// StatusFound means metadata was resolved, from cache or live.
	StatusFound
	// StatusUnavailable means the input looked right but no media could be
	// produced: deleted post, exhausted pool, upstream failure.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "not_applicable"
	}
}

// Result carries the outcome. Media is non-nil exactly when Status is
// StatusFound.
type Result struct {
	Status Status
	Media  *instagram.Media
}

// Cache is the optional metadata cache consulted before any network work.
type Cache interface {
	Get(ctx context.Context, code string) (*instagram.Media, bool, error)
	Put(ctx context.Context, media *instagram.Media) error
}

// Options tunes a Resolver. Zero values pick the defaults.
type Options struct {
	// Gate bounds how many live fetches run at once across the whole
	// process, independent of pool capacity. Default 1.
	Gate int
	// FetchTimeout bounds a single live fetch. Zero means no extra bound
	// beyond the caller's context.
	FetchTimeout time.Duration
	Cache        Cache
	Logger       *slog.Logger
}

type Resolver struct {
	pool         *session.Pool
	cache        Cache
	gate         chan struct{}
	group        singleflight.Group
	fetchTimeout time.Duration
	logger       *slog.Logger
}

func New(pool *session.Pool, opts Options) *Resolver {
	if opts.Gate <= 0 {
		opts.Gate = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		pool:         pool,
		cache:        opts.Cache,
		gate:         make(chan struct{}, opts.Gate),
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
	}
}

// Resolve classifies raw and produces media metadata for it. The returned
// error is reserved for the caller's context ending; every domain outcome,
// including upstream failures, is reported through Result.Status.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Result, error) {
	code, ok := ShortcodeFromURL(raw)
	if !ok {
		return Result{Status: StatusNotApplicable}, nil
	}
	pk, err := instagram.MediaPKFromCode(code)
	if err != nil {
		return Result{Status: StatusNotApplicable}, nil
	}

	if media, ok := r.cacheGet(ctx, code); ok {
		return Result{Status: StatusFound, Media: media}, nil
	}

	// Concurrent queries for the same shortcode share one fetch.
	v, err, _ := r.group.Do(code, func() (any, error) {
		return r.fetch(ctx, code, pk)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		r.logger.Warn("resolve_failed", "code", code, "error", err.Error())
		return Result{Status: StatusUnavailable}, nil
	}
	return Result{Status: StatusFound, Media: v.(*instagram.Media)}, nil
}

func (r *Resolver) fetch(ctx context.Context, code string, pk int64) (*instagram.Media, error) {
	select {
	case r.gate <- struct{}{}:
		defer func() { <-r.gate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolver: acquire session: %w", err)
	}
	s := lease.Session()

	if err := s.EnsureValid(ctx); err != nil {
		lease.Release(err)
		return nil, fmt.Errorf("resolver: validate session: %w", err)
	}

	fetchCtx := ctx
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}
	media, err := s.FetchMedia(fetchCtx, pk)
	lease.Release(err)
	if err != nil {
		return nil, err
	}

	r.cachePut(ctx, media)
	return media, nil
}

func (r *Resolver) cacheGet(ctx context.Context, code string) (*instagram.Media, bool) {
	if r.cache == nil {
		return nil, false
	}
	media, ok, err := r.cache.Get(ctx, code)
	if err != nil {
		r.logger.Warn("cache_get_error", "code", code, "error", err.Error())
		return nil, false
	}
	return media, ok
}

func (r *Resolver) cachePut(ctx context.Context, media *instagram.Media) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(ctx, media); err != nil {
		r.logger.Warn("cache_put_error", "code", media.Code, "error", err.Error())
	}
}
