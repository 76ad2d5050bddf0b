// Package shortener turns shorten requests into persisted links and resolves
// short codes back to their targets.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ndajr/shortlink/internal/core"
	"golang.org/x/sync/singleflight"
)

const (
	// clickTimeout bounds the counter update once a redirect target is known.
	clickTimeout = 3 * time.Second
	// lookupTimeout bounds a shared lookup, which no single caller can cancel.
	lookupTimeout = 5 * time.Second
	// cacheFillTimeout bounds the background cache write after a store lookup.
	cacheFillTimeout = 2 * time.Second
)

// LinkStore is the persistent mapping from short code to link record.
type LinkStore interface {
	// Insert persists l unless its code is taken, in which case it returns core.ErrDuplicateCode.
	Insert(ctx context.Context, l core.Link) (core.Link, error)
	// FindByCode returns core.ErrNotFound when no record has the code.
	FindByCode(ctx context.Context, shortCode string) (core.Link, error)
	// FindReusable returns the oldest record for longURL matching q, or core.ErrNotFound.
	FindReusable(ctx context.Context, longURL string, q core.ReuseQuery) (core.Link, error)
	// IncrementClicks atomically adds one to the counter, or returns core.ErrNotFound.
	IncrementClicks(ctx context.Context, shortCode string) error
}

// URLCache caches the long URL of a short code.
type URLCache interface {
	// GetURL returns core.ErrCacheMiss when the code is not cached.
	GetURL(ctx context.Context, shortCode string) (string, error)
	SetURL(ctx context.Context, shortCode, longURL string) error
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Logger    *slog.Logger
	Generator core.CodeGenerator
	// Cache is optional; lookups go straight to the store without it.
	Cache         URLCache
	ReuseMatch    core.ReuseMatch
	StrictClicks  bool
	ReservedCodes []string
	Now           func() time.Time
}

// Result is the outcome of a shorten request.
type Result struct {
	Link   core.Link
	Reused bool
}

// Service creates and resolves short links on top of a LinkStore.
type Service struct {
	store        LinkStore
	cache        URLCache
	gen          core.CodeGenerator
	logger       *slog.Logger
	reuse        core.ReuseQuery
	strictClicks bool
	reserved     map[string]struct{}
	now          func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewService builds a Service over store, filling unset Options with defaults.
func NewService(store LinkStore, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Generator == nil {
		opts.Generator = core.RandomGenerator{}
	}
	if opts.ReuseMatch == "" {
		opts.ReuseMatch = core.ReuseByShape
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	reserved := make(map[string]struct{}, len(opts.ReservedCodes))
	for _, code := range opts.ReservedCodes {
		reserved[code] = struct{}{}
	}

	return &Service{
		store:        store,
		cache:        opts.Cache,
		gen:          opts.Generator,
		logger:       opts.Logger,
		reuse:        opts.ReuseMatch.Query(),
		strictClicks: opts.StrictClicks,
		reserved:     reserved,
		now:          opts.Now,
	}
}

// Shorten returns the short code for longURL, creating a record unless a
// generated one can be reused. A non-empty customCode is claimed as is.
func (s *Service) Shorten(ctx context.Context, longURL, customCode string) (Result, error) {
	if err := core.ValidateLongURL(longURL); err != nil {
		return Result{}, err
	}
	if customCode != "" {
		return s.shortenCustom(ctx, longURL, customCode)
	}

	existing, err := s.store.FindReusable(ctx, longURL, s.reuse)
	if err == nil {
		return Result{Link: existing, Reused: true}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return Result{}, storageError(err)
	}

	return s.shortenGenerated(ctx, longURL)
}

func (s *Service) shortenCustom(ctx context.Context, longURL, code string) (Result, error) {
	if err := core.ValidateCustomCode(code); err != nil {
		return Result{}, err
	}
	if _, ok := s.reserved[code]; ok {
		return Result{}, conflictError(code)
	}

	// The lookup only short-circuits the common case, the insert decides.
	_, err := s.store.FindByCode(ctx, code)
	if err == nil {
		return Result{}, conflictError(code)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return Result{}, storageError(err)
	}

	link, err := s.store.Insert(ctx, s.newLink(code, longURL, true))
	if err != nil {
		if errors.Is(err, core.ErrDuplicateCode) {
			return Result{}, conflictError(code)
		}
		return Result{}, storageError(err)
	}
	return Result{Link: link}, nil
}

// shortenGenerated re-rolls until a free code is inserted. Two concurrent calls
// for the same URL may each create a code.
func (s *Service) shortenGenerated(ctx context.Context, longURL string) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, storageError(err)
		}

		code, err := s.gen.Generate()
		if err != nil {
			return Result{}, fmt.Errorf("shorten: %w", err)
		}
		if _, ok := s.reserved[code]; ok {
			continue
		}

		_, err = s.store.FindByCode(ctx, code)
		if err == nil {
			s.logger.Info("collision detected, generating a new short code", "short_code", code)
			continue
		}
		if !errors.Is(err, core.ErrNotFound) {
			return Result{}, storageError(err)
		}

		link, err := s.store.Insert(ctx, s.newLink(code, longURL, false))
		if err == nil {
			return Result{Link: link}, nil
		}
		if !errors.Is(err, core.ErrDuplicateCode) {
			return Result{}, storageError(err)
		}
		s.logger.Info("collision detected on insert, generating a new short code", "short_code", code)
	}
}

func (s *Service) newLink(code, longURL string, custom bool) core.Link {
	return core.Link{
		ShortCode: code,
		LongURL:   longURL,
		Custom:    custom,
		CreatedAt: s.now().UTC(),
	}
}

// Resolve returns the redirect target of shortCode and counts the click.
// Concurrent calls for one code share a lookup, and a caller that gives up
// leaves the others waiting on it.
//
// A failed counter update is logged and the target is still returned, unless
// the service runs with StrictClicks.
func (s *Service) Resolve(ctx context.Context, shortCode string) (string, error) {
	ch := s.group.DoChan(shortCode, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return s.loadURL(lctx, shortCode)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", storageError(ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	longURL := res.Val.(string)

	if err := s.countClick(ctx, shortCode); err != nil {
		if s.strictClicks {
			return "", err
		}
		s.logger.Error("failed to record click, redirecting anyway", "short_code", shortCode, "error", err)
	}
	return longURL, nil
}

// countClick detaches from the request context, an issued update outlives a client disconnect.
func (s *Service) countClick(ctx context.Context, shortCode string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clickTimeout)
	defer cancel()

	if err := s.store.IncrementClicks(ctx, shortCode); err != nil {
		return storageError(err)
	}
	return nil
}

func (s *Service) loadURL(ctx context.Context, shortCode string) (string, error) {
	if s.cache != nil {
		longURL, err := s.cache.GetURL(ctx, shortCode)
		if err == nil {
			return longURL, nil
		}
		if !errors.Is(err, core.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed, falling back to store", "short_code", shortCode, "error", err)
		}
	}

	link, err := s.store.FindByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", core.ErrNotFound
		}
		return "", storageError(err)
	}

	if s.cache != nil {
		s.fillCache(ctx, link)
	}
	return link.LongURL, nil
}

func (s *Service) fillCache(ctx context.Context, link core.Link) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheFillTimeout)
		defer cancel()
		if err := s.cache.SetURL(bgCtx, link.ShortCode, link.LongURL); err != nil {
			s.logger.Error("failed to update cache in background", "short_code", link.ShortCode, "error", err)
		}
	}()
}

// Lookup returns the stored record without counting a click.
func (s *Service) Lookup(ctx context.Context, shortCode string) (core.Link, error) {
	link, err := s.store.FindByCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Link{}, core.ErrNotFound
		}
		return core.Link{}, storageError(err)
	}
	return link, nil
}

// Wait blocks until background cache writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func storageError(err error) error {
	return fmt.Errorf("%w: %w", core.ErrStorage, err)
}

func conflictError(code string) error {
	return fmt.Errorf("%w: custom code '%s' is already in use, please choose another", core.ErrConflict, code)
}
