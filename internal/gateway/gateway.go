// Package gateway is the single choke point for model calls. It caches
// successful replies by a stable payload hash, paces outgoing requests,
// retries transient failures with exponential backoff and enforces a total
// time budget per request.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Lllllllleong/companyreportflow/internal/cache"
)

// Config is the retry and pacing policy applied to every call.
type Config struct {
	MaxRetries int
	Timeout    time.Duration
	BaseWait   time.Duration
	MaxJitter  time.Duration
	PacingMin  time.Duration
	PacingMax  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		Timeout:    300 * time.Second,
		BaseWait:   2 * time.Second,
		MaxJitter:  time.Second,
		PacingMin:  500 * time.Millisecond,
		PacingMax:  2 * time.Second,
	}
}

type Gateway struct {
	cache *cache.Cache
	cfg   Config

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New returns a gateway backed by c. A nil cache disables caching.
func New(c *cache.Cache, cfg Config) *Gateway {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Gateway{
		cache:  c,
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: randomDuration,
	}
}

type invokeSettings struct {
	identifier string
	useCache   bool
	maxRetries int
	timeout    time.Duration
}

type InvokeOption func(*invokeSettings)

// WithIdentifier names the call in logs and errors, e.g. "section 3 fact critique".
func WithIdentifier(id string) InvokeOption {
	return func(s *invokeSettings) { s.identifier = id }
}

func WithoutCache() InvokeOption {
	return func(s *invokeSettings) { s.useCache = false }
}

func WithMaxRetries(n int) InvokeOption {
	return func(s *invokeSettings) { s.maxRetries = n }
}

func WithTimeout(d time.Duration) InvokeOption {
	return func(s *invokeSettings) { s.timeout = d }
}

// Invoke sends req to model and returns the reply text. An empty reply is
// returned as ("", nil) and is not cached.
func (g *Gateway) Invoke(ctx context.Context, model Model, req Request, opts ...InvokeOption) (string, error) {
	s := invokeSettings{
		identifier: "model call",
		useCache:   g.cache != nil,
		maxRetries: g.cfg.MaxRetries,
		timeout:    g.cfg.Timeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.maxRetries < 1 {
		s.maxRetries = 1
	}
	if g.cache == nil {
		s.useCache = false
	}
	logCtx := slog.With("model", model.Name(), "call", s.identifier)

	key, err := CacheKey(model.Name(), req)
	if err != nil {
		return "", fmt.Errorf("%s: failed to compute cache key: %w", s.identifier, err)
	}
	if s.useCache {
		if text, ok := g.cache.Get(key); ok {
			logCtx.Debug("Cache hit")
			return text, nil
		}
	}

	deadline := g.now().Add(s.timeout)
	if err := g.sleep(ctx, g.pacing()); err != nil {
		return "", fmt.Errorf("%s: %w", s.identifier, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			wait := g.backoff(attempt - 1)
			if !g.now().Add(wait).Before(deadline) {
				return "", fmt.Errorf("%w: %s after %d attempt(s): %v", ErrTimeout, s.identifier, attempt-1, lastErr)
			}
			logCtx.Warn("Retrying model call", "attempt", attempt, "wait", wait, "error", lastErr)
			if err := g.sleep(ctx, wait); err != nil {
				return "", fmt.Errorf("%s: %w", s.identifier, err)
			}
		}

		remaining := deadline.Sub(g.now())
		if remaining <= 0 {
			return "", fmt.Errorf("%w: %s after %d attempt(s)", ErrTimeout, s.identifier, attempt-1)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, remaining)
		reply, err := model.Generate(attemptCtx, req)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%s: %w", s.identifier, ctx.Err())
			}
			if IsRetriable(err) {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("%s: %w", s.identifier, err)
		}

		switch reply.Kind {
		case ReplyOK:
			if s.useCache {
				g.cache.Put(ctx, key, reply.Text)
			}
			return reply.Text, nil
		case ReplyEmpty:
			logCtx.Warn("Model returned no content", "reason", reply.Reason)
			return "", nil
		case ReplyBlocked:
			return "", fmt.Errorf("%s: %w", s.identifier, &BlockedError{Reason: reply.Reason})
		default:
			return "", fmt.Errorf("%s: %w: %s", s.identifier, ErrMalformedReply, reply.Reason)
		}
	}

	return "", fmt.Errorf("%s: %w", s.identifier, &RetryExhaustedError{Attempts: s.maxRetries, Err: lastErr})
}

// backoff is the wait before retry n (n >= 1): base * 2^(n-1) plus jitter.
func (g *Gateway) backoff(n int) time.Duration {
	wait := g.cfg.BaseWait << (n - 1)
	return wait + g.jitter(g.cfg.MaxJitter)
}

func (g *Gateway) pacing() time.Duration {
	if g.cfg.PacingMax <= g.cfg.PacingMin {
		return g.cfg.PacingMin
	}
	return g.cfg.PacingMin + g.jitter(g.cfg.PacingMax-g.cfg.PacingMin)
}

func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Describe renders err as the short reason embedded in error placeholders.
func Describe(err error) string {
	var blocked *BlockedError
	var exhausted *RetryExhaustedError
	switch {
	case errors.As(err, &blocked):
		return "The request was blocked: " + blocked.Reason + "."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("The model was unavailable after %d attempts.", exhausted.Attempts)
	case errors.Is(err, ErrTimeout):
		return "The request timed out."
	case errors.Is(err, ErrMalformedReply):
		return "The model returned an unreadable response."
	}
	return "Unexpected error: " + err.Error()
}
