package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/pdf-word-trainer/pkg/cache"
	"github.com/smith3v/pdf-word-trainer/pkg/config"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
	"golang.org/x/time/rate"
)

type Options struct {
	// MinInterval is the minimum spacing between provider calls.
	MinInterval    time.Duration
	Backoff        time.Duration
	MaxBackoff     time.Duration
	BatchSize      int
	MaxAttempts    int
	CacheTTL       time.Duration
	RequestTimeout time.Duration
}

func OptionsFromConfig(cfg config.TranslationConfig, cacheTTL time.Duration) Options {
	return Options{
		MinInterval:    cfg.MinInterval.Duration,
		Backoff:        cfg.MinInterval.Duration,
		MaxBackoff:     cfg.MaxBackoff.Duration,
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		CacheTTL:       cacheTTL,
		RequestTimeout: cfg.RequestTimeout.Duration,
	}
}

// Gateway turns word lists into translations through a Provider. It spaces
// calls, retries throttled requests a bounded number of times and caches
// fully translated chunks.
type Gateway struct {
	provider Provider
	cache    cache.Cache
	limiter  *rate.Limiter
	opts     Options
}

func NewGateway(provider Provider, c cache.Cache, opts Options) *Gateway {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Minute
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if c == nil {
		c = cache.Noop{}
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &Gateway{
		provider: provider,
		cache:    c,
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
	}
}

// NewFromConfig builds the OpenAI-backed gateway. It fails with
// ErrMissingCredentials when no API key is configured.
func NewFromConfig(cfg config.TranslationConfig, c cache.Cache, cacheTTL time.Duration) (*Gateway, error) {
	provider, err := NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	if err != nil {
		return nil, err
	}
	return NewGateway(provider, c, OptionsFromConfig(cfg, cacheTTL)), nil
}

// TranslateBatch returns one entry per input word, in order. A nil entry means
// the word could not be translated.
func (g *Gateway) TranslateBatch(ctx context.Context, words []string, source, target string) []*string {
	return g.TranslateBatchWithContext(ctx, words, nil, source, target)
}

// TranslateBatchWithContext is TranslateBatch with a sentence hint per word.
func (g *Gateway) TranslateBatchWithContext(ctx context.Context, words []string, contexts map[string]string, source, target string) []*string {
	out := make([]*string, len(words))
	for start := 0; start < len(words); start += g.opts.BatchSize {
		end := min(start+g.opts.BatchSize, len(words))
		copy(out[start:end], g.translateChunk(ctx, words[start:end], contexts, source, target))
	}
	return out
}

func (g *Gateway) ClearCache(ctx context.Context) error {
	return g.cache.Clear(ctx)
}

func (g *Gateway) translateChunk(ctx context.Context, words []string, contexts map[string]string, source, target string) []*string {
	out := make([]*string, len(words))
	if len(words) == 0 {
		return out
	}

	key := cacheKey(words, source, target)
	if cached, ok := g.lookup(ctx, key, len(words)); ok {
		for i := range cached {
			out[i] = &cached[i]
		}
		return out
	}

	resp, err := g.complete(ctx, numberedPrompt(words, contexts, source, target))
	if err != nil {
		logger.Error("batch translation failed", "words", len(words), "target", target, "error", err)
		return out
	}

	parsed := parseNumbered(resp, len(words))
	complete := true
	for i, w := range words {
		if parsed[i] == "" {
			parsed[i] = g.translateSingle(ctx, w, contexts, source, target)
		}
		if parsed[i] == "" {
			complete = false
			continue
		}
		out[i] = &parsed[i]
	}

	if complete {
		g.store(ctx, key, parsed)
	}
	return out
}

func (g *Gateway) translateSingle(ctx context.Context, word string, contexts map[string]string, source, target string) string {
	resp, err := g.complete(ctx, singlePrompt(word, contexts, source, target))
	if err != nil {
		logger.Error("single word translation failed", "word", word, "target", target, "error", err)
		return ""
	}
	line, _, _ := strings.Cut(resp, "\n")
	return cleanTranslation(line)
}

// complete waits for the spacing limiter and calls the provider, retrying
// throttled calls with exponential backoff.
func (g *Gateway) complete(ctx context.Context, prompt Prompt) (string, error) {
	delay := g.opts.Backoff
	for attempt := 1; ; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := g.call(ctx, prompt)
		if err == nil {
			metrics.ProviderCalls.WithLabelValues("ok").Inc()
			return strings.TrimSpace(resp), nil
		}
		if !IsRateLimit(err) {
			metrics.ProviderCalls.WithLabelValues("error").Inc()
			return "", err
		}
		metrics.ProviderCalls.WithLabelValues("rate_limited").Inc()
		if attempt >= g.opts.MaxAttempts {
			metrics.RateLimitExhausted.Inc()
			return "", fmt.Errorf("%w after %d attempts: %v", ErrRateLimitExhausted, attempt, err)
		}
		metrics.RateLimitRetries.Inc()
		logger.Info("provider rate limited, backing off", "attempt", attempt, "delay", delay)
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
		if delay > 0 {
			delay = min(delay*2, g.opts.MaxBackoff)
		}
	}
}

func (g *Gateway) call(ctx context.Context, prompt Prompt) (string, error) {
	if g.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
	}
	return g.provider.Complete(ctx, prompt)
}

func (g *Gateway) lookup(ctx context.Context, key string, n int) ([]string, bool) {
	raw, ok := g.cache.Get(ctx, key)
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil || len(values) != n {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return values, true
}

func (g *Gateway) store(ctx context.Context, key string, values []string) {
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, raw, g.opts.CacheTTL); err != nil {
		logger.Error("failed to cache translations", "error", err)
	}
}

func cacheKey(words []string, source, target string) string {
	h := sha256.New()
	for _, w := range words {
		h.Write([]byte(strings.ToLower(strings.TrimSpace(w))))
		h.Write([]byte{0x1f})
	}
	fmt.Fprintf(h, "%s|%s", strings.ToLower(source), strings.ToLower(target))
	return "batch:" + hex.EncodeToString(h.Sum(nil))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsUnavailable reports whether err means the gateway could not be built at
// all, as opposed to an individual call failing.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrMissingCredentials)
}
