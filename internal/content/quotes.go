package content

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NordCoder/Nudger/internal/domain/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:embed fallback.json
var fallbackJSON []byte

var ErrNoContent = errors.New("no content available")

var errCoolingDown = errors.New("quote api cooling down after a failed fetch")

var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "content_fetch_total",
	Help: "Quote API fetches by result.",
}, []string{"result"})

type Config struct {
	URL      string        `mapstructure:"url"`
	Title    string        `mapstructure:"title"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Fallback bool          `mapstructure:"fallback"`

	// After a failed fetch the API is left alone for this long.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

type Quote struct {
	Text   string `json:"q"`
	Author string `json:"a"`
}

var _ notification.ContentProvider = (*QuoteProvider)(nil)

// QuoteProvider serves a random quote per call. Quotes are fetched in batches
// and reused until the cache expires. Concurrent callers share one fetch, and
// a failed fetch is not repeated before RetryAfter.
type QuoteProvider struct {
	cfg      Config
	client   *http.Client
	fallback []Quote
	log      *zap.Logger
	now      func() time.Time
	group    singleflight.Group

	mu         sync.Mutex
	cached     []Quote
	fetchedAt  time.Time
	retryAfter time.Time
}

func NewQuoteProvider(cfg Config, log *zap.Logger) (*QuoteProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Title == "" {
		cfg.Title = "Quote of the day"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}

	var fb []Quote
	if err := json.Unmarshal(fallbackJSON, &fb); err != nil {
		return nil, fmt.Errorf("decode fallback quotes: %w", err)
	}

	return &QuoteProvider{
		cfg:      cfg,
		client:   newHTTPClient(cfg.Timeout),
		fallback: fb,
		log:      log.With(zap.String("component", "content.quotes")),
		now:      time.Now,
	}, nil
}

func (p *QuoteProvider) GetPayload(ctx context.Context) (notification.Payload, error) {
	quotes, source, err := p.quotes(ctx)
	if err != nil {
		return notification.Payload{}, err
	}
	q := quotes[rand.IntN(len(quotes))]
	return notification.Payload{
		Title: p.cfg.Title,
		Body:  fmt.Sprintf("%q - %s", q.Text, q.Author),
		Data: map[string]string{
			"quote":  q.Text,
			"author": q.Author,
			"source": source,
		},
	}, nil
}

func (p *QuoteProvider) quotes(ctx context.Context) ([]Quote, string, error) {
	if p.cfg.URL == "" {
		return p.fromFallback(nil)
	}

	p.mu.Lock()
	cached, fresh, coolingDown := p.cached, p.now().Sub(p.fetchedAt) < p.cfg.CacheTTL, p.now().Before(p.retryAfter)
	p.mu.Unlock()

	if len(cached) > 0 && fresh {
		return cached, "api", nil
	}
	if coolingDown {
		return p.stale(cached, nil)
	}

	v, err, _ := p.group.Do("quotes", func() (any, error) {
		return p.refresh(ctx)
	})
	if err != nil {
		p.mu.Lock()
		cached = p.cached
		p.mu.Unlock()
		return p.stale(cached, err)
	}
	return v.([]Quote), "api", nil
}

// refresh fetches a new batch and stores the result. The fetch outlives the
// caller's cancellation because other callers may be waiting on it.
func (p *QuoteProvider) refresh(ctx context.Context) ([]Quote, error) {
	p.mu.Lock()
	switch {
	case len(p.cached) > 0 && p.now().Sub(p.fetchedAt) < p.cfg.CacheTTL:
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	case p.now().Before(p.retryAfter):
		p.mu.Unlock()
		return nil, errCoolingDown
	}
	p.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	fetched, err := p.fetch(fctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		p.retryAfter = p.now().Add(p.cfg.RetryAfter)
		p.log.Warn("quote fetch failed", zap.Error(err), zap.Time("retry_after", p.retryAfter))
		return nil, err
	}
	fetchTotal.WithLabelValues("ok").Inc()
	p.cached, p.fetchedAt, p.retryAfter = fetched, p.now(), time.Time{}
	return fetched, nil
}

// stale serves an expired batch when there is one, the fallback otherwise.
func (p *QuoteProvider) stale(cached []Quote, cause error) ([]Quote, string, error) {
	if len(cached) > 0 {
		return cached, "api", nil
	}
	return p.fromFallback(cause)
}

func (p *QuoteProvider) fromFallback(cause error) ([]Quote, string, error) {
	if !p.cfg.Fallback || len(p.fallback) == 0 {
		if cause == nil {
			return nil, "", ErrNoContent
		}
		return nil, "", fmt.Errorf("%w: %w", ErrNoContent, cause)
	}
	return p.fallback, "fallback", nil
}

func (p *QuoteProvider) fetch(ctx context.Context) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("get quotes: status %d", resp.StatusCode)
	}

	var raw []Quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}

	out := raw[:0]
	for _, q := range raw {
		q.Text, q.Author = strings.TrimSpace(q.Text), strings.TrimSpace(q.Author)
		if q.Text == "" {
			continue
		}
		if q.Author == "" {
			q.Author = "Unknown"
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, errors.New("quote api returned no quotes")
	}
	return out, nil
}
