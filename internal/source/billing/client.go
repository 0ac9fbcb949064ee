// Package billing reads customers, subscriptions and invoices from a
// Chargebee-style subscription billing API.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/faciam-dev/cssync/internal/registry"
	"github.com/faciam-dev/cssync/internal/source"
	"github.com/faciam-dev/cssync/pkg/metrics"
)

// endpoints maps entity types onto list endpoints. The response wraps each
// item in an object keyed by the entity type.
var endpoints = map[string]string{
	"customer":     "customers",
	"subscription": "subscriptions",
	"invoice":      "invoices",
}

// EntityTypes returns the entity types the client can fetch.
func EntityTypes() []string {
	return []string{"customer", "subscription", "invoice"}
}

// Client is the billing source adapter.
type Client struct {
	http       *resty.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	pageSize   int
	maxPages   int
	useSince   bool
	maxRetries uint64
	initial    time.Duration
	logger     *zap.SugaredLogger
}

var _ source.Adapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the list page size (1..100).
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= 100 {
			c.pageSize = n
		}
	}
}

// WithMaxPages stops pagination after n pages; zero means unlimited.
func WithMaxPages(n int) Option {
	return func(c *Client) { c.maxPages = n }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithRetry sets the retry budget for throttled and failed requests.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if initial > 0 {
			c.initial = initial
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithSinceFilter asks the provider to return only items updated after the
// since hint.
func WithSinceFilter(on bool) Option {
	return func(c *Client) { c.useSince = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// BaseURL returns the API root of a site.
func BaseURL(site string) string {
	return fmt.Sprintf("https://%s.chargebee.com/api/v2", site)
}

// New returns a client for baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetBasicAuth(apiKey, "").
			SetHeader("Accept", "application/json").
			SetTimeout(30 * time.Second),
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
		pageSize:   100,
		maxRetries: 5,
		initial:    500 * time.Millisecond,
		logger:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "billing",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Infow("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Fetch lists every item of entityType, following next_offset.
func (c *Client) Fetch(ctx context.Context, entityType string, since *time.Time) ([]source.Entity, error) {
	path, ok := endpoints[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnsupportedEntity, entityType)
	}
	params := map[string]string{"limit": strconv.Itoa(c.pageSize)}
	if c.useSince && since != nil {
		params["updated_at[after]"] = strconv.FormatInt(since.Unix()-1, 10)
	}

	var out []source.Entity
	for page := 1; ; page++ {
		body, err := c.get(ctx, entityType, "/"+path, params)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		list := doc.Get("list")
		if !list.IsArray() {
			metrics.FetchErrors.WithLabelValues(string(registry.KindBilling), string(source.ErrProtocol)).Inc()
			return nil, c.fail(entityType, source.ErrProtocol, errors.New("response has no list"))
		}
		for _, item := range list.Array() {
			obj, ok := item.Get(entityType).Value().(map[string]any)
			if !ok {
				c.logger.Warnw("skipping item without envelope", "entity", entityType)
				continue
			}
			out = append(out, source.Entity(obj))
		}
		next := doc.Get("next_offset").String()
		if next == "" {
			break
		}
		if c.maxPages > 0 && page >= c.maxPages {
			c.logger.Warnw("page limit reached", "entity", entityType, "pages", page)
			break
		}
		params["offset"] = next
	}
	c.logger.Debugw("fetched", "entity", entityType, "count", len(out))
	return out, nil
}

type statusError struct{ code int }

func (e statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (c *Client) get(ctx context.Context, entity, path string, params map[string]string) ([]byte, error) {
	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(c.fail(entity, source.ErrUnreachable, err))
		}
		res, err := c.breaker.Execute(func() (any, error) {
			resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get(path)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode() >= 500 {
				return nil, statusError{resp.StatusCode()}
			}
			return resp, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(c.fail(entity, source.ErrUnreachable, err))
		}
		if err != nil {
			return c.fail(entity, source.ErrUnreachable, err)
		}
		resp := res.(*resty.Response)
		switch code := resp.StatusCode(); {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return backoff.Permanent(c.fail(entity, source.ErrAuth, statusError{code}))
		case code == http.StatusTooManyRequests:
			return c.fail(entity, source.ErrUnreachable, statusError{code})
		case code >= 300:
			return backoff.Permanent(c.fail(entity, source.ErrProtocol, statusError{code}))
		}
		body = resp.Body()
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initial
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warnw("retrying billing request", "entity", entity, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		var se *source.Error
		if !errors.As(err, &se) {
			se = c.fail(entity, source.ErrUnreachable, err)
		}
		metrics.FetchErrors.WithLabelValues(string(registry.KindBilling), string(se.Kind)).Inc()
		return nil, se
	}
	return body, nil
}

func (c *Client) fail(entity string, kind source.ErrorKind, err error) *source.Error {
	return &source.Error{Source: registry.KindBilling, Kind: kind, Entity: entity, Err: err}
}
