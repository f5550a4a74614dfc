// Package graph は Microsoft Graph をソースディレクトリおよび同期先 (SharePoint リスト) として扱うアダプタです。
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL は Graph v1.0 のエンドポイントです。
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	defaultScope       = "https://graph.microsoft.com/.default"
	defaultMaxRetries  = 4
	defaultRetryBase   = 500 * time.Millisecond
	maxRetryDelay      = 30 * time.Second
	maxErrorBodyLength = 64 << 10
)

// RequestObserver は API 呼び出しの結果を受け取ります。status が 0 の場合は通信エラーです。
type RequestObserver interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Credentials はクライアント資格情報フローの認証情報です。
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// TokenURL は省略時に TenantID から組み立てます。
	TokenURL string
}

// NewHTTPClient はアクセストークンを自動付与・更新する http.Client を返します。
func NewHTTPClient(ctx context.Context, creds Credentials, timeout time.Duration) *http.Client {
	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(creds.TenantID) + "/oauth2/v2.0/token"
	}
	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := cfg.Client(ctx)
	client.Timeout = timeout
	return client
}

// Options は Client の設定です。
type Options struct {
	BaseURL           string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	Observer          RequestObserver
}

// Client は Graph API 呼び出しの共通処理 (流量制限、再試行、サーキットブレーカー) を担います。
type Client struct {
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	retryBase  time.Duration
	observer   RequestObserver
}

// NewClient は Client を生成します。
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBase
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "graph",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBaseDelay,
		observer:   opts.Observer,
	}
}

// Get は path を取得し out にデコードします。
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, c.resolve(path, query), nil, out)
}

// Post は body を送信し、応答を out にデコードします。
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, c.resolve(path, nil), body, out)
}

// Patch は body を送信し、応答を out にデコードします。
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, c.resolve(path, nil), body, out)
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// listAll は @odata.nextLink を辿り全ページの要素を返します。
func listAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var all []T
	next := c.resolve(path, query)
	for next != "" {
		var p page[T]
		if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Value...)
		next = p.NextLink
	}
	return all, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		u += "?" + encodeQuery(query)
	}
	return u
}

// encodeQuery は OData のシステムクエリ ($select など) の "$" をエスケープせずに組み立てます。
func encodeQuery(query url.Values) string {
	return strings.ReplaceAll(query.Encode(), "%24", "$")
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph: encode %s %s: %w", method, rawURL, err)
		}
		payload = b
	}

	log := zerolog.Ctx(ctx)
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, method, rawURL, payload)
		if err == nil {
			return decode(resp, out)
		}

		if attempt >= c.maxRetries || !retryable(method, err) {
			return err
		}

		delay := c.backoff(attempt, err)
		log.Debug().Err(err).Str("method", method).Int("attempt", attempt+1).Dur("delay", delay).Msg("graph: retrying request")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("graph: %s %s: %w", method, rawURL, ctx.Err())
		case <-timer.C:
		}
	}
}

// attempt は 1 回分の呼び出しを行います。成功時は本文を読み終えた応答を返します。
func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("graph: rate limiter: %w", err)
	}

	var nonRetryable *APIError
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.send(ctx, method, rawURL, payload)
		if err != nil {
			return nil, err
		}
		if resp.status >= 400 {
			apiErr := newAPIError(method, rawURL, resp)
			if !apiErr.Temporary() {
				// 4xx はサービス障害ではないためブレーカーの失敗として数えない
				nonRetryable = apiErr
				return nil, nil
			}
			return nil, apiErr
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("graph: %s %s: %w", method, rawURL, err)
		}
		return nil, err
	}
	if nonRetryable != nil {
		return nil, nonRetryable
	}
	return result.(*response), nil
}

type response struct {
	status     int
	body       []byte
	retryAfter time.Duration
}

func (c *Client) send(ctx context.Context, method, rawURL string, payload []byte) (*response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("graph: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(method, 0, started)
		return nil, &transportError{method: method, url: rawURL, err: err}
	}
	defer resp.Body.Close()
	c.observe(method, resp.StatusCode, started)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &transportError{method: method, url: rawURL, err: err}
	}

	return &response{
		status:     resp.StatusCode,
		body:       body,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}, nil
}

func (c *Client) observe(method string, status int, started time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(method, status, time.Since(started))
	}
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return min(apiErr.RetryAfter, maxRetryDelay)
	}
	delay := c.retryBase << attempt
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func decode(resp *response, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("graph: decode response: %w", err)
	}
	return nil
}

// retryable は再試行してよいかを判定します。
// POST は冪等ではないため、要求が処理されなかったことが明らかな 429 のみ再試行します。
func retryable(method string, err error) bool {
	var apiErr *APIError
	if method == http.MethodPost {
		return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var tErr *transportError
	return errors.As(err, &tErr) && !errors.Is(tErr.err, context.Canceled)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type transportError struct {
	method string
	url    string
	err    error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("graph: %s %s: %v", e.method, e.url, e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}
