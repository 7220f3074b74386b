package bulkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/vk/orgmigrate/internal/ctxlog"
)

// DefaultAPIVersion is the data API version requests are made against.
const DefaultAPIVersion = "57.0"

// Environment is one org the tool talks to.
type Environment struct {
	Alias       string
	InstanceURL string
	AccessToken string
}

// Options tune the client.
type Options struct {
	APIVersion string
	Timeout    time.Duration
	// RateLimit is the sustained number of requests per second. Zero
	// disables throttling.
	RateLimit float64
	// HTTPClient overrides the underlying client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to a single environment.
type Client struct {
	env     Environment
	hc      *http.Client
	rc      *resty.Client
	limiter *rate.Limiter
}

// New creates a client bound to env.
func New(env Environment, opts Options) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	base := strings.TrimRight(env.InstanceURL, "/") + "/services/data/v" + opts.APIVersion
	rc := resty.NewWithClient(hc).
		SetBaseURL(base).
		SetHeader("Accept", "application/json").
		SetAuthToken(env.AccessToken)

	return &Client{env: env, hc: hc, rc: rc, limiter: limiter}
}

// Alias returns the environment alias, used in logs.
func (c *Client) Alias() string {
	return c.env.Alias
}

// Close releases idle connections.
func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}

// APIError is a non-success response from an endpoint that should have
// succeeded.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}

// send issues one throttled request. Any status is returned as is.
func (c *Client) send(ctx context.Context, method, path string, configure func(*resty.Request)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.rc.R().SetContext(ctx)
	if configure != nil {
		configure(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	ctxlog.FromContext(ctx).Debug("API call finished.",
		"env", c.env.Alias, "method", method, "path", path, "status", resp.StatusCode())
	return resp, nil
}

// call issues a request and fails on any non-2xx status.
func (c *Client) call(ctx context.Context, method, path string, configure func(*resty.Request)) (*resty.Response, error) {
	resp, err := c.send(ctx, method, path, configure)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.String(),
		}
	}
	return resp, nil
}

// callJSON issues a request and decodes a successful JSON response into out.
func (c *Client) callJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.call(ctx, method, path, func(r *resty.Request) {
		if body != nil {
			r.SetHeader("Content-Type", "application/json").SetBody(body)
		}
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.String()), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
