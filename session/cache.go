package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultMaxAge      = 60 * time.Second
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/53.0.2785.143 Safari/537.36"

	maxBodySize = 8 << 20
)

// Errors returned by Cache.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTimeout              = errors.New("request timed out")
	ErrTransport            = errors.New("transport error")
	ErrStatus               = errors.New("unexpected status")
)

// Config describes how to log into a site and how to talk to it.
type Config struct {
	LoginURL   string
	LoginData  url.Values
	TestURL    string
	TestString string
	// MaxAge is how long a persisted session is trusted without a new login.
	MaxAge    time.Duration
	UserAgent string
	Timeout   time.Duration
	// MaxAttempts bounds tries per request on transport errors and 5xx.
	MaxAttempts int
	RetryDelay  time.Duration
	// RatePerSecond limits requests across all goroutines. Zero disables it.
	RatePerSecond float64
}

func (c *Config) setDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// Page is a fetched and decoded response.
type Page struct {
	StatusCode int
	Body       string
	Encoding   string
}

// Cache holds one site session. It can be used without login for public
// pages; after Login succeeds every request re-persists the session.
type Cache struct {
	cfg     Config
	store   Store
	key     string
	origin  *url.URL
	limiter *rate.Limiter
	now     func() time.Time

	mu            sync.Mutex
	jar           *recordingJar
	client        *retryablehttp.Client
	authenticated bool
}

// New creates a Cache. store may be nil when the session need not survive
// the process.
func New(cfg Config, store Store) (*Cache, error) {
	cfg.setDefaults()
	c := &Cache{cfg: cfg, store: store, now: time.Now}
	if cfg.LoginURL != "" {
		u, err := url.Parse(cfg.LoginURL)
		if err != nil {
			return nil, fmt.Errorf("parse login url: %w", err)
		}
		c.origin = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
		c.key = u.Host
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	c.jar = newRecordingJar(c.now)
	c.client = c.newClient(c.jar)
	return c, nil
}

// Key is the store key of the session, the site host.
func (c *Cache) Key() string {
	return c.key
}

// newClient builds the retrying client over jar. Transport errors and 5xx
// responses are retried up to MaxAttempts with a linear backoff; every
// attempt waits on the shared limiter. Each client owns its transport since
// a failed request closes the client's idle connections.
func (c *Cache) newClient(jar http.CookieJar) *retryablehttp.Client {
	var transport http.RoundTripper = cleanhttp.DefaultPooledTransport()
	if c.limiter != nil {
		transport = &limitedTransport{base: transport, limiter: c.limiter}
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Jar: jar, Timeout: c.cfg.Timeout, Transport: transport}
	rc.RetryMax = c.cfg.MaxAttempts - 1
	rc.RetryWaitMin = c.cfg.RetryDelay
	rc.RetryWaitMax = c.cfg.RetryDelay * time.Duration(c.cfg.MaxAttempts)
	rc.CheckRetry = retryPolicy
	rc.Backoff = linearBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			slog.Warn("session: retrying request", "url", req.URL.String(), "attempt", attempt+1)
		}
	}
	return rc
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return resp.StatusCode >= http.StatusInternalServerError, nil
}

func linearBackoff(minWait, maxWait time.Duration, attempt int, _ *http.Response) time.Duration {
	return min(minWait*time.Duration(attempt+1), maxWait)
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// Login restores a recent persisted session or logs in anew, then verifies
// the session against the test page.
func (c *Cache) Login(ctx context.Context, force bool) error {
	if c.origin == nil {
		return fmt.Errorf("%w: no login url configured", ErrAuthenticationFailed)
	}

	fromCache := false
	if !force && c.store != nil {
		fromCache = c.restore()
	}

	if !fromCache {
		jar := newRecordingJar(c.now)
		c.mu.Lock()
		c.jar = jar
		c.client = c.newClient(jar)
		c.authenticated = false
		c.mu.Unlock()

		if _, err := c.do(ctx, http.MethodPost, c.cfg.LoginURL, c.cfg.LoginData); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if err := c.save(); err != nil {
			return err
		}
		slog.Info("session: created new session with login", "host", c.key)
	}

	page, err := c.do(ctx, http.MethodGet, c.cfg.TestURL, nil)
	if err != nil {
		return fmt.Errorf("verify login: %w", err)
	}
	if !strings.Contains(strings.ToLower(page.Body), strings.ToLower(c.cfg.TestString)) {
		return fmt.Errorf("%w: %s did not show %q", ErrAuthenticationFailed, c.cfg.TestURL, c.cfg.TestString)
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	return nil
}

// restore loads the persisted session when it is younger than MaxAge.
func (c *Cache) restore() bool {
	mod, err := c.store.LastModified(c.key)
	if err != nil {
		return false
	}
	age := c.now().Sub(mod)
	if age >= c.cfg.MaxAge {
		return false
	}
	sess, err := c.store.Load(c.key)
	if err != nil {
		slog.Warn("session: load cached session", "host", c.key, "error", err)
		return false
	}

	jar := newRecordingJar(c.now)
	jar.load(c.origin, sess.Cookies)

	c.mu.Lock()
	c.jar = jar
	c.client = c.newClient(jar)
	c.mu.Unlock()
	slog.Info("session: loaded session from cache", "host", c.key, "age", age.Round(time.Second))
	return true
}

func (c *Cache) save() error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := &Session{Origin: c.origin.String(), Cookies: c.jar.snapshot()}
	if err := c.store.Save(c.key, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RetrieveContent fetches a page with the held session. After login the
// session is persisted again since the site may rotate cookies.
func (c *Cache) RetrieveContent(ctx context.Context, method, rawURL string, form url.Values) (*Page, error) {
	page, err := c.do(ctx, method, rawURL, form)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	authenticated := c.authenticated
	c.mu.Unlock()
	if authenticated {
		if err := c.save(); err != nil {
			slog.Warn("session: persist after request", "host", c.key, "error", err)
		}
	}
	return page, nil
}

// Fetch returns the decoded body of a 200 response.
func (c *Cache) Fetch(ctx context.Context, method, rawURL string, form url.Values) (string, error) {
	page, err := c.RetrieveContent(ctx, method, rawURL, form)
	if err != nil {
		return "", err
	}
	if page.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s %s: %d", ErrStatus, method, rawURL, page.StatusCode)
	}
	return page.Body, nil
}

// do sends a request through the retrying client and decodes the body.
func (c *Cache) do(ctx context.Context, method, rawURL string, form url.Values) (*Page, error) {
	var body interface{}
	if method == http.MethodGet && len(form) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + form.Encode()
	} else if form != nil {
		body = []byte(form.Encode())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, classify(method, rawURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classify(method, rawURL, err)
	}

	enc, name, _ := charset.DetermineEncoding(raw, resp.Header.Get("Content-Type"))
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		decoded = raw
	}

	return &Page{
		StatusCode: resp.StatusCode,
		Body:       string(decoded),
		Encoding:   name,
	}, nil
}

func classify(method, rawURL string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, rawURL, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, rawURL, err)
}
