package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastql/server/internal/infrastructure/logging"
)

// Version is the running build. Set with -ldflags "-X .../version.Version=x.y.z".
var Version = "dev"

// ErrNoRelease is returned when the registry lists no tags.
var ErrNoRelease = errors.New("no release found")

// Info is the body of GET /version.
type Info struct {
	CurrentVersion string `json:"currentVersion"`
	Latest         string `json:"latest"`
}

type tagsResponse struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// Checker looks up the newest published release and caches it.
type Checker struct {
	url     string
	current string
	client  *resty.Client
	logger  *logging.Logger

	mu        sync.RWMutex
	latest    string
	checkedAt time.Time

	cron *cron.Cron
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCurrent overrides the reported running version.
func WithCurrent(v string) Option {
	return func(c *Checker) {
		c.current = v
	}
}

// WithRetries sets how many times a failed lookup is retried.
func WithRetries(n int) Option {
	return func(c *Checker) {
		c.client.SetRetryCount(n)
	}
}

// NewChecker creates a checker for the tag listing at url.
func NewChecker(url string, timeout time.Duration, opts ...Option) *Checker {
	// Only the pooled transport is borrowed; retries are resty's.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		}).
		SetHeader("User-Agent", "FaStQL/"+Version).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(sonic.Unmarshal)
	client.SetTransport(retryClient.HTTPClient.Transport)

	c := &Checker{
		url:     url,
		current: Version,
		client:  client,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the running version.
func (c *Checker) Current() string {
	return c.current
}

// Check returns the running and latest versions. A cached latest is used
// when present; otherwise the registry is queried.
func (c *Checker) Check(ctx context.Context) (Info, error) {
	if latest, ok := c.Cached(); ok {
		return Info{CurrentVersion: c.current, Latest: latest}, nil
	}
	latest, err := c.Refresh(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{CurrentVersion: c.current, Latest: latest}, nil
}

// Cached returns the last successful lookup.
func (c *Checker) Cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.latest != ""
}

// CheckedAt returns when the cache was last filled.
func (c *Checker) CheckedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkedAt
}

// Refresh queries the registry and replaces the cached value on success.
func (c *Checker) Refresh(ctx context.Context) (string, error) {
	var body tagsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(c.url)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("fetch latest release: registry returned %s", resp.Status())
	}
	if len(body.Results) == 0 || body.Results[0].Name == "" {
		return "", ErrNoRelease
	}

	latest := body.Results[0].Name
	c.mu.Lock()
	c.latest = latest
	c.checkedAt = time.Now()
	c.mu.Unlock()
	return latest, nil
}

// Start schedules background refreshes on spec, a cron expression such as
// "@every 1h". An empty spec does nothing.
func (c *Checker) Start(spec string) error {
	if spec == "" {
		return nil
	}
	if c.cron != nil {
		return errors.New("version refresh already started")
	}

	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.client.GetClient().Timeout+time.Second)
		defer cancel()
		latest, err := c.Refresh(ctx)
		if err != nil {
			c.logger.Warn("Version refresh failed", zap.Error(err))
			return
		}
		c.logger.Debug("Version refreshed", zap.String("latest", latest))
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}

	c.cron = sched
	sched.Start()
	c.logger.Info("Version refresh scheduled", zap.String("schedule", spec))
	return nil
}

// Stop halts background refreshes and waits for a running one to finish.
func (c *Checker) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
	c.cron = nil
}
