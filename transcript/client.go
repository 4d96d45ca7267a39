package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/erkyrath/remote-if-demo/glkote"
)

// Client posts recorder updates to a transcript server, the way the GlkOte
// transcript hook does. Transient HTTP failures are retried; the server
// treats each update independently, so a retry never corrupts state.
type Client struct {
	log        *zap.SugaredLogger
	baseURL    string
	httpClient *retryablehttp.Client
}

type ClientOption func(c *Client)

// WithCustomizeRetryableClient customizes the underlying retrying HTTP
// client before first use.
func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		f(c.httpClient)
	}
}

func NewClient(log *zap.SugaredLogger, baseURL string, opts ...ClientOption) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = &logAdapter{log}

	c := &Client{
		log:        log.Named("recorder_client"),
		baseURL:    baseURL,
		httpClient: retryClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record posts one update envelope to the server's /record endpoint.
func (c *Client) Record(ctx context.Context, u *glkote.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/record", b)
	if err != nil {
		return fmt.Errorf("building record request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting update: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posting update: status %d", resp.StatusCode)
	}
	return nil
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }
