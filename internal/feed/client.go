package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/grandarena/contest-api/internal/platform/logging"
	"github.com/grandarena/contest-api/internal/platform/resilience"
	"github.com/valyala/bytebufferpool"
)

const (
	manifestPath   = "latest.json"
	cumulativePath = "cumulative/current_totals.json.gz"

	maxResponseBytes = 32 << 20
)

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Timeout        time.Duration
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Client fetches feed resources over HTTP. It performs no retries:
// staleness recovery belongs to the Cache and the Coordinator.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchManifest retrieves the partition index.
func (c *Client) FetchManifest(ctx context.Context) (Manifest, error) {
	var manifest Manifest
	if err := c.fetchJSON(ctx, manifestPath, &manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// FetchPartition retrieves one gzip-compressed partition by its
// manifest-relative URL.
func (c *Client) FetchPartition(ctx context.Context, partitionURL string) ([]MatchEnvelope, error) {
	var envelopes []MatchEnvelope
	if err := c.fetchGzipJSON(ctx, partitionURL, &envelopes); err != nil {
		return nil, err
	}
	return envelopes, nil
}

// FetchCumulative retrieves the gzip-compressed lifetime totals.
func (c *Client) FetchCumulative(ctx context.Context) ([]CumulativeRow, error) {
	var rows []CumulativeRow
	if err := c.fetchGzipJSON(ctx, cumulativePath, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Close releases idle connections held by the underlying client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) fetchJSON(ctx context.Context, path string, target any) error {
	raw, err := c.download(ctx, path)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(raw, target); err != nil {
		return parseFailure(path, crerr.Wrap(err, "decode payload"))
	}
	return nil
}

func (c *Client) fetchGzipJSON(ctx context.Context, path string, target any) error {
	raw, err := c.download(ctx, path)
	if err != nil {
		return err
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return parseFailure(path, crerr.Wrap(err, "open gzip stream"))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if _, err := io.Copy(buf, io.LimitReader(gz, maxResponseBytes)); err != nil {
		return parseFailure(path, crerr.Wrap(err, "decompress payload"))
	}
	if err := gz.Close(); err != nil {
		return parseFailure(path, crerr.Wrap(err, "close gzip stream"))
	}

	// ConfigStd copies decoded strings, so nothing may reference the
	// pooled buffer after Put.
	if err := sonic.ConfigStd.Unmarshal(buf.Bytes(), target); err != nil {
		return parseFailure(path, crerr.Wrap(err, "decode payload"))
	}
	return nil
}

func (c *Client) download(ctx context.Context, path string) ([]byte, error) {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "feed circuit breaker rejected request", "state", c.breaker.State())
			return nil, unavailable(path, err)
		}
	}

	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")

	out, err, _ := c.flight.Do(path, func() (any, error) {
		raw, reqErr := c.executeRequest(ctx, path, fullURL)
		if c.circuitEnabled {
			if reqErr != nil {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		return nil, err
	}

	raw, ok := out.([]byte)
	if !ok {
		return nil, unavailable(path, crerr.Newf("unexpected response payload type %T", out))
	}
	return raw, nil
}

func (c *Client) executeRequest(ctx context.Context, path, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, unavailable(path, crerr.Wrap(err, "build request"))
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "feed request failed", "url", fullURL, "error", err)
		return nil, unavailable(path, crerr.Wrap(err, "send request"))
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable(path, crerr.Wrap(err, "read response body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WarnContext(ctx, "feed returned error status", "url", fullURL, "status", resp.StatusCode)
		return nil, unavailable(path, crerr.Newf("feed status=%d body=%s", resp.StatusCode, abbreviateBody(raw)))
	}

	return raw, nil
}

func abbreviateBody(raw []byte) string {
	const limit = 256
	body := strings.TrimSpace(string(raw))
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}
