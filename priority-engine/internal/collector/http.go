package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

type HTTPConfig struct {
	Name       string
	BaseURL    string
	Path       string
	Retries    int
	HTTPClient *http.Client
}

// HTTPCollector pulls signals from a module that exposes them over HTTP as
// GET <base>/signals?tenantId=<tenant>, answering {"signals": [...]}.
type HTTPCollector struct {
	name    string
	baseURL string
	path    string
	retries int
	client  *http.Client
}

func NewHTTPCollector(cfg HTTPConfig) (*HTTPCollector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("collector %q: base url required", cfg.Name)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("collector name required")
	}
	path := cfg.Path
	if path == "" {
		path = "/signals"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPCollector{
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		retries: retries,
		client:  client,
	}, nil
}

func (c *HTTPCollector) Name() string { return c.name }

func (c *HTTPCollector) Collect(ctx context.Context, tenantID string) ([]models.Signal, error) {
	endpoint := c.baseURL + c.path + "?tenantId=" + url.QueryEscape(tenantID)

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%s build request: %w", c.name, err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			signals, retry, parseErr := decodeSignals(resp)
			resp.Body.Close()
			if parseErr == nil {
				for j := range signals {
					if signals[j].Source == "" {
						signals[j].Source = c.name
					}
				}
				return signals, nil
			}
			if !retry {
				return nil, fmt.Errorf("%s: %w", c.name, parseErr)
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return nil, fmt.Errorf("%s collect failed: %w", c.name, lastErr)
}

func decodeSignals(resp *http.Response) ([]models.Signal, bool, error) {
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("source unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("source rejected request: %s", resp.Status)
	}
	var body struct {
		Signals []models.Signal `json:"signals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("decode signals: %w", err)
	}
	if body.Signals == nil {
		body.Signals = []models.Signal{}
	}
	return body.Signals, false, nil
}
