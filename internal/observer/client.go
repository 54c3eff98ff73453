// Package observer queries independent position observers.
package observer

import (
	"context"
	"net/http"
	"strings"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/marketdata"
	"providence/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const _positionsPath = "/positions"

// Report is one observer's view of a symbol.
type Report struct {
	NodeURL    string
	ObserverID string
	Symbol     string
	Position   decimal.Decimal
	ObservedAt time.Time
}

// Payload is the observer response body.
type Payload struct {
	ObserverID string                     `json:"observer_id"`
	Timestamp  time.Time                  `json:"timestamp"`
	Positions  map[string]decimal.Decimal `json:"positions"`
}

// Config lists observer nodes and their freshness bound.
type Config struct {
	Nodes   []string      `json:"nodes"`
	Timeout time.Duration `json:"timeout"`
	// MaxAge is the oldest heartbeat still counted as a response.
	MaxAge time.Duration `json:"maxAge"`
}

// Client queries every configured node.
type Client struct {
	http *http.Client
	cfg  Config
	now  func() time.Time
}

func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	return &Client{http: httpClient, cfg: cfg, now: time.Now}
}

// Nodes is the number of configured observers.
func (c *Client) Nodes() int {
	return len(c.cfg.Nodes)
}

// Collect queries all nodes concurrently and returns the usable reports.
// Failed, stale or malformed answers are logged and dropped.
func (c *Client) Collect(ctx context.Context, symbol string) []Report {
	p := pool.NewWithResults[*Report]()
	for _, node := range c.cfg.Nodes {
		p.Go(func() *Report {
			r, err := c.Query(ctx, node, symbol)
			if err != nil {
				logs.Warnf("observer: no report node=%s symbol=%s, err: %+v", node, symbol, err)
				return nil
			}
			return &r
		})
	}

	reports := make([]Report, 0, len(c.cfg.Nodes))
	for _, r := range p.Wait() {
		if r != nil {
			reports = append(reports, *r)
		}
	}
	return reports
}

// Query asks one node for symbol's position.
func (c *Client) Query(ctx context.Context, node, symbol string) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(node, "/")+_positionsPath, nil)
	if err != nil {
		return Report{}, errors.Wrap(err, "new request").With("node", node)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return Report{}, xerrors.Transient(errors.Wrap(err, "get positions").With("node", node))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Report{}, xerrors.Wrap(exception.ErrObserverBadReport, resp.Status)
	}

	var payload Payload
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Report{}, xerrors.Wrap(exception.ErrObserverBadReport, err.Error())
	}

	return c.report(node, symbol, payload)
}

func (c *Client) report(node, symbol string, payload Payload) (Report, error) {
	if payload.Timestamp.IsZero() || c.now().Sub(payload.Timestamp) > c.cfg.MaxAge {
		return Report{}, xerrors.Wrap(exception.ErrObserverStale, node)
	}

	pos, ok := payload.Positions[symbol]
	if !ok {
		pos, ok = payload.Positions[marketdata.BaseSymbol(symbol)]
	}
	if !ok {
		return Report{}, xerrors.Wrap(exception.ErrObserverBadReport, "no position for "+symbol)
	}

	return Report{
		NodeURL:    node,
		ObserverID: payload.ObserverID,
		Symbol:     symbol,
		Position:   pos,
		ObservedAt: payload.Timestamp,
	}, nil
}
