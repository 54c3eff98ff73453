// Package gateway delegates orders to the HTTP order-execution service.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/order"
	"providence/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const (
	_executePath    = "/execute_order"
	_defaultTimeout = 5 * time.Second
	_maxErrorBody   = 4 << 10
)

type Delegator struct {
	client   *http.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
}

func NewDelegator(client *http.Client, endpoint, apiKey string, timeout time.Duration) *Delegator {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = _defaultTimeout
	}
	return &Delegator{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		timeout:  timeout,
	}
}

// Send posts req. 4xx answers come back as a rejected Response; 5xx and
// network failures are transient errors.
func (d Delegator) Send(ctx context.Context, req order.Request) (order.Response, error) {
	var response order.Response

	payload, err := sonic.ConfigFastest.Marshal(req)
	if err != nil {
		return response, errors.Wrap(err, "marshal order").With("client_order_id", req.ClientOrderID)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+_executePath, bytes.NewReader(payload))
	if err != nil {
		return response, errors.Wrap(err, "new request")
	}
	r.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		r.Header.Set("X-API-Key", d.apiKey)
	}

	resp, err := d.client.Do(r)
	if err != nil {
		return response, xerrors.Transient(errors.Wrap(err, "post order").With("symbol", req.Symbol))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return response, xerrors.Transient(xerrors.Wrap(exception.ErrOrderGatewayUnavailable, resp.Status))
	case resp.StatusCode >= http.StatusBadRequest:
		return rejection(resp), nil
	}

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&response); err != nil {
		return response, xerrors.Wrap(exception.ErrOrderDecodeResponseBody, err.Error())
	}
	return response, nil
}

func rejection(resp *http.Response) order.Response {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, _maxErrorBody))

	var res Response
	if err := sonic.ConfigFastest.Unmarshal(body, &res); err == nil && res.reason() != "" {
		return order.Response{Accepted: false, Reason: res.reason()}
	}

	reason := strings.TrimSpace(string(body))
	if reason == "" {
		reason = resp.Status
	}
	return order.Response{Accepted: false, Reason: reason}
}
