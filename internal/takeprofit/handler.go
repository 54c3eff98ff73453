// Package takeprofit turns take-profit signals into height assignments.
package takeprofit

import (
	"context"
	"time"

	"providence/internal/cache"

	"github.com/yanun0323/logs"
)

// Heights applies a height assignment and waits for its result.
type Heights interface {
	ApplyHeight(ctx context.Context, reason string) error
}

// Handler applies one take-profit signal at most once per signal id.
type Handler struct {
	heights  Heights
	cache    cache.Cache
	dedupTTL time.Duration
	timeout  time.Duration
}

// NewHandler builds a Handler. timeout bounds one assignment and must stay
// below the consumer's ack wait (10s when <= 0).
func NewHandler(heights Heights, c cache.Cache, dedupTTL, timeout time.Duration) *Handler {
	if c == nil {
		c = cache.Nop{}
	}
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{heights: heights, cache: c, dedupTTL: dedupTTL, timeout: timeout}
}

// Handle returns nil once the signal's height is applied, or when it is a
// duplicate. An error means the signal should be redelivered; the dedup
// marker is cleared first.
func (h *Handler) Handle(ctx context.Context, id string) error {
	key := cache.TakeProfitKey(id)
	fresh, err := h.cache.SetNX(ctx, key, []byte{'1'}, h.dedupTTL)
	if err != nil {
		logs.Warnf("takeprofit: dedup marker id=%s, err: %+v", id, err)
		fresh = true
	}
	if !fresh {
		logs.Infof("takeprofit: duplicate signal id=%s, skip", id)
		return nil
	}

	applyCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.heights.ApplyHeight(applyCtx, "take-profit:"+id); err != nil {
		if derr := h.cache.Delete(context.WithoutCancel(ctx), key); derr != nil {
			logs.Warnf("takeprofit: clear dedup marker id=%s, err: %+v", id, derr)
		}
		return err
	}

	logs.Infof("takeprofit: height applied id=%s", id)
	return nil
}
