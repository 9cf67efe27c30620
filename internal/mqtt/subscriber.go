package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/carbridge/internal/discovery"
)

// MessageHandler is called for each MQTT message received on a
// subscribed topic. Implementations must be safe for concurrent use.
type MessageHandler func(topic string, payload []byte)

// maxLoggedPayload caps how much of a write payload is logged.
const maxLoggedPayload = 64

// defaultMessageHandler returns a [MessageHandler] that logs received
// messages at debug level with structured fields. Write requests log
// their (truncated) value; Home Assistant status messages log the
// status.
func defaultMessageHandler(logger *slog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		if !logger.Enabled(context.Background(), slog.LevelDebug) {
			return
		}

		fields := []any{
			"topic", topic,
			"payload_size", len(payload),
		}

		switch {
		case strings.HasSuffix(topic, discovery.WriteSuffix):
			v := string(payload)
			if len(v) > maxLoggedPayload {
				v = v[:maxLoggedPayload] + "..."
			}
			fields = append(fields, "kind", "write", "value", v)
		case strings.HasSuffix(topic, "/status"):
			fields = append(fields, "kind", "status", "status", strings.TrimSpace(string(payload)))
		}

		logger.Debug("mqtt message received", fields...)
	}
}

// messageRateLimiter tracks inbound message rates and drops messages
// when the rate exceeds the configured threshold. It uses atomic
// counters for lock-free operation on the hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

// newMessageRateLimiter creates a rate limiter that allows limit
// messages per interval. Exceeding the limit causes messages to be
// dropped until the next interval reset.
func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start runs the periodic counter reset loop. It blocks until ctx is
// cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reset()
		}
	}
}

// reset zeroes the counters and warns if anything was dropped.
func (r *messageRateLimiter) reset() {
	count := r.count.Swap(0)
	dropped := r.dropped.Swap(0)
	if dropped > 0 {
		r.logger.Warn("mqtt messages dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

// allow increments the message counter and returns true if the
// current count is within the limit. If over the limit it increments
// the dropped counter and returns false.
func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
