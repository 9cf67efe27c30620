package mqtt

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefaultMessageHandler_WriteTopic(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(handler)

	h := defaultMessageHandler(logger)
	h("carconnectivity/0/garage/WVW1234/climatization/commands/start-stop_writetopic", []byte("start"))

	output := buf.String()
	if !strings.Contains(output, "kind=write") {
		t.Errorf("expected kind=write in log output, got: %s", output)
	}
	if !strings.Contains(output, "value=start") {
		t.Errorf("expected value in log output, got: %s", output)
	}
}

func TestDefaultMessageHandler_TruncatesLongWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := defaultMessageHandler(logger)
	h("p/x_writetopic", []byte(strings.Repeat("a", 200)))

	output := buf.String()
	if strings.Contains(output, strings.Repeat("a", maxLoggedPayload+1)) {
		t.Errorf("write value not truncated: %s", output)
	}
	if !strings.Contains(output, "payload_size=200") {
		t.Errorf("expected payload_size=200 in log output, got: %s", output)
	}
}

func TestDefaultMessageHandler_Status(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := defaultMessageHandler(logger)
	h("homeassistant/status", []byte("online\n"))

	if output := buf.String(); !strings.Contains(output, "status=online") {
		t.Errorf("expected status=online in log output, got: %s", output)
	}
}

func TestDefaultMessageHandler_QuietAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	defaultMessageHandler(logger)("some/topic", []byte("x"))
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got: %s", buf.String())
	}
}

func TestMessageRateLimiter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := newMessageRateLimiter(5, time.Second, logger)

	// First 5 should be allowed.
	for i := range 5 {
		if !rl.allow() {
			t.Errorf("message %d should have been allowed", i)
		}
	}

	// 6th should be dropped.
	if rl.allow() {
		t.Error("message 6 should have been rate-limited")
	}

	if dropped := rl.dropped.Load(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestMessageRateLimiter_Reset(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rl := newMessageRateLimiter(1, time.Second, logger)

	rl.allow()
	rl.allow()
	rl.reset()

	if !strings.Contains(buf.String(), "dropped=1") {
		t.Errorf("expected drop warning, got: %s", buf.String())
	}
	if !rl.allow() {
		t.Error("message after reset should have been allowed")
	}
}

func TestMessageRateLimiter_Concurrent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := newMessageRateLimiter(1000, time.Second, logger)

	// Hammer the rate limiter from multiple goroutines.
	done := make(chan struct{})
	for range 10 {
		go func() {
			for range 200 {
				rl.allow()
			}
			done <- struct{}{}
		}()
	}
	for range 10 {
		<-done
	}

	count := rl.count.Load()
	if count != 2000 {
		t.Errorf("count = %d, want 2000", count)
	}
	dropped := rl.dropped.Load()
	if dropped != 1000 {
		t.Errorf("dropped = %d, want 1000", dropped)
	}
}
