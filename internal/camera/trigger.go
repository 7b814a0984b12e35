package camera

import (
	"context"
	"log/slog"
	"time"

	"github.com/mzyy94/glasscap/internal/chunk"
)

// runTrigger asks the camera to capture at the configured cadence. The
// command is re-sent periodically because the bridge may have reconnected
// to the camera and lost its state.
func (c *Camera) runTrigger(ctx context.Context) {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()

	var tick <-chan time.Time
	if c.opts.RetriggerEvery > 0 {
		ticker := time.NewTicker(c.opts.RetriggerEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.sendCapture(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			// Best effort: tell the camera to stop before going away.
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := c.tr.Send(stopCtx, chunk.CommandStop); err != nil {
				slog.Debug("stop command failed", "err", err)
			}
			cancel()
			slog.Info("capture trigger stopped")
			return
		case interval = <-c.trigger:
			c.sendCapture(ctx, interval)
		case <-tick:
			c.sendCapture(ctx, interval)
		}
	}
}

func (c *Camera) sendCapture(ctx context.Context, interval time.Duration) {
	cmd := chunk.CaptureCommand(interval)
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.tr.Send(sendCtx, cmd); err != nil {
		slog.Debug("capture command not sent", "cmd", chunk.DescribeCommand(cmd), "err", err)
		return
	}
	slog.Info("capture requested", "cmd", chunk.DescribeCommand(cmd))
}
