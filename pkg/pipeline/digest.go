package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/inkwellbot/inkwell/pkg/logger"
)

// Digest posts a recurring reminder message on a cron schedule, typically a
// weekly nudge to pick the next book.
type Digest struct {
	schedule  string
	channelID string
	message   string
	transport Transport
	gron      *gronx.Gronx
}

func NewDigest(schedule, channelID, message string, transport Transport) (*Digest, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("invalid digest schedule %q", schedule)
	}
	if channelID == "" {
		return nil, fmt.Errorf("digest channel not configured")
	}
	if message == "" {
		message = "📚 Time to pick the next book! Use /poll to start a vote."
	}
	return &Digest{
		schedule:  schedule,
		channelID: channelID,
		message:   message,
		transport: transport,
		gron:      g,
	}, nil
}

// Run ticks once a minute and posts when the schedule is due. Blocks until
// ctx is done.
func (d *Digest) Run(ctx context.Context) {
	logger.InfoCF("digest", "digest scheduler started", map[string]interface{}{
		"schedule": d.schedule,
		"channel":  d.channelID,
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.tick(now)
		}
	}
}

// tick posts the digest message when the schedule is due at now.
func (d *Digest) tick(now time.Time) {
	due, err := d.gron.IsDue(d.schedule, now)
	if err != nil {
		logger.WarnCF("digest", "schedule evaluation failed", map[string]interface{}{
			"schedule": d.schedule,
			"error":    err.Error(),
		})
		return
	}
	if !due {
		return
	}
	if err := d.transport.PostMessage(d.channelID, d.message); err != nil {
		logger.ErrorCF("digest", "digest post failed", map[string]interface{}{
			"channel": d.channelID,
			"error":   err.Error(),
		})
	}
}
