package pipeline

import (
	"github.com/inkwellbot/inkwell/pkg/bus"
	"github.com/inkwellbot/inkwell/pkg/logger"
	"github.com/inkwellbot/inkwell/pkg/utils"
)

// threadNameLimit is the platform cap on thread names.
const threadNameLimit = 100

// Target is where delivery goes: the invoking channel, or a thread created
// for this invocation. FallbackNotice is set when a thread was requested but
// creation failed and delivery degrades to the channel.
type Target struct {
	ChannelID      string
	IsThread       bool
	FallbackNotice string
}

// route decides the delivery destination. Message-command invocations root a
// thread at the target message; slash invocations that opted in get a
// freestanding thread. Thread creation failure degrades to the channel, it
// never aborts the invocation.
func (p *Pipeline) route(inv bus.Invocation, pl plan) Target {
	wantThread := pl.threadWanted || inv.TargetMessage != ""
	if !wantThread {
		return Target{ChannelID: inv.ChannelID}
	}

	name := utils.Truncate(pl.threadName, threadNameLimit)
	var (
		threadID string
		err      error
	)
	if inv.TargetMessage != "" {
		threadID, err = p.transport.CreateThreadFromMessage(inv.ChannelID, inv.TargetMessage, name)
	} else {
		threadID, err = p.transport.CreateThread(inv.ChannelID, name)
	}
	if err != nil {
		logger.WarnCF("pipeline", "thread creation failed, delivering to channel", map[string]interface{}{
			"channel":        inv.ChannelID,
			"correlation_id": inv.CorrelationID,
			"error":          err.Error(),
		})
		return Target{
			ChannelID:      inv.ChannelID,
			FallbackNotice: "Couldn't create a thread here, posting results directly instead.",
		}
	}

	logger.DebugCF("pipeline", "routed delivery to thread", map[string]interface{}{
		"thread":         threadID,
		"correlation_id": inv.CorrelationID,
	})
	return Target{ChannelID: threadID, IsThread: true}
}
