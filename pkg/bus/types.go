package bus

// Command names accepted by the pipeline. The inbound transport validates
// arguments before an Invocation is published.
const (
	CommandSynopsis        = "synopsis"
	CommandSynopsisBatch   = "synopsis-batch"
	CommandDiscussion      = "discussion"
	CommandContentWarnings = "content-warnings"
	CommandRecommend       = "recommend"
	CommandPoll            = "poll"
	CommandGenerateMenu    = "Generate Synopses"
)

// Invocation is the immutable record of one user-triggered command. It is
// created by the inbound transport when the platform delivers an interaction
// and consumed exactly once by the pipeline worker.
type Invocation struct {
	Command       string            `json:"command"`
	Args          Args              `json:"args,omitempty"`
	ChannelID     string            `json:"channel_id"`
	InteractionID string            `json:"interaction_id"`
	Token         string            `json:"token"` // continuation token for follow-up delivery
	UserID        string            `json:"user_id,omitempty"`
	TargetMessage string            `json:"target_message,omitempty"` // context-menu invocations only
	Provider      string            `json:"provider"`                 // provider snapshot taken at receipt
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Args holds the typed command arguments (string, bool, integer).
type Args map[string]interface{}

func (a Args) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

func (a Args) Bool(key string) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return false
}

func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
