package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandType enumerates the inbound frames a subscriber may send, whether
// over the WebSocket channel or via POST /send. This is the explicit-channel
// replacement for the callback/emitter dispatch described in §9: the Hub
// itself never decodes or routes these — internal/handlers does, so that
// internal/realtime has no dependency on internal/services.
type CommandType string

const (
	CommandTimerStart       CommandType = "timer:start"
	CommandTimerStop        CommandType = "timer:stop"
	CommandTimerPause       CommandType = "timer:pause"
	CommandTimerSync        CommandType = "timer:sync"
	CommandIframeVisibility CommandType = "iframe:visibility"
)

// Command is the envelope decoded off the wire before payload-specific
// decoding; Payload is re-decoded into one of the *Payload types below once
// Type is known.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type TimerStartPayload struct {
	ProjectID   uuid.UUID `json:"projectId"`
	Description string    `json:"description"`
}

type TimerStopPayload struct {
	EndTime *time.Time `json:"endTime,omitempty"`
}

type TimerSyncPayload struct {
	// Empty: timer:sync just asks the server to re-publish timer:state.
}

// IframeVisibilityPayload carries the embedding host's page-visibility
// signal, described in §6. The server decodes the command but takes no
// action on it: fan-out to a hidden iframe is neither throttled nor resumed.
type IframeVisibilityPayload struct {
	Visible bool `json:"visible"`
}
