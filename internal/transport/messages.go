// Package transport carries the realtime channel between the orchestrator
// and its field units: a websocket per unit with JSON envelopes for status,
// commands, acknowledgements, and schedule pushes.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/groundlink/model"
)

// Wire event names. Units send fu_status and fu_command_ack; the ground side
// sends fu_command and fu_schedule_update, and broadcasts registry_update to
// every connected session for observer dashboards.
const (
	EventStatus         = "fu_status"
	EventCommand        = "fu_command"
	EventCommandAck     = "fu_command_ack"
	EventScheduleUpdate = "fu_schedule_update"
	EventRegistryUpdate = "registry_update"
)

// Envelope is the framing for every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope wraps a payload in an envelope.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Envelope{Event: event, Data: data}, nil
}

// ScheduleUpdate is the fu_schedule_update payload.
type ScheduleUpdate struct {
	FUID       string            `json:"fu_id"`
	Activities []*model.Activity `json:"activities"`
}
