package model

import "time"

// CommandType identifies the command being dispatched to a field unit.
// TRACK is currently the only ground-to-unit command; both TRACK and
// CUSTOM_TRACK activities dispatch it.
type CommandType string

const CommandTrack CommandType = "TRACK"

// TrackArgs carries the tracking parameters a field unit needs to point its
// antenna for the duration of a pass.
type TrackArgs struct {
	Satellite string    `json:"satellite"`
	NoradID   string    `json:"norad_id"`
	EndTime   time.Time `json:"end_time"`
}

// Command is a fire-and-forget instruction sent over the realtime channel.
// It is matched to an acknowledgement by ID; no retry state is kept.
type Command struct {
	ID         string      `json:"command_id"`
	FUID       string      `json:"fu_id"`
	Type       CommandType `json:"type"`
	ActivityID string      `json:"activity_id"`
	Args       TrackArgs   `json:"args"`
	Timestamp  time.Time   `json:"timestamp"`
}

// AckStatus is a field unit's verdict on a received command.
type AckStatus string

const (
	AckOK   AckStatus = "ACK"
	AckNack AckStatus = "NACK"
)

// CommandAck is the unit-to-ground acknowledgement for one command.
type CommandAck struct {
	FUID      string    `json:"fu_id"`
	CommandID string    `json:"command_id"`
	Status    AckStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}
