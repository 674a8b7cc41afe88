package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnexpectedSchema flags a message that does not carry exactly one of
// the known envelope tags. Such messages are acked and dropped by
// consumers; they indicate an upstream bug, not a transient fault.
var ErrUnexpectedSchema = errors.New("message does not match the envelope schema")

// Meta identifies the entity a raw observation belongs to.
type Meta struct {
	MonitorName string  `json:"monitor_name"`
	EntityID    string  `json:"entity_id"`
	EntityName  string  `json:"entity_name"`
	ParentID    string  `json:"parent_id"`
	Time        float64 `json:"time"`
}

// TransformedMeta is Meta after transformation: the observation time
// becomes the entity's last_monitored timestamp.
type TransformedMeta struct {
	MonitorName   string  `json:"monitor_name"`
	EntityID      string  `json:"entity_id"`
	EntityName    string  `json:"entity_name"`
	ParentID      string  `json:"parent_id"`
	LastMonitored float64 `json:"last_monitored"`
}

// RawResult is a successful raw observation: a flat metric map.
type RawResult struct {
	Meta Meta                `json:"meta_data"`
	Data map[string]*float64 `json:"data"`
}

// RawError is a failed raw observation.
type RawError struct {
	Meta    Meta   `json:"meta_data"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RawMessage is the tagged raw-data envelope: exactly one of Result or
// Error is set.
type RawMessage struct {
	Result *RawResult `json:"result,omitempty"`
	Error  *RawError  `json:"error,omitempty"`
}

// MetaData returns the identity of whichever variant is set.
func (m *RawMessage) MetaData() Meta {
	if m.Result != nil {
		return m.Result.Meta
	}
	if m.Error != nil {
		return m.Error.Meta
	}
	return Meta{}
}

// DecodeRaw parses a raw-data envelope and enforces the one-tag rule.
func DecodeRaw(body []byte) (RawMessage, error) {
	var msg RawMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return RawMessage{}, fmt.Errorf("decoding raw message: %w", err)
	}
	if (msg.Result == nil) == (msg.Error == nil) {
		return RawMessage{}, ErrUnexpectedSchema
	}
	return msg, nil
}

// Pair carries the previous and current value of one field across a
// transformation round. A nil side means "no value" (first sight, or the
// field cleared).
type Pair struct {
	Previous *float64 `json:"previous"`
	Current  *float64 `json:"current"`
}

// TransformedResult is the alert-stream view of a successful round.
type TransformedResult struct {
	Meta TransformedMeta `json:"meta_data"`
	Data map[string]Pair `json:"data"`
}

// TransformedError is the alert-stream view of a failed round. Data is
// populated only for downtime errors (the went_down_at pair).
type TransformedError struct {
	Meta    Meta            `json:"meta_data"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    map[string]Pair `json:"data,omitempty"`
}

// TransformedMessage is the tagged alert-stream envelope.
type TransformedMessage struct {
	Result *TransformedResult `json:"result,omitempty"`
	Error  *TransformedError  `json:"error,omitempty"`
}

// DecodeTransformed parses an alert-stream envelope, enforcing the
// one-tag rule.
func DecodeTransformed(body []byte) (TransformedMessage, error) {
	var msg TransformedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return TransformedMessage{}, fmt.Errorf("decoding transformed message: %w", err)
	}
	if (msg.Result == nil) == (msg.Error == nil) {
		return TransformedMessage{}, ErrUnexpectedSchema
	}
	return msg, nil
}

// SaveResult is the store-stream view of a successful round: the flat
// current values.
type SaveResult struct {
	Meta TransformedMeta     `json:"meta_data"`
	Data map[string]*float64 `json:"data"`
}

// SaveMessage is the tagged store-stream envelope. Errors are forwarded
// untouched so the store can ignore them.
type SaveMessage struct {
	Result *SaveResult       `json:"result,omitempty"`
	Error  *TransformedError `json:"error,omitempty"`
}

// Float returns a pointer to v. Convenience for optional wire fields.
func Float(v float64) *float64 {
	return &v
}
