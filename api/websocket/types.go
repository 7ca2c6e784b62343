// Package websocket streams enriched transaction events to browser and
// service subscribers over a WebSocket connection.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of frame sent to a client
type MessageType string

const (
	// MessageTypeTransaction carries a single enriched transaction
	MessageTypeTransaction MessageType = "transaction"

	// MessageTypeSnapshot carries the recent-activity window sent on connect
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeError carries an error description
	MessageTypeError MessageType = "error"
)

// Message is the envelope for every frame pushed to a client
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewMessage builds a message envelope with the payload marshaled to JSON
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}
