package websocket

import (
	"encoding/json"
	"time"

	"device-sync-server/internal/domain"
)

type MessageType string

const (
	TypeConflictDetected    MessageType = MessageType(domain.EventConflictDetected)
	TypeFieldResolved       MessageType = MessageType(domain.EventFieldResolved)
	TypeConflictResolved    MessageType = MessageType(domain.EventConflictResolved)
	TypeListUnresolved      MessageType = "list_unresolved"
	TypeUnresolvedConflicts MessageType = "unresolved_conflicts"
	TypeError               MessageType = "error"
	TypePing                MessageType = "ping"
	TypePong                MessageType = "pong"
)

// AllDevices is the topic that receives events for every device.
const AllDevices = "*"

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ListUnresolvedPayload asks for the pending conflicts of a device. DeviceID
// defaults to the client's own topic.
type ListUnresolvedPayload struct {
	DeviceID string `json:"device_id,omitempty"`
}

type UnresolvedConflictsPayload struct {
	DeviceID  string                   `json:"device_id"`
	Conflicts []*domain.ConflictRecord `json:"conflicts"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
