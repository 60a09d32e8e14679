package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/mailsentry-console/notify"
)

// MessageType tags a frame or an application message.
type MessageType string

// Frame types sent by the backend. Every application notification arrives inside a
// push_message frame keyed by its own type.
const (
	TypeConnected   MessageType = "connected"
	TypePushMessage MessageType = "push_message"
)

// Application message types.
const (
	TypeNewEmails              MessageType = "new_emails"
	TypeNewEmailNotification   MessageType = "new_email_notification"
	TypeDetectionCompleted     MessageType = "detection_completed"
	TypeDetectionTaskCompleted MessageType = "detection_task_completed"
)

const builtinNoticeDuration = 5 * time.Second

// Frame is the wire shape of every inbound frame.
type Frame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is an application message delivered to subscribers.
type Message struct {
	Type MessageType
	Data json.RawMessage
	// Timestamp is the server's send time when it supplied one, otherwise the receive time.
	Timestamp time.Time
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data")
	}
	return json.Unmarshal(m.Data, v)
}

// pushEnvelope is the data of a push_message frame.
type pushEnvelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// DecodeFrame parses a raw inbound frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("bad json: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("missing type")
	}
	return f, nil
}

// Message converts a frame to the application message it carries. push_message frames are
// unwrapped; any other frame is a discrete named event whose type is the message type.
func (f Frame) Message(receivedAt time.Time) (Message, error) {
	if f.Type != TypePushMessage {
		return Message{Type: f.Type, Data: f.Data, Timestamp: receivedAt}, nil
	}

	var push pushEnvelope
	if err := json.Unmarshal(f.Data, &push); err != nil {
		return Message{}, fmt.Errorf("bad push_message data: %w", err)
	}
	if push.Type == "" {
		return Message{}, errors.New("push_message missing type")
	}
	ts := receivedAt
	if push.Timestamp > 0 {
		ts = time.UnixMilli(push.Timestamp)
	}
	return Message{Type: push.Type, Data: push.Data, Timestamp: ts}, nil
}

type noticePayload struct {
	Message    string `json:"message"`
	EmailCount int    `json:"email_count"`
}

// builtinNotice returns the notification the channel shows for m before any subscriber runs.
// It is not part of the registry, so subscribers cannot remove it.
func builtinNotice(m Message) (notify.Notification, bool) {
	var p noticePayload
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &p)
	}

	switch m.Type {
	case TypeDetectionCompleted, TypeDetectionTaskCompleted:
		msg := p.Message
		if msg == "" {
			msg = "email detection completed"
		}
		return notify.Success(msg).For(builtinNoticeDuration), true
	case TypeNewEmails, TypeNewEmailNotification:
		msg := p.Message
		if msg == "" {
			msg = fmt.Sprintf("%d new emails detected", p.EmailCount)
		}
		return notify.Info(msg).For(builtinNoticeDuration), true
	}
	return notify.Notification{}, false
}
