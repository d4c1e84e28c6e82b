package realtime

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"ai-notetaking-client/internal/dto"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed notification_frame.schema.json
var frameSchema []byte

const frameSchemaURL = "notification_frame.schema.json"

type MessageType string

const (
	MessageNotification MessageType = "notification"
	MessageUnreadCount  MessageType = "unread_count"
)

var ErrInvalidFrame = errors.New("invalid realtime frame")

// NotificationMessage can only be obtained from FrameValidator.Parse, so
// holding one means the frame passed validation.
type NotificationMessage struct {
	msgType      MessageType
	notification dto.NotificationResponse
	unreadCount  int64
}

func (m NotificationMessage) Type() MessageType {
	return m.msgType
}

// Notification is set for MessageNotification frames.
func (m NotificationMessage) Notification() (dto.NotificationResponse, bool) {
	return m.notification, m.msgType == MessageNotification
}

// UnreadCount is set for MessageUnreadCount frames.
func (m NotificationMessage) UnreadCount() (int64, bool) {
	return m.unreadCount, m.msgType == MessageUnreadCount
}

type FrameValidator struct {
	schema *jsonschema.Schema
}

func NewFrameValidator() (*FrameValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frameSchema))
	if err != nil {
		return nil, fmt.Errorf("load frame schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(frameSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add frame schema: %w", err)
	}
	schema, err := compiler.Compile(frameSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return &FrameValidator{schema: schema}, nil
}

type wireFrame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse validates raw against the frame schema and decodes it.
func (v *FrameValidator) Parse(raw []byte) (NotificationMessage, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return NotificationMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return NotificationMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return NotificationMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	msg := NotificationMessage{msgType: frame.Type}
	switch frame.Type {
	case MessageNotification:
		if err := json.Unmarshal(frame.Data, &msg.notification); err != nil {
			return NotificationMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
	case MessageUnreadCount:
		var count dto.UnreadCountResponse
		if err := json.Unmarshal(frame.Data, &count); err != nil {
			return NotificationMessage{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		msg.unreadCount = count.Count
	default:
		return NotificationMessage{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFrame, frame.Type)
	}
	return msg, nil
}
