package protocol

import (
	"fmt"
	"math"
	"strings"

	"github.com/danmuck/liftctl/internal/protocol/frame"
	"github.com/danmuck/liftctl/internal/protocol/schema"
	"github.com/danmuck/liftctl/internal/protocol/tlv"
)

// Kind names one of the three bus message kinds.
type Kind string

const (
	KindRequest  Kind = "request"
	KindTake     Kind = "take"
	KindComplete Kind = "completed"
)

// Message is the flat key/value content of one bus broadcast.
// Target is signed: magnitude is the 1-indexed floor, sign the direction.
type Message struct {
	ID     uint64
	Kind   Kind
	Target int
	Source string
}

func (m Message) String() string {
	return fmt.Sprintf("%s target=%d source=%q id=%d", m.Kind, m.Target, m.Source, m.ID)
}

// Validate checks the kind, a non-zero i32 target and a source.
func (m Message) Validate() error {
	if _, ok := messageType(m.Kind); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if m.Target == 0 || m.Target > math.MaxInt32 || m.Target < math.MinInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidTarget, m.Target)
	}
	if strings.TrimSpace(m.Source) == "" {
		return ErrMissingSource
	}
	return nil
}

// Marshal encodes m as a single frame.
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	msgType, _ := messageType(m.Kind)
	payload := tlv.EncodeFields([]tlv.Field{
		tlv.String(schema.FieldKind, string(m.Kind)),
		tlv.I32(schema.FieldTarget, int32(m.Target)),
		tlv.String(schema.FieldSource, m.Source),
	})
	return frame.Encode(frame.Frame{
		Header:  frame.Header{MessageID: m.ID, MessageType: msgType},
		Payload: payload,
	})
}

// Unmarshal decodes one frame produced by Marshal.
func Unmarshal(b []byte) (Message, error) {
	f, err := frame.Decode(b)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !schema.Known(f.Header.MessageType) {
		return Message{}, fmt.Errorf("%w: message_type=%d", ErrUnknownKind, f.Header.MessageType)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	kindField, _ := tlv.GetField(fields, schema.FieldKind)
	targetField, _ := tlv.GetField(fields, schema.FieldTarget)
	sourceField, _ := tlv.GetField(fields, schema.FieldSource)

	target, err := tlv.I32FromBytes(targetField.Value)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	msg := Message{
		ID:     f.Header.MessageID,
		Kind:   Kind(kindField.Value),
		Target: int(target),
		Source: string(sourceField.Value),
	}
	if want, ok := messageType(msg.Kind); !ok || want != f.Header.MessageType {
		return Message{}, fmt.Errorf("%w: type=%d kind=%q", ErrKindMismatch, f.Header.MessageType, msg.Kind)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func messageType(k Kind) (uint32, bool) {
	switch k {
	case KindRequest:
		return schema.MsgRequest, true
	case KindTake:
		return schema.MsgTake, true
	case KindComplete:
		return schema.MsgComplete, true
	default:
		return 0, false
	}
}
