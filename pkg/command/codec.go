package command

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Message is the wire envelope of a single command:
//
//	{"t":"moveBase","seq":42,"p":{"linear":0.1,"angular":0}}
//
// Seq increases monotonically per sender per session; the receiver uses
// it to detect gaps. Messages are immutable once encoded.
type Message struct {
	Seq     uint64
	Command Command
}

type envelope struct {
	T   Type            `json:"t"`
	Seq uint64          `json:"seq"`
	P   json.RawMessage `json:"p,omitempty"`
}

// SchemaError is returned on a tag outside of the known variant set.
type SchemaError struct {
	Tag string
}

func (e *SchemaError) Error() string { return fmt.Sprintf("unknown command type %q", e.Tag) }

// MalformedPayloadError is returned when a known variant carries
// missing or out-of-domain fields.
type MalformedPayloadError struct {
	Tag    Type
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed %q payload: %s", e.Tag, e.Reason)
}

func fieldErr(t Type, reason string) error { return &MalformedPayloadError{Tag: t, Reason: reason} }

// Encode validates and serializes a message.
func Encode(m Message) ([]byte, error) {
	if m.Command == nil {
		return nil, &SchemaError{Tag: ""}
	}
	if err := m.Command.Validate(); err != nil {
		return nil, err
	}
	p, err := json.Marshal(m.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{T: m.Command.Type(), Seq: m.Seq, P: p})
}

// Decode parses and validates a wire message. It fails with SchemaError
// on an unrecognized tag and MalformedPayloadError on bad fields; it
// never rejects well-formed but extreme in-range values.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, &MalformedPayloadError{Tag: env.T, Reason: err.Error()}
	}
	cmd, err := unwrap(env)
	if err != nil {
		return Message{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Message{}, err
	}
	return Message{Seq: env.Seq, Command: cmd}, nil
}

func unwrap(env envelope) (Command, error) {
	switch env.T {
	case TypeMoveBase:
		return payload[MoveBase](env)
	case TypeMoveJoint:
		return payload[MoveJoint](env)
	case TypeSetMode:
		return payload[SetMode](env)
	case TypeHomeRobot:
		return payload[HomeRobot](env)
	case TypeStop:
		return payload[Stop](env)
	case TypeGetTelemetry:
		return payload[GetTelemetry](env)
	case TypeTelemetry:
		return payload[Telemetry](env)
	}
	return nil, &SchemaError{Tag: string(env.T)}
}

func payload[T Command](env envelope) (Command, error) {
	out := new(T)
	if len(env.P) > 0 {
		if err := json.Unmarshal(env.P, out); err != nil {
			return nil, &MalformedPayloadError{Tag: env.T, Reason: err.Error()}
		}
	}
	return *out, nil
}
