package command

import (
	"errors"
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []Command{
		MoveBase{Linear: 0.1, Angular: 0},
		MoveBase{Linear: -MaxLinearVelocity, Angular: MaxAngularVelocity},
		MoveJoint{Joint: "joint_lift", Delta: -0.05},
		SetMode{Mode: ModeNavigation},
		SetMode{Mode: ModePosition},
		HomeRobot{},
		Stop{},
		GetTelemetry{CorrelationId: "q-1"},
		Telemetry{CorrelationId: "q-1", Battery: 12.4, Mode: ModePosition, Charging: true},
		Telemetry{Battery: 11.1, Mode: ModeNavigation},
	}
	for i, cmd := range tests {
		in := Message{Seq: uint64(i + 1), Command: cmd}
		raw, err := Encode(in)
		if err != nil {
			t.Fatalf("encode %T: %v", cmd, err)
		}
		out, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %T: %v", cmd, err)
		}
		if out.Seq != in.Seq {
			t.Errorf("%T: seq %v != %v", cmd, out.Seq, in.Seq)
		}
		if out.Command != in.Command {
			t.Errorf("%T: %+v != %+v", cmd, out.Command, in.Command)
		}
	}
}

func TestUnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"t":"selfDestruct","seq":1,"p":{}}`))
	var schema *SchemaError
	if !errors.As(err, &schema) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schema.Tag != "selfDestruct" {
		t.Errorf("wrong tag in error: %q", schema.Tag)
	}
}

func TestMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"linear velocity out of range", `{"t":"moveBase","seq":1,"p":{"linear":100,"angular":0}}`},
		{"angular velocity out of range", `{"t":"moveBase","seq":1,"p":{"linear":0,"angular":-5}}`},
		{"unknown joint", `{"t":"moveJoint","seq":1,"p":{"joint":"joint_wings","delta":0.1}}`},
		{"missing joint", `{"t":"moveJoint","seq":1}`},
		{"unknown mode", `{"t":"setMode","seq":1,"p":{"mode":"superspeed"}}`},
		{"missing correlation id", `{"t":"getTelemetry","seq":1,"p":{}}`},
		{"negative battery", `{"t":"telemetry","seq":1,"p":{"battery":-1}}`},
		{"garbage json", `{"t":"moveBase","seq":1,"p":{"linear":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			var malformed *MalformedPayloadError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedPayloadError, got %v", err)
			}
		})
	}
}

func TestExtremeButInRange(t *testing.T) {
	// in-domain extremes pass; the protocol never clamps
	raw, err := Encode(Message{Seq: 1, Command: MoveBase{Linear: MaxLinearVelocity, Angular: -MaxAngularVelocity}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mb := m.Command.(MoveBase)
	if mb.Linear != MaxLinearVelocity || mb.Angular != -MaxAngularVelocity {
		t.Errorf("values were altered: %+v", mb)
	}
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	_, err := Encode(Message{Seq: 1, Command: MoveBase{Linear: math.NaN()}})
	var malformed *MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedPayloadError, got %v", err)
	}
}
