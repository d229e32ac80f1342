// Package command defines the typed command protocol spoken between an
// operator and a robot over the session data channel. It is pure data
// plus validation: ordering and delivery are the session layer's job.
package command

import (
	"fmt"
	"math"
)

// Type tags the closed set of command variants.
type Type string

const (
	TypeMoveBase     Type = "moveBase"
	TypeMoveJoint    Type = "moveJoint"
	TypeSetMode      Type = "setMode"
	TypeHomeRobot    Type = "homeRobot"
	TypeStop         Type = "stop"
	TypeGetTelemetry Type = "getTelemetry"
	TypeTelemetry    Type = "telemetry"
)

// Mode is the robot's control mode.
type Mode string

const (
	ModeNavigation Mode = "navigation"
	ModePosition   Mode = "position"
)

// Velocity domains, m/s and rad/s. Values are validated against these
// bounds, never clamped: clamping is the receiver's call.
const (
	MaxLinearVelocity  = 2.0
	MaxAngularVelocity = 4.0
	MaxJointDelta      = 1.0
)

// Command is one member of the closed variant set.
// The set is sealed: only this package can add variants, and the codec
// rejects any tag outside of it.
type Command interface {
	Type() Type
	Validate() error

	isCommand()
}

// MoveBase drives the mobile base with the given velocities.
type MoveBase struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// MoveJoint nudges a single joint by a delta, meters or radians.
type MoveJoint struct {
	Joint string  `json:"joint"`
	Delta float64 `json:"delta"`
}

// SetMode switches the robot's control mode.
type SetMode struct {
	Mode Mode `json:"mode"`
}

// HomeRobot runs the robot's homing sequence.
type HomeRobot struct{}

// Stop halts all motion immediately.
type Stop struct{}

// GetTelemetry requests a telemetry report; the reply carries the same
// correlation id in a Telemetry variant.
type GetTelemetry struct {
	CorrelationId string `json:"correlation_id"`
}

// Telemetry is the robot's state report, either solicited (correlation
// id set) or periodic.
type Telemetry struct {
	CorrelationId string  `json:"correlation_id,omitempty"`
	Battery       float64 `json:"battery"`
	Mode          Mode    `json:"mode"`
	Charging      bool    `json:"charging"`
}

func (MoveBase) Type() Type     { return TypeMoveBase }
func (MoveJoint) Type() Type    { return TypeMoveJoint }
func (SetMode) Type() Type      { return TypeSetMode }
func (HomeRobot) Type() Type    { return TypeHomeRobot }
func (Stop) Type() Type         { return TypeStop }
func (GetTelemetry) Type() Type { return TypeGetTelemetry }
func (Telemetry) Type() Type    { return TypeTelemetry }

func (MoveBase) isCommand()     {}
func (MoveJoint) isCommand()    {}
func (SetMode) isCommand()      {}
func (HomeRobot) isCommand()    {}
func (Stop) isCommand()         {}
func (GetTelemetry) isCommand() {}
func (Telemetry) isCommand()    {}

// Joints the robot exposes for incremental moves.
var Joints = map[string]struct{}{
	"joint_lift":      {},
	"joint_arm":       {},
	"joint_wrist_yaw": {},
	"joint_head_pan":  {},
	"joint_head_tilt": {},
	"joint_gripper":   {},
}

func (c MoveBase) Validate() error {
	if !finite(c.Linear) || !finite(c.Angular) {
		return fieldErr(c.Type(), "velocity is not a finite number")
	}
	if math.Abs(c.Linear) > MaxLinearVelocity {
		return fieldErr(c.Type(), fmt.Sprintf("linear velocity %v is out of [-%v, %v]", c.Linear, MaxLinearVelocity, MaxLinearVelocity))
	}
	if math.Abs(c.Angular) > MaxAngularVelocity {
		return fieldErr(c.Type(), fmt.Sprintf("angular velocity %v is out of [-%v, %v]", c.Angular, MaxAngularVelocity, MaxAngularVelocity))
	}
	return nil
}

func (c MoveJoint) Validate() error {
	if _, ok := Joints[c.Joint]; !ok {
		return fieldErr(c.Type(), fmt.Sprintf("unknown joint %q", c.Joint))
	}
	if !finite(c.Delta) || math.Abs(c.Delta) > MaxJointDelta {
		return fieldErr(c.Type(), fmt.Sprintf("joint delta %v is out of [-%v, %v]", c.Delta, MaxJointDelta, MaxJointDelta))
	}
	return nil
}

func (c SetMode) Validate() error {
	switch c.Mode {
	case ModeNavigation, ModePosition:
		return nil
	}
	return fieldErr(c.Type(), fmt.Sprintf("unknown mode %q", c.Mode))
}

func (HomeRobot) Validate() error { return nil }
func (Stop) Validate() error      { return nil }

func (c GetTelemetry) Validate() error {
	if c.CorrelationId == "" {
		return fieldErr(c.Type(), "missing correlation id")
	}
	return nil
}

func (c Telemetry) Validate() error {
	if !finite(c.Battery) || c.Battery < 0 {
		return fieldErr(c.Type(), fmt.Sprintf("battery voltage %v is out of domain", c.Battery))
	}
	switch c.Mode {
	case "", ModeNavigation, ModePosition:
		return nil
	}
	return fieldErr(c.Type(), fmt.Sprintf("unknown mode %q", c.Mode))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
