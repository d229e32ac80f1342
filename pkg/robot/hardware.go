package robot

import (
	"sync"

	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

// Hardware abstracts the robot driver. Commands arrive already
// validated; the driver may still reject what the body cannot do.
type Hardware interface {
	Apply(cmd command.Command) error
	Telemetry() command.Telemetry
}

// Sim is an in-process driver for running the agent without a body
// attached. It tracks mode and joint positions and drains a pretend
// battery, which is enough for end-to-end testing.
type Sim struct {
	log *logger.Logger

	mu      sync.Mutex
	mode    command.Mode
	joints  map[string]float64
	battery float64
}

func NewSim(log *logger.Logger) *Sim {
	return &Sim{
		log:     log,
		mode:    command.ModePosition,
		joints:  make(map[string]float64, len(command.Joints)),
		battery: 12.6,
	}
}

func (s *Sim) Apply(cmd command.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c := cmd.(type) {
	case command.MoveBase:
		s.log.Debug().Msgf("base velocity (%v, %v)", c.Linear, c.Angular)
	case command.MoveJoint:
		s.joints[c.Joint] += c.Delta
		s.log.Debug().Msgf("joint %v -> %v", c.Joint, s.joints[c.Joint])
	case command.SetMode:
		s.mode = c.Mode
		s.log.Info().Msgf("mode -> %v", c.Mode)
	case command.HomeRobot:
		for j := range s.joints {
			s.joints[j] = 0
		}
		s.log.Info().Msg("homed")
	case command.Stop:
		s.log.Info().Msg("full stop")
	default:
		s.log.Warn().Msgf("ignored command [%v]", cmd.Type())
	}
	return nil
}

func (s *Sim) Telemetry() command.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery > 10.8 {
		s.battery -= 0.001
	}
	return command.Telemetry{Battery: s.battery, Mode: s.mode}
}

// Joint reports the simulated position of one joint.
func (s *Sim) Joint(name string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joints[name]
}
