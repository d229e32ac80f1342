// Package robot implements the robot-side agent: it holds the room
// registration with the broker, answers negotiation requests with SDP
// offers, and executes operator commands arriving over the session
// data channel.
package robot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/os"
	"github.com/imngui/stretch-web-teleop/pkg/service"
)

type Robot struct {
	conf     config.RobotConfig
	log      *logger.Logger
	agent    *Agent
	lock     *flock.Flock
	services service.Group
}

// New builds the agent behind a per-room file lock, so two agent
// processes can never serve the same room from one machine.
func New(conf config.RobotConfig, hw Hardware, log *logger.Logger) (*Robot, error) {
	if err := os.CheckCreateDir(conf.Robot.LockDir); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(conf.Robot.LockDir, conf.Robot.RoomId+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("room [%v] is already served by another agent", conf.Robot.RoomId)
	}

	agent, err := NewAgent(conf, hw, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	r := &Robot{conf: conf, log: log, agent: agent, lock: lock}
	r.services.Add(agent)
	return r, nil
}

func (r *Robot) Agent() *Agent { return r.agent }

func (r *Robot) Run() { r.services.Start() }

func (r *Robot) Shutdown(ctx context.Context) error {
	err := r.services.Shutdown(ctx)
	if uerr := r.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
