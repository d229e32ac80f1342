package config

import (
	"time"

	"github.com/spf13/pflag"
)

type (
	BrokerConfig struct {
		Broker Broker
	}
	RobotConfig struct {
		Robot   Robot
		Session Session
		Webrtc  Webrtc
	}
	OperatorConfig struct {
		Operator Operator
		Session  Session
		Webrtc   Webrtc
	}
)

type Broker struct {
	Debug      bool
	Server     Server
	Monitoring Monitoring
}

type Server struct {
	Address string
	Origin  string
	Https   bool
	Tls     struct {
		Address string
		Domain  string
		// folder for autocert certificates
		HttpsCert string
		HttpsKey  string
	}
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

type Robot struct {
	Debug   bool
	RoomId  string
	Tag     string
	LockDir string
	Network Network
	// period between unsolicited telemetry reports, 0 disables them
	TelemetryInterval time.Duration
}

type Operator struct {
	Debug   bool
	Network Network
}

type Network struct {
	BrokerAddress string
	Endpoint      string
	Secure        bool
}

// Session holds the peer connection supervisor knobs. The defaults are
// deliberately conservative: 5s of degraded grace, 3 renegotiation
// attempts with doubling backoff.
type Session struct {
	GracePeriod        time.Duration
	RetryBudget        int
	Backoff            time.Duration
	BackoffFactor      float64
	QueueSize          int
	ProtocolErrorLimit int
}

func (s *Session) fixValues() {
	if s.GracePeriod <= 0 {
		s.GracePeriod = 5 * time.Second
	}
	if s.RetryBudget <= 0 {
		s.RetryBudget = 3
	}
	if s.Backoff <= 0 {
		s.Backoff = time.Second
	}
	if s.BackoffFactor < 1 {
		s.BackoffFactor = 2
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 32
	}
	if s.ProtocolErrorLimit <= 0 {
		s.ProtocolErrorLimit = 5
	}
}

// allows custom config path
var configPath string

func NewBrokerConfig() (conf BrokerConfig) {
	if err := LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	return
}

func NewRobotConfig() (conf RobotConfig) {
	if err := LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	conf.Session.fixValues()
	return
}

func NewOperatorConfig() (conf OperatorConfig) {
	if err := LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	conf.Session.fixValues()
	return
}

func (c *BrokerConfig) AddFlags(fs *pflag.FlagSet) *BrokerConfig {
	fs.BoolVar(&c.Broker.Debug, "debug", c.Broker.Debug, "Enable debug logging")
	fs.StringVar(&c.Broker.Server.Address, "address", c.Broker.Server.Address, "Broker server address")
	fs.BoolVarP(&c.Broker.Monitoring.MetricEnabled, "monitoring.metric", "m", c.Broker.Monitoring.MetricEnabled, "Enable prometheus metrics for the server")
	fs.BoolVarP(&c.Broker.Monitoring.ProfilingEnabled, "monitoring.pprof", "p", c.Broker.Monitoring.ProfilingEnabled, "Enable golang pprof for the server")
	fs.IntVar(&c.Broker.Monitoring.Port, "monitoring.port", c.Broker.Monitoring.Port, "Monitoring server port")
	fs.StringVar(&configPath, "conf", configPath, "Set custom configuration file path")
	return c
}

func (c *RobotConfig) AddFlags(fs *pflag.FlagSet) *RobotConfig {
	fs.BoolVar(&c.Robot.Debug, "debug", c.Robot.Debug, "Enable debug logging")
	fs.StringVar(&c.Robot.RoomId, "room", c.Robot.RoomId, "Room id the robot registers under (defaults to the hostname)")
	fs.StringVar(&c.Robot.Network.BrokerAddress, "brokerhost", c.Robot.Network.BrokerAddress, "Broker address to connect")
	fs.StringVar(&configPath, "conf", configPath, "Set custom configuration file path")
	return c
}

func (c *OperatorConfig) AddFlags(fs *pflag.FlagSet) *OperatorConfig {
	fs.BoolVar(&c.Operator.Debug, "debug", c.Operator.Debug, "Enable debug logging")
	fs.StringVar(&c.Operator.Network.BrokerAddress, "brokerhost", c.Operator.Network.BrokerAddress, "Broker address to connect")
	fs.StringVar(&configPath, "conf", configPath, "Set custom configuration file path")
	return c
}
