package main

import (
	"context"
	goflag "flag"

	"github.com/imngui/stretch-web-teleop/pkg/api"
	"github.com/imngui/stretch-web-teleop/pkg/command"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/operator"
	"github.com/imngui/stretch-web-teleop/pkg/os"
	"github.com/imngui/stretch-web-teleop/pkg/session"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewOperatorConfig()
	conf.AddFlags(flag.CommandLine)
	room := flag.String("join", "", "Room to join right away")
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Operator.Debug, "op", false)
	log.Info().Msgf("version %s", Version)

	op, err := operator.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("operator start fail")
	}
	op.OnTelemetry(func(t command.Telemetry) {
		log.Info().Msgf("telemetry: battery %.2fv, mode %v, charging %v", t.Battery, t.Mode, t.Charging)
	})
	op.OnSessionState(func(s session.State) { log.Info().Msgf("session %v", s) })
	op.OnRoomState(func(ev api.RoomStateEvent) { log.Info().Msgf("room [%v] is %v", ev.RoomId, ev.State) })

	lost, err := op.Connect()
	if err != nil {
		log.Fatal().Err(err).Msgf("couldn't reach the broker at %v", conf.Operator.Network.BrokerAddress)
	}

	rooms, err := op.Rooms()
	if err != nil {
		log.Fatal().Err(err).Msg("room directory fail")
	}
	for _, r := range rooms {
		log.Info().Msgf("room [%v] is %v", r.RoomId, r.State)
	}

	if *room != "" {
		id, err := op.Join(*room)
		if err != nil {
			log.Fatal().Err(err).Msgf("couldn't join room [%v]", *room)
		}
		log.Info().Msgf("joined room [%v], session [%v]", *room, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := op.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	select {
	case <-os.ExpectTermination():
	case <-lost:
		log.Error().Msg("broker connection lost")
	}
	cancel()
}
