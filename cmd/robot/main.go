package main

import (
	"context"
	goflag "flag"
	stdos "os"

	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/os"
	"github.com/imngui/stretch-web-teleop/pkg/robot"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewRobotConfig()
	conf.AddFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Robot.Debug, "rob", false)
	log.Info().Msgf("version %s", Version)
	if conf.Robot.RoomId == "" {
		host, err := stdos.Hostname()
		if err != nil {
			log.Fatal().Err(err).Msg("no room id and no hostname either")
		}
		conf.Robot.RoomId = host
	}
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	r, err := robot.New(conf, robot.NewSim(log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("robot agent start fail")
	}
	r.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := r.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
