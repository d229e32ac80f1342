package main

import (
	"context"
	goflag "flag"

	"github.com/imngui/stretch-web-teleop/pkg/broker"
	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/os"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewBrokerConfig()
	conf.AddFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Broker.Debug, "brk", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	b, err := broker.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker start fail")
	}
	b.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := b.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
