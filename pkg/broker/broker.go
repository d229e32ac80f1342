// Package broker implements the signaling broker: the rendezvous
// point that pairs operator frontends with robot agents and relays
// their connection negotiation.
package broker

import (
	"context"
	"net/http"

	"github.com/imngui/stretch-web-teleop/pkg/config"
	"github.com/imngui/stretch-web-teleop/pkg/logger"
	"github.com/imngui/stretch-web-teleop/pkg/monitoring"
	"github.com/imngui/stretch-web-teleop/pkg/network/httpx"
	"github.com/imngui/stretch-web-teleop/pkg/registry"
	"github.com/imngui/stretch-web-teleop/pkg/service"
)

type Broker struct {
	conf     config.BrokerConfig
	log      *logger.Logger
	hub      *Hub
	services service.Group
}

func New(conf config.BrokerConfig, log *logger.Logger) (*Broker, error) {
	b := &Broker{conf: conf, log: log}
	b.hub = NewHub(conf, registry.New(log), newMetrics(), log)

	srv, err := b.newServer()
	if err != nil {
		return nil, err
	}
	b.services.Add(srv)
	b.services.AddIf(conf.Broker.Monitoring.IsEnabled(),
		monitoring.New(conf.Broker.Monitoring, "brk", log))
	return b, nil
}

func (b *Broker) newServer() (*httpx.Server, error) {
	conf := b.conf.Broker.Server
	address := conf.Address
	options := []httpx.Option{httpx.WithLogger(b.log)}
	if conf.Https {
		address = conf.Tls.Address
		options = append(options,
			httpx.WithTLS(conf.Tls.Domain, conf.Tls.HttpsCert, conf.Tls.HttpsKey, "certs"))
	}
	return httpx.NewServer(address, func(*httpx.Server) http.Handler {
		return b.hub.Handler()
	}, options...)
}

func (b *Broker) Run() { b.services.Start() }

func (b *Broker) Shutdown(ctx context.Context) error { return b.services.Shutdown(ctx) }

func (b *Broker) String() string { return "broker::" + b.conf.Broker.Server.Address }
