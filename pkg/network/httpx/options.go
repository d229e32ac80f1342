package httpx

import (
	"time"

	"github.com/imngui/stretch-web-teleop/pkg/logger"
)

type Options struct {
	Https          bool
	HttpsDomain    string
	HttpsCert      string
	HttpsKey       string
	HttpsCertCache string
	IdleTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Logger         *logger.Logger
}

type Option func(*Options)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func WithLogger(log *logger.Logger) Option { return func(o *Options) { o.Logger = log } }

func WithTLS(domain, cert, key, cache string) Option {
	return func(o *Options) {
		o.Https = true
		o.HttpsDomain = domain
		o.HttpsCert = cert
		o.HttpsKey = key
		o.HttpsCertCache = cache
	}
}
