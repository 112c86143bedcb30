package forward

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wybxc/portfwd/pkg/pool"
)

type Option func(e *Engine)

func WithMode(m Mode) Option {
	return func(e *Engine) {
		e.mode = m
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

func WithPool(p *pool.Pool) Option {
	return func(e *Engine) {
		e.pool = p
	}
}

func WithUDPIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.idleTimeout = d
	}
}
