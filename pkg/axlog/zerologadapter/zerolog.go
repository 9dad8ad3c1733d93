package zerologadapter

import (
	"github.com/rs/zerolog"
)

type Adapter struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warn().Fields(keysAndValues).Msg(msg)
}
