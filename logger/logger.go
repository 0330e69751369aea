package logger

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-offline/types"
)

// Factory builds loggers by type name. "default" is the zap logger, "nop"
// discards everything; other names resolve through Register.
type Factory struct {
	creators map[string]types.LoggerCreator
}

func NewFactory() *Factory {
	return &Factory{creators: make(map[string]types.LoggerCreator)}
}

func (f *Factory) Register(loggerName string, creator types.LoggerCreator) {
	f.creators[loggerName] = creator
}

func (f *Factory) Create(config *types.LoggerConfig) (types.Logger, error) {
	if config == nil {
		return nil, types.ErrLoggerConfigNil
	}

	loggerName := "default"
	if config.Type != "" {
		loggerName = config.Type
	}

	switch loggerName {
	case "default":
		l, err := NewDefaultLogger(config)
		if err != nil {
			return nil, err
		}
		return l, nil
	case "nop":
		return NewZapWrapper(zap.NewNop()), nil
	default:
		if creator, exists := f.creators[loggerName]; exists {
			return creator(config.Config)
		}
		return nil, types.Errorf(types.ErrLoggerTypeUnknown, "logger type: %s", loggerName)
	}
}

// Sync flushes the logger if it buffers.
func Sync(logger types.Logger) {
	if syncer, ok := logger.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
}
