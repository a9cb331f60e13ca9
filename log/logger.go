package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	once           sync.Once
	level          = zapcore.InfoLevel
	outputPaths    = []string{"stdout"}
)

// Configure sets the level and sink used by GetInstance. It must be called
// before the first GetInstance call to have any effect.
func Configure(levelName, output string) {
	if l, err := zapcore.ParseLevel(strings.TrimSpace(levelName)); err == nil {
		level = l
	}
	if output = strings.TrimSpace(output); output != "" {
		outputPaths = []string{output}
	}
}

// initLogger initializes structured JSON logger for production
func initLogger() {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = outputPaths
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := config.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	loggerInstance = logger
}

// GetInstance returns the process wide logger
func GetInstance() *zap.Logger {
	once.Do(initLogger)
	return loggerInstance
}
