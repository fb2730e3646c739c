package logging

import "go.uber.org/zap"

// New creates a sugared zap logger for the given environment. Production gets
// JSON output at info level; test gets a no-op logger; anything else gets the
// development console logger.
func New(environment string) *zap.SugaredLogger {
	var (
		logger *zap.Logger
		err    error
	)
	switch environment {
	case "production":
		logger, err = zap.NewProduction()
	case "test":
		logger = zap.NewNop()
	default:
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		logger = zap.NewExample()
	}
	return logger.Sugar()
}
