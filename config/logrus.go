package config

import (
	"context"
	"os"
	"strings"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

// LoggerFromContext tags entries with the request's correlation id and actor.
func LoggerFromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if cid, ok := appctx.Value[string](ctx, appctx.KeyCorrelationId); ok && cid != "" {
		fields["correlation_id"] = cid
	}
	if id, ok := appctx.Value[int](ctx, appctx.KeyUserId); ok && id > 0 {
		fields["user_id"] = id
	}
	if name, ok := appctx.Value[string](ctx, appctx.KeyUserName); ok && name != "" {
		fields["user_name"] = name
	}
	return logg.WithFields(fields)
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logLevelFromEnv())
	logg.SetOutput(os.Stdout)
}

// LOG_LEVEL accepts any logrus level name; defaults to error
func logLevelFromEnv() logrus.Level {
	raw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if raw == "" {
		return logrus.ErrorLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.ErrorLevel
	}
	return level
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, step string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  step,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
