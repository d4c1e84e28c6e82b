package signals

import (
	"ai-notetaking-client/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
)

// watermillLogger routes watermill's own logging into ILogger.
type watermillLogger struct {
	log    logger.ILogger
	fields watermill.LogFields
}

func NewWatermillLogger(log logger.ILogger) watermill.LoggerAdapter {
	return &watermillLogger{log: log, fields: watermill.LogFields{}}
}

func (l *watermillLogger) details(fields watermill.LogFields) map[string]interface{} {
	merged := l.fields.Add(fields)
	details := make(map[string]interface{}, len(merged))
	for k, v := range merged {
		details[k] = v
	}
	return details
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	details := l.details(fields)
	details["error"] = err
	l.log.Error("WATERMILL", msg, details)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info("WATERMILL", msg, l.details(fields))
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug("WATERMILL", msg, l.details(fields))
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Debug("WATERMILL", msg, l.details(fields))
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: l.log, fields: l.fields.Add(fields)}
}
