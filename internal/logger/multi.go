package logger

import (
	"time"

	"github.com/harrison/dockpipe/internal/models"
)

// EventLogger is the set of pipeline events every logger in this package handles.
type EventLogger interface {
	LogStageStart(req models.DockRequest, stage models.Stage)
	LogStageComplete(req models.DockRequest, stage models.Stage, elapsed time.Duration)
	LogEngineOutput(req models.DockRequest, output string)
	LogWarning(req models.DockRequest, msg string)
	LogDockComplete(result *models.DockResult)
	LogDockFail(req models.DockRequest, err error)
}

// LevelLogger accepts plain levelled messages.
type LevelLogger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// MultiLogger forwards every event to each of its loggers in order.
// Levelled messages reach only the loggers that implement LevelLogger.
type MultiLogger struct {
	loggers []EventLogger
}

// NewMultiLogger creates a MultiLogger, skipping nil entries.
func NewMultiLogger(loggers ...EventLogger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) LogStageStart(req models.DockRequest, stage models.Stage) {
	for _, l := range m.loggers {
		l.LogStageStart(req, stage)
	}
}

func (m *MultiLogger) LogStageComplete(req models.DockRequest, stage models.Stage, elapsed time.Duration) {
	for _, l := range m.loggers {
		l.LogStageComplete(req, stage, elapsed)
	}
}

func (m *MultiLogger) LogEngineOutput(req models.DockRequest, output string) {
	for _, l := range m.loggers {
		l.LogEngineOutput(req, output)
	}
}

func (m *MultiLogger) LogWarning(req models.DockRequest, msg string) {
	for _, l := range m.loggers {
		l.LogWarning(req, msg)
	}
}

func (m *MultiLogger) LogDockComplete(result *models.DockResult) {
	for _, l := range m.loggers {
		l.LogDockComplete(result)
	}
}

func (m *MultiLogger) LogDockFail(req models.DockRequest, err error) {
	for _, l := range m.loggers {
		l.LogDockFail(req, err)
	}
}

func (m *MultiLogger) each(fn func(LevelLogger)) {
	for _, l := range m.loggers {
		if ll, ok := l.(LevelLogger); ok {
			fn(ll)
		}
	}
}

func (m *MultiLogger) LogTrace(message string) { m.each(func(l LevelLogger) { l.LogTrace(message) }) }
func (m *MultiLogger) LogDebug(message string) { m.each(func(l LevelLogger) { l.LogDebug(message) }) }
func (m *MultiLogger) LogInfo(message string)  { m.each(func(l LevelLogger) { l.LogInfo(message) }) }
func (m *MultiLogger) LogWarn(message string)  { m.each(func(l LevelLogger) { l.LogWarn(message) }) }
func (m *MultiLogger) LogError(message string) { m.each(func(l LevelLogger) { l.LogError(message) }) }
