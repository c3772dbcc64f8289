// Package logger provides logging implementations for dockpipe runs.
//
// The loggers receive pipeline events (stage start and completion, engine
// output, finished and failed requests) as well as plain levelled messages.
// Implementations are thread-safe so batch runs can share one instance.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/dockpipe/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs docking progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is enabled when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a TTY that should get colors.
// NO_COLOR (via color.NoColor) always wins.
func isTerminal(w io.Writer) bool {
	if color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel writes "[HH:MM:SS] [LEVEL] message" if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, levelColor(level).Sprint(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func levelColor(level string) *color.Color {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "INFO":
		return color.New(color.FgBlue)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// write emits a pre-formatted line at level if filtering allows it.
func (cl *ConsoleLogger) write(level, line string) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	fmt.Fprintf(cl.writer, "[%s] %s\n", timestamp(), line)
}

func (cl *ConsoleLogger) paint(c *color.Color, s string) string {
	if !cl.colorOutput {
		return s
	}
	return c.Sprint(s)
}

// LogStageStart logs the start of a pipeline stage at DEBUG level.
// Format: "[HH:MM:SS] <target> <stage>..."
func (cl *ConsoleLogger) LogStageStart(req models.DockRequest, stage models.Stage) {
	cl.write("debug", fmt.Sprintf("%s %s...", requestLabel(req), stage))
}

// LogStageComplete logs a finished stage at DEBUG level.
// Format: "[HH:MM:SS] <target> <stage> done (<duration>)"
func (cl *ConsoleLogger) LogStageComplete(req models.DockRequest, stage models.Stage, elapsed time.Duration) {
	cl.write("debug", fmt.Sprintf("%s %s %s (%s)", requestLabel(req), stage,
		cl.paint(color.New(color.FgGreen), "done"), formatElapsed(elapsed)))
}

// LogEngineOutput logs the engine console output at TRACE level, one line per entry.
func (cl *ConsoleLogger) LogEngineOutput(req models.DockRequest, output string) {
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		cl.write("trace", fmt.Sprintf("%s vina| %s", requestLabel(req), line))
	}
}

// LogWarning logs a non-fatal problem with a request at WARN level.
func (cl *ConsoleLogger) LogWarning(req models.DockRequest, msg string) {
	cl.logWithLevel("WARN", fmt.Sprintf("%s %s", requestLabel(req), msg))
}

// LogDockComplete logs a successful request at INFO level.
// Format: "[HH:MM:SS] <target> <smiles>: best <score> kcal/mol, <n> poses (<duration>)"
func (cl *ConsoleLogger) LogDockComplete(result *models.DockResult) {
	if result == nil {
		return
	}
	score := fmt.Sprintf("%.2f", result.Best)
	if cl.colorOutput {
		score = scoreColor(result.Best).Sprint(score)
	}
	cl.write("info", fmt.Sprintf("%s %s: best %s kcal/mol, %d poses (%s)",
		cl.paint(color.New(color.Bold), result.Request.Target), result.Request.Smiles,
		score, len(result.Poses), formatDuration(result.Duration)))
}

// LogDockFail logs a failed request at ERROR level with its error kind.
func (cl *ConsoleLogger) LogDockFail(req models.DockRequest, err error) {
	kind := models.KindOf(err).String()
	cl.logWithLevel("ERROR", fmt.Sprintf("%s %s: %s: %v",
		requestLabel(req), req.Smiles, cl.paint(color.New(color.FgRed), kind), err))
}

// LogBatchProgress logs how many batch requests have finished at INFO level.
// Format: "[HH:MM:SS] Progress: [====      ] 4/10 (40%) - 1 failed"
func (cl *ConsoleLogger) LogBatchProgress(done, failed, total int) {
	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(done)
	msg := "Progress: " + pb.Render()
	if failed > 0 {
		msg += " - " + cl.paint(color.New(color.FgRed), fmt.Sprintf("%d failed", failed))
	}
	cl.write("info", msg)
}

func requestLabel(req models.DockRequest) string {
	if req.Target == "" {
		return "[" + shortID(req.ID) + "]"
	}
	return fmt.Sprintf("[%s %s]", req.Target, shortID(req.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatElapsed renders short stage timings with millisecond precision.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, remainder/time.Second)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, remainder/time.Second)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger discards all events.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogStageStart(models.DockRequest, models.Stage)                   {}
func (n *NoOpLogger) LogStageComplete(models.DockRequest, models.Stage, time.Duration) {}
func (n *NoOpLogger) LogEngineOutput(models.DockRequest, string)                       {}
func (n *NoOpLogger) LogWarning(models.DockRequest, string)                            {}
func (n *NoOpLogger) LogDockComplete(*models.DockResult)                               {}
func (n *NoOpLogger) LogDockFail(models.DockRequest, error)                            {}
