package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/dockpipe/internal/models"
)

// FileLogger logs docking events to files in .dockpipe/logs/.
// It creates a timestamped per-run log, a per-request log holding engine
// output and failure details, and maintains a latest.log symlink pointing
// to the most recent run.
type FileLogger struct {
	logDir      string
	runLog      *os.File
	runFile     string
	requestsDir string
	logLevel    string
	mu          sync.Mutex
}

// NewFileLogger creates a FileLogger writing to .dockpipe/logs/ at level info.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".dockpipe", "logs"), "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
// Uses default log level "info".
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	requestsDir := filepath.Join(logDir, "requests")
	if err := os.MkdirAll(requestsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:      logDir,
		runLog:      file,
		runFile:     runFile,
		requestsDir: requestsDir,
		logLevel:    normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== dockpipe Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of this run's log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// RequestLogPath returns the per-request log path for a request id.
func (fl *FileLogger) RequestLogPath(id string) string {
	return filepath.Join(fl.requestsDir, fmt.Sprintf("request-%s.log", id))
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogStageStart logs the start of a stage at DEBUG level.
func (fl *FileLogger) LogStageStart(req models.DockRequest, stage models.Stage) {
	if !fl.shouldLog("debug") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s %s started\n", timestamp(), requestLabel(req), stage))
}

// LogStageComplete logs a finished stage with its duration at DEBUG level.
func (fl *FileLogger) LogStageComplete(req models.DockRequest, stage models.Stage, elapsed time.Duration) {
	if !fl.shouldLog("debug") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s %s complete: duration %.3fs\n",
		timestamp(), requestLabel(req), stage, elapsed.Seconds()))
}

// LogEngineOutput appends the engine console output to the request log
// regardless of level.
func (fl *FileLogger) LogEngineOutput(req models.DockRequest, output string) {
	fl.appendRequestLog(req.ID, fmt.Sprintf("=== Engine output (%s) ===\n%s\n", time.Now().Format(time.RFC3339), output))
}

// LogWarning logs a non-fatal request problem at WARN level.
func (fl *FileLogger) LogWarning(req models.DockRequest, msg string) {
	fl.logWithLevel("WARN", fmt.Sprintf("%s %s", requestLabel(req), msg))
}

// LogDockComplete logs a successful request summary at INFO level.
func (fl *FileLogger) LogDockComplete(result *models.DockResult) {
	if result == nil || !fl.shouldLog("info") {
		return
	}
	ts := timestamp()
	message := fmt.Sprintf(
		"[%s] === DOCK COMPLETE %s ===\n"+
			"[%s] Target:     %s\n"+
			"[%s] SMILES:     %s\n"+
			"[%s] Canonical:  %s\n"+
			"[%s] Seed:       %d\n"+
			"[%s] Best score: %.3f kcal/mol (%d poses)\n"+
			"[%s] Digest:     %s\n"+
			"[%s] Total time: %.1fs\n",
		ts, result.RunID,
		ts, result.Request.Target,
		ts, result.Request.Smiles,
		ts, result.Request.Canonical,
		ts, result.Request.Seed,
		ts, result.Best, len(result.Poses),
		ts, result.Digest,
		ts, result.Duration.Seconds(),
	)
	fl.writeRunLog(message)
}

// LogDockFail logs a failed request at ERROR level and writes the full
// error to the request log. DockError messages carry captured tool output.
func (fl *FileLogger) LogDockFail(req models.DockRequest, err error) {
	kind := models.KindOf(err).String()
	fl.logWithLevel("ERROR", fmt.Sprintf("%s %s failed (%s): %v", requestLabel(req), req.Smiles, kind, err))

	content := fmt.Sprintf("=== Failure (%s) ===\n", time.Now().Format(time.RFC3339))
	content += fmt.Sprintf("Target: %s\nSMILES: %s\nSeed: %d\nKind: %s\n\nError:\n%v\n", req.Target, req.Smiles, req.Seed, kind, err)
	fl.appendRequestLog(req.ID, content)
}

func (fl *FileLogger) appendRequestLog(id, content string) {
	if id == "" {
		id = "unknown"
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()

	f, err := os.OpenFile(fl.RequestLogPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(content)
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
