// Package launcher starts the tunnel service as a detached background
// process.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	logFileName = "service.log"
	pidFileName = "service.pid"
)

var (
	ErrLaunchFailed = errors.New("service launch failed")
	ErrNotRunning   = errors.New("service process not running")
)

// Config configures a Launcher
type Config struct {
	// Executable is the tunnelsync binary; defaults to the running one
	Executable string
	// StateDir holds the service log and pid files
	StateDir string
	// ConfigPath is passed to the service when set
	ConfigPath string
}

// Launcher spawns `tunnelsync service run`
type Launcher struct {
	executable string
	stateDir   string
	configPath string
	logger     *zap.Logger
}

// New creates a Launcher
func New(cfg Config, logger *zap.Logger) *Launcher {
	return &Launcher{
		executable: cfg.Executable,
		stateDir:   cfg.StateDir,
		configPath: cfg.ConfigPath,
		logger:     logger,
	}
}

// Start launches the service detached from the caller's session. It
// returns once the process is spawned; binding to it is up to the caller.
func (l *Launcher) Start(ctx context.Context, wantElevated bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	executable := l.executable
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		executable = exe
	}

	if err := os.MkdirAll(l.stateDir, 0700); err != nil {
		return fmt.Errorf("%w: create state dir: %v", ErrLaunchFailed, err)
	}

	logPath := filepath.Join(l.stateDir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("%w: open log file: %v", ErrLaunchFailed, err)
	}
	defer logFile.Close()

	args := l.args(wantElevated)
	cmd := exec.Command(executable, args...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setupDetached(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(l.pidPath(), []byte(strconv.Itoa(pid)), 0600); err != nil {
		l.logger.Warn("Failed to write service pid file", zap.Error(err))
	}
	if err := cmd.Process.Release(); err != nil {
		l.logger.Debug("Failed to release service process", zap.Error(err))
	}

	l.logger.Info("Service launched",
		zap.Int("pid", pid),
		zap.Bool("vpn", wantElevated),
		zap.String("log", logPath),
	)
	return nil
}

func (l *Launcher) args(wantElevated bool) []string {
	args := []string{"service", "run"}
	if l.configPath != "" {
		args = append(args, "--config", l.configPath)
	}
	if wantElevated {
		args = append(args, "--vpn")
	}
	return args
}

// PID returns the pid of the last launched service
func (l *Launcher) PID() (int, error) {
	data, err := os.ReadFile(l.pidPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}
	return pid, nil
}

// Kill terminates the last launched service process. Used when the
// service no longer answers STOP_SERVICE.
func (l *Launcher) Kill() error {
	pid, err := l.PID()
	if err != nil {
		return err
	}
	defer os.Remove(l.pidPath())

	process, err := os.FindProcess(pid)
	if err != nil || !isProcessRunning(process) {
		return ErrNotRunning
	}
	return killProcess(process)
}

// LogPath returns the service log file path
func (l *Launcher) LogPath() string {
	return filepath.Join(l.stateDir, logFileName)
}

func (l *Launcher) pidPath() string {
	return filepath.Join(l.stateDir, pidFileName)
}
