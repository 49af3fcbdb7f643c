package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/types"
)

const (
	controllerFile = "controller_hpscli"
	pidFile        = "controller.pid"
	logsDirName    = "logs"

	pollInterval = 100 * time.Millisecond
	// SendTimeout bounds the accept step and the terminal step, each.
	SendTimeout = 300 * time.Second

	statusOK   = "1"
	statusFail = "0"
)

// RunFunc executes one command line and returns its rendered output.
type RunFunc func(ctx context.Context, line string) (output string, err error)

// Monitor is the receiving half of the controller bridge. A sibling
// process writes a command line into the controller file; the monitor
// answers by overwriting that file with the path of a per-command log
// and writing the result there.
//
// A finished log holds a status line, the message, and a terminal
// indicator line ("1" success, "0" failure). While the command runs
// the log holds only the status line.
type Monitor struct {
	ctlPath string
	logsDir string
	pidPath string
	run     RunFunc
	log     zerolog.Logger

	cmdMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor prepares the bridge files under dataDir. Stale state from
// a previous run is cleaned first: a recorded PID gets a TERM, the
// controller file is removed and the logs directory emptied.
func NewMonitor(dataDir string, run RunFunc, logger zerolog.Logger) (*Monitor, error) {
	logsDir := filepath.Join(dataDir, logsDirName)
	if err := os.MkdirAll(logsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create controller logs directory: %w", err)
	}

	m := &Monitor{
		ctlPath: filepath.Join(dataDir, controllerFile),
		logsDir: logsDir,
		pidPath: filepath.Join(dataDir, pidFile),
		run:     run,
		log:     logger,
	}
	m.cleanupStale()

	if err := os.WriteFile(m.pidPath, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return m, nil
}

func (m *Monitor) cleanupStale() {
	if data, err := os.ReadFile(m.pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid != os.Getpid() {
			if proc, err := os.FindProcess(pid); err == nil {
				if proc.Signal(syscall.SIGTERM) == nil {
					m.log.Warn().Int("pid", pid).Msg("terminated stale controller process")
				}
			}
		}
		os.Remove(m.pidPath)
	}

	os.Remove(m.ctlPath)
	clearDir(m.logsDir)
}

func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(dir, e.Name()))
	}
}

// Start begins polling the controller file for modification-time
// changes.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
	m.log.Info().Str("file", m.ctlPath).Msg("controller bridge listening")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	// Anything written before the watcher started is stale; startup
	// cleanup already removed the controller file, so only observations
	// newer than this point count.
	lastMod := time.Now()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(m.ctlPath)
		if err != nil {
			continue
		}
		if !info.ModTime().After(lastMod) {
			continue
		}
		lastMod = info.ModTime()

		data, err := os.ReadFile(m.ctlPath)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		// Content starting with the logs directory is our own accept
		// marker, not a fresh command.
		if content == "" || strings.HasPrefix(content, m.logsDir) {
			continue
		}
		m.accept(ctx, content)
	}
}

// accept allocates the log for one command, hands the log path back
// through the controller file and runs the command in its own worker.
func (m *Monitor) accept(ctx context.Context, command string) {
	logPath := filepath.Join(m.logsDir, uuid.NewString()+".log")
	if err := os.WriteFile(logPath, []byte(statusOK+"\n"), 0600); err != nil {
		m.log.Error().Err(err).Msg("failed to create controller log")
		return
	}
	if err := os.WriteFile(m.ctlPath, []byte(logPath), 0600); err != nil {
		m.log.Error().Err(err).Msg("failed to acknowledge controller command")
		return
	}

	go func() {
		m.cmdMu.Lock()
		defer m.cmdMu.Unlock()

		m.log.Info().Str("command", firstWord(command)).Msg("controller command received")
		output, err := m.run(ctx, command)

		status := statusOK
		if err != nil {
			status = statusFail
			output = err.Error()
		}
		if werr := writeLog(logPath, status, output); werr != nil {
			m.log.Error().Err(werr).Msg("failed to write controller reply")
		}
	}()
}

// writeLog replaces the running marker with the finished log in one
// rename, so a polling sender never observes a half-written reply.
func writeLog(logPath, status, message string) error {
	content := status + "\n" + message + "\n" + status + "\n"
	tmp := logPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, logPath)
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

// Stop halts polling and removes the bridge state.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	os.Remove(m.ctlPath)
	os.Remove(m.pidPath)
	clearDir(m.logsDir)
}

// Send is the sending half of the bridge: it writes command into the
// running client's controller file, waits for the file to be rewritten
// with a log path, then waits for that log to finish.
func Send(dataDir, command string) (string, error) {
	ctlPath := filepath.Join(dataDir, controllerFile)
	logsDir := filepath.Join(dataDir, logsDirName)

	if _, err := os.Stat(filepath.Join(dataDir, pidFile)); err != nil {
		return "", fmt.Errorf("no running client found in %s: %w", dataDir, types.ErrNotConnected)
	}

	if err := os.WriteFile(ctlPath, []byte(command), 0600); err != nil {
		return "", fmt.Errorf("failed to write controller file: %w", err)
	}

	logPath, err := awaitAccept(ctlPath, logsDir)
	if err != nil {
		return "", err
	}
	return awaitReply(logPath)
}

func awaitAccept(ctlPath, logsDir string) (string, error) {
	deadline := time.Now().Add(SendTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		data, err := os.ReadFile(ctlPath)
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if strings.HasPrefix(content, logsDir) {
			return content, nil
		}
	}
	return "", fmt.Errorf("command not accepted within %s: %w", SendTimeout, types.ErrRequestTimeout)
}

func awaitReply(logPath string) (string, error) {
	deadline := time.Now().Add(SendTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		data, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) < 3 {
			// Still running: the log holds only the status line.
			continue
		}
		last := lines[len(lines)-1]
		if last != statusOK && last != statusFail {
			continue
		}
		os.Remove(logPath)

		message := strings.Join(lines[1:len(lines)-1], "\n")
		if last != statusOK {
			return "", fmt.Errorf("command failed: %s", message)
		}
		return message, nil
	}
	return "", fmt.Errorf("no reply within %s: %w", SendTimeout, types.ErrRequestTimeout)
}
