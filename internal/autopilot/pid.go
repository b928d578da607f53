package autopilot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile marks a running autopilot daemon so `billr autopilot stop`
// can signal it.
type PIDFile struct {
	path string
}

func NewPIDFile(configDir string) PIDFile {
	return PIDFile{path: filepath.Join(configDir, "billr.pid")}
}

func (p PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (p PIDFile) Remove() {
	os.Remove(p.path)
}

func (p PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, errors.New("no running autopilot found")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.New("invalid PID file")
	}

	return pid, nil
}

// Signal sends SIGTERM to the recorded process.
func (p PIDFile) Signal() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signaling process %d: %w", pid, err)
	}
	return pid, nil
}
