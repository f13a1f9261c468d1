package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/ocpp-sim/chargepoint-simulator/internal/errs"
)

// checkStalePID returns a Fatal error if path names a PID file whose
// process is still alive. A missing file, an unreadable file, or a PID
// that no longer exists are all treated as "stale": nil is returned and
// the file is left in place for writePID to overwrite.
func checkStalePID(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil // unreadable PID file is treated as stale, not fatal
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil
	}

	if processAlive(pid) {
		return errs.NewFatal("supervisor.checkStalePID",
			fmt.Errorf("pid file %s references live process %d", path, pid))
	}
	return nil
}

// processAlive reports whether pid names a running process. On Unix,
// signal 0 checks existence/permission without affecting the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func writePID(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return errs.NewFatal("supervisor.writePID", fmt.Errorf("write pid file %s: %w", path, err))
	}
	return nil
}
