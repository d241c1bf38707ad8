//go:build !windows

package worker

import (
	"os"
	"syscall"
)

// gracefulSignal is the signal sent to request graceful termination.
func gracefulSignal() os.Signal {
	return syscall.SIGTERM
}
