package bridge

import (
	"os/signal"
	"syscall"
)

// ignoreTerminalSignals stops SIGINT and SIGQUIT from killing the host while
// a driver shares its terminal; the driver's command loop handles them. The
// returned function restores default handling.
func ignoreTerminalSignals() func() {
	signal.Ignore(syscall.SIGINT, syscall.SIGQUIT)
	return func() {
		signal.Reset(syscall.SIGINT, syscall.SIGQUIT)
	}
}
