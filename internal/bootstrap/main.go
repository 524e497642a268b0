package bootstrap

import (
	"context"
	"io"
	"log"
	"time"

	"pngtools/internal/audit"
	"pngtools/internal/config"
)

// Main loads the configuration from the environment and runs the command
// loop with it.
func Main(ctx context.Context, args []string, stdio Stdio) ExitOutcome {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return Outcome(0, &Error{Kind: RuntimeAcquisition, Op: "load config", Err: err})
	}
	return Execute(ctx, cfg, args, stdio)
}

// Execute runs the command loop on the runtime cfg selects and records the
// run in the audit log.
func Execute(ctx context.Context, cfg *config.Config, args []string, stdio Stdio) ExitOutcome {
	logger := NewLogger(cfg.Debug, stdio.Err)

	auditLog, err := audit.NewLogger(config.ExpandHome(cfg.AuditLog))
	if err != nil {
		logger.Printf("audit log disabled: %v", err)
		auditLog, _ = audit.NewLogger("")
	}
	defer auditLog.Close()

	start := time.Now()
	code, err := run(ctx, cfg, args, stdio, logger)

	entry := audit.Entry{
		Runtime:  cfg.Runtime,
		Target:   Target,
		Args:     args,
		Outcome:  audit.OutcomeSuccess,
		ExitCode: code,
		Duration: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.ExitCode = 1
		entry.Kind = KindOf(err).String()
		entry.Error = err.Error()
		logger.Printf("run failed: %v", err)
	}
	if lerr := auditLog.Log(entry); lerr != nil {
		logger.Printf("audit: %v", lerr)
	}

	return Outcome(code, err)
}

func run(ctx context.Context, cfg *config.Config, args []string, stdio Stdio, logger *log.Logger) (int, error) {
	rt, err := NewRuntime(cfg, args, stdio, logger)
	if err != nil {
		return 0, &Error{Kind: RuntimeAcquisition, Op: "create " + cfg.Runtime + " runtime", Err: err}
	}
	return Run(ctx, rt, logger)
}

// NewLogger returns the diagnostics logger. Output is discarded unless debug
// is set.
func NewLogger(debug bool, w io.Writer) *log.Logger {
	if !debug || w == nil {
		w = io.Discard
	}
	return log.New(w, "[pngtools] ", log.LstdFlags|log.Lmsgprefix)
}
