// Package bootstrap hands the process over to the pngtools command loop. It
// acquires a runtime, resolves pngtools.CLI, runs its cmdloop method and turns
// the result into the process exit status.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"

	"pngtools/internal/interp"
)

// The entry point resolved inside the runtime.
const (
	ModuleName = "pngtools"
	ClassName  = "CLI"
	MethodName = "cmdloop"
)

// Target names the entry point in logs and audit entries.
const Target = ModuleName + "." + ClassName + "." + MethodName

// ExitOutcome is the result of one run: an exit code or a failure message.
type ExitOutcome struct {
	Code    int
	Message string
	failed  bool
}

// Success is an outcome that exits with code.
func Success(code int) ExitOutcome {
	return ExitOutcome{Code: code}
}

// Failure is an outcome that reports message and exits with status 1.
func Failure(message string) ExitOutcome {
	if message == "" {
		message = "unknown error"
	}
	return ExitOutcome{Code: 1, Message: message, failed: true}
}

// Outcome builds the ExitOutcome for a Run result.
func Outcome(code int, err error) ExitOutcome {
	if err != nil {
		return Failure(err.Error())
	}
	return Success(code)
}

// Failed reports whether the outcome is a failure.
func (o ExitOutcome) Failed() bool { return o.failed }

// Exit reports a failure on stderr and returns the process exit status. Codes
// are truncated to the 8 bits POSIX keeps, so -1 exits with 255.
func Exit(o ExitOutcome, stderr io.Writer) int {
	if o.failed {
		fmt.Fprintf(stderr, "Error: %s\n", o.Message)
		return 1
	}
	return o.Code & 0xff
}

// Run acquires rt, calls pngtools.CLI().cmdloop() and converts the result.
// The runtime is released on every path; a failure to release it is logged
// and does not change the result.
func Run(ctx context.Context, rt interp.Runtime, logger *log.Logger) (code int, err error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	scope, err := Acquire(ctx, rt)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := scope.Release(); rerr != nil {
			logger.Printf("release %s runtime: %v", rt.Name(), rerr)
		}
	}()

	var module interp.Object
	err = guard(func() (err error) {
		module, err = rt.Import(ModuleName)
		return err
	})
	if err != nil {
		return 0, &Error{Kind: Resolution, Op: "import " + ModuleName, Err: err}
	}

	var class interp.Object
	err = guard(func() (err error) {
		class, err = module.GetAttr(ClassName)
		return err
	})
	if err != nil {
		return 0, &Error{Kind: Resolution, Op: "resolve " + ModuleName + "." + ClassName, Err: err}
	}

	var instance interp.Object
	err = guard(func() (err error) {
		instance, err = class.Call()
		return err
	})
	if err != nil {
		return 0, &Error{Kind: Construction, Op: "construct " + ClassName, Err: err}
	}

	logger.Printf("running %s on the %s runtime", Target, rt.Name())

	var value interp.Value
	err = guard(func() (err error) {
		value, err = instance.CallMethod(MethodName)
		return err
	})
	if err != nil {
		return 0, &Error{Kind: Invocation, Op: "call " + ClassName + "." + MethodName, Err: err}
	}

	code, err = ToExitCode(value)
	if err != nil {
		return 0, &Error{Kind: Conversion, Op: "convert " + MethodName + " result", Err: err}
	}
	return code, nil
}

// guard turns a panic inside fn into an error so the scope is still
// released through the normal return path.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
