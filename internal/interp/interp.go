// Package interp defines the capability the bootstrap delegates to: an
// execution environment that hosts importable modules whose attributes can be
// resolved, called and whose methods can be invoked.
package interp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Runtime is an execution environment that can be started once, queried for
// modules, and closed.
type Runtime interface {
	// Name identifies the runtime in logs and audit entries.
	Name() string
	// Start brings the environment up. It is called once before Import.
	Start(ctx context.Context) error
	// Import resolves a module by name.
	Import(name string) (Object, error)
	// Close tears the environment down. It must be safe to call after a
	// failed Start and more than once.
	Close() error
}

// Object is a handle to a value living inside a Runtime.
type Object interface {
	// GetAttr resolves a named attribute of the object.
	GetAttr(name string) (Object, error)
	// Call calls the object with no arguments.
	Call() (Object, error)
	// CallMethod invokes a named zero-argument method and returns its result
	// as a host value.
	CallMethod(name string) (Value, error)
}

// Value is a result brought back from a Runtime. Native runtimes return plain
// Go values (int, int64, float64, bool, string, nil); out-of-process runtimes
// return *Foreign.
type Value any

// Foreign is a value produced by an out-of-process interpreter.
// Data holds its JSON encoding when one exists.
type Foreign struct {
	Type string
	Data json.RawMessage
	Repr string
}

func (f *Foreign) String() string {
	return fmt.Sprintf("%s (%s)", f.Repr, f.Type)
}

// RemoteError is an exception raised inside an interpreter.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}
