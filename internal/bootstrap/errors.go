package bootstrap

import (
	"errors"
	"fmt"
)

// Kind classifies the step of the bootstrap that failed.
type Kind int

const (
	RuntimeAcquisition Kind = iota + 1
	Resolution
	Construction
	Invocation
	Conversion
)

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrRuntimeAcquisition = errors.New("runtime acquisition failed")
	ErrResolution         = errors.New("resolution failed")
	ErrConstruction       = errors.New("construction failed")
	ErrInvocation         = errors.New("invocation failed")
	ErrConversion         = errors.New("conversion failed")
)

func (k Kind) String() string {
	switch k {
	case RuntimeAcquisition:
		return "RuntimeAcquisitionError"
	case Resolution:
		return "ResolutionError"
	case Construction:
		return "ConstructionError"
	case Invocation:
		return "InvocationError"
	case Conversion:
		return "ConversionError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case RuntimeAcquisition:
		return ErrRuntimeAcquisition
	case Resolution:
		return ErrResolution
	case Construction:
		return ErrConstruction
	case Invocation:
		return ErrInvocation
	case Conversion:
		return ErrConversion
	}
	return nil
}

// Error is a terminal bootstrap failure.
type Error struct {
	Kind Kind
	// Op describes the step, e.g. "import pngtools".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
