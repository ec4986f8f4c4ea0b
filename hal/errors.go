package hal

import (
	"github.com/cockroachdb/errors"
	"github.com/jkleinecke/rhi/hal/internal/driver"
)

// Result classifies the outcome of an operation
type Result int

const (
	Ok Result = iota
	// InvalidParameter reports a malformed desc, an unknown or stale handle, or an out-of-range index
	InvalidParameter
	// InvalidOperation reports an operation issued in the wrong state, such as a draw outside a render pass
	InvalidOperation
	// OutOfMemory reports device memory, arena, or descriptor pool exhaustion that survived a retry
	OutOfMemory
	// OutOfHandles reports a fixed-capacity handle table that is full
	OutOfHandles
	// InternalError reports a native failure with no better classification
	InternalError
)

var resultNames = map[Result]string{
	Ok:               "Ok",
	InvalidParameter: "InvalidParameter",
	InvalidOperation: "InvalidOperation",
	OutOfMemory:      "OutOfMemory",
	OutOfHandles:     "OutOfHandles",
	InternalError:    "InternalError",
}

func (r Result) String() string {
	return resultNames[r]
}

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrOutOfHandles     = errors.New("out of handles")
	ErrInternal         = errors.New("internal error")

	// ErrSwapChainOutOfDate is returned when the surface no longer matches the swap chain. The host should
	// call Device.Resize. It is classified as InvalidOperation.
	ErrSwapChainOutOfDate = errors.New("swap chain is out of date")
)

// ResultOf recovers the Result an error was created with. Errors that did not come from this package
// are InternalError.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return Ok
	case errors.Is(err, ErrInvalidParameter):
		return InvalidParameter
	case errors.Is(err, ErrInvalidOperation):
		return InvalidOperation
	case errors.Is(err, ErrOutOfMemory):
		return OutOfMemory
	case errors.Is(err, ErrOutOfHandles):
		return OutOfHandles
	}
	return InternalError
}

func invalidParameter(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidParameter, format, args...)
}

func invalidOperation(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidOperation, format, args...)
}

// nativeError classifies a failure returned by the driver
func nativeError(err error, format string, args ...any) error {
	wrapped := errors.Wrapf(err, format, args...)
	switch {
	case errors.Is(err, driver.ErrOutOfMemory):
		return errors.Mark(wrapped, ErrOutOfMemory)
	case errors.Is(err, driver.ErrOutOfDate):
		return errors.Mark(errors.Mark(wrapped, ErrSwapChainOutOfDate), ErrInvalidOperation)
	}
	return errors.Mark(wrapped, ErrInternal)
}
