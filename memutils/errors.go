package memutils

import "github.com/cockroachdb/errors"

var (
	// ErrPowerOfTwo is returned from CheckPow2 or other methods if the number being tested is not a power of two
	ErrPowerOfTwo = errors.New("number must be a power of two")
	// ErrOutOfSpace is returned when a block cannot fit a requested allocation
	ErrOutOfSpace = errors.New("block does not have room for the allocation")
	// ErrCorruption is returned when a debug margin written after an allocation has been overwritten
	ErrCorruption = errors.New("memory corruption detected in debug margin")
)
