//go:build !debug_mem_utils

package memutils

import "unsafe"

// DebugMargin is the number of bytes of debug data placed after each allocation in host arenas
const DebugMargin int = 0

// WriteMagicValue writes the corruption marker across DebugMargin bytes at the provided pointer and offset.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {}

// ValidateMagicValue returns true if the marker written by WriteMagicValue is still present.
// This method always returns true unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// DebugValidate calls Validate on the provided object and panics if it returns an error.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {}

// DebugCheckPow2 panics if value is not a power of two.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {}
