package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that offsets, sizes and alignments are expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns an error wrapping ErrPowerOfTwo if number is not zero or a power of two
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown[T Number](value T, alignment T) T {
	if alignment <= 1 {
		return value
	}
	return value &^ (alignment - 1)
}

// BlocksOnSamePage reports whether the end of the resource at resourceAOffset and the start of the resource
// at resourceBOffset land on the same page of pageSize bytes. Linear and optimally-tiled resources that
// share a page conflict under bufferImageGranularity.
func BlocksOnSamePage(resourceAOffset, resourceASize, resourceBOffset, pageSize int) bool {
	resourceAEnd := resourceAOffset + resourceASize - 1
	resourceAEndPage := resourceAEnd &^ (pageSize - 1)
	resourceBStartPage := resourceBOffset &^ (pageSize - 1)
	return resourceAEndPage == resourceBStartPage
}
