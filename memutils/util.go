package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// Granularity returns the element size of the size class at the provided index: 8 bytes for class 0,
// doubling with each class after.
func Granularity(index int) int {
	return MinGranularity << uint(index)
}

// MaxSizeClasses is the largest number of initial size classes whose granularity still fits in an int
const MaxSizeClasses = 60

// MinGranularity is the element size of the smallest initial size class
const MinGranularity = 8
