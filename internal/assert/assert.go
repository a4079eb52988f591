// Package assert provides lightweight precondition checks in the style used
// throughout this codebase: every exported function validates its inputs
// before doing any work and returns an error rather than panicking.
package assert

import "fmt"

// Check returns an error built from format/args if cond is false, nil otherwise.
// Callers use it as: if err := assert.Check(x > 0, "x must be positive"); err != nil { return err }
func Check(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	return fmt.Errorf(format, args...)
}

// NotNil returns an error naming what if v is nil, nil otherwise.
func NotNil(v interface{}, what string) error {
	if v == nil {
		return fmt.Errorf("%s must not be nil", what)
	}
	return nil
}

// InRange returns an error if v is outside [lo, hi], nil otherwise.
func InRange(v, lo, hi int, what string) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s out of range: %d not in [%d, %d]", what, v, lo, hi)
	}
	return nil
}
