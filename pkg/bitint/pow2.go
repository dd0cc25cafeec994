// SPDX-License-Identifier: MIT
/*
Package bitint sizes transform buffers. When padding is enabled the analysis
plan rounds its transform length up to a power of two, and the kernel bank and
estimator are built at that length.

All functions are allocation free and constant time.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// size <= 0. Subtracting one first keeps exact powers of two unchanged.
//
//	Input  Output
//	500    512
//	512    512
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two: exactly one bit
// set, so n&(n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// PadFactor returns how much longer the padded transform is than size.
func PadFactor(size int) float64 {
	if size <= 0 {
		return 1
	}
	return float64(NextPowerOfTwo(size)) / float64(size)
}
