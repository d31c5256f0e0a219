// SPDX-License-Identifier: MIT

// Package bitint provides power-of-two helpers used for FFT and buffer
// sizing. All operations are O(1), allocation-free and real-time safe.
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size. Exact powers of 2
// are preserved; zero and negative inputs return 1.
//
// The size-1 subtraction is what preserves exact powers of 2: for 8,
// bits.Len64(7) = 3 and 1<<3 = 8, while bits.Len64(8) = 4 would
// incorrectly double the input.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return int(1 << bits.Len64(uint64(size-1)))
}

// IsPowerOfTwo reports whether n is a positive power of 2.
// Powers of 2 have exactly one bit set, so n&(n-1) is 0 only for them.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
