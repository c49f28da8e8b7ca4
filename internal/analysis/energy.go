// SPDX-License-Identifier: MIT
package analysis

import "math"

// Sample is the set of raw PCM sample types the capture backends deliver.
type Sample interface {
	~int16 | ~int32
}

// Normalization divisors that map full-scale integer PCM into [-1, 1].
const (
	Int16Divisor = 32768.0
	Int32Divisor = 2147483648.0
)

// RMS calculates the root-mean-square energy of a frame after normalizing
// every sample by divisor. Accumulation is done in float64 so narrow integer
// samples cannot overflow. An empty frame yields 0; the producer loop never
// passes one in.
func RMS[T Sample](frame []T, divisor float64) float64 {
	if len(frame) == 0 {
		return 0.0
	}

	var sumSquare float64
	for _, sample := range frame {
		s := float64(sample) / divisor
		sumSquare += s * s
	}

	return math.Sqrt(sumSquare / float64(len(frame)))
}
