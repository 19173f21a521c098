package audio

import "math"

// PeakNormalize scales samples so the peak amplitude reaches 1.0.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, v := range samples {
		if v > peak {
			peak = v
		} else if -v > peak {
			peak = -v
		}
	}
	if peak == 0 {
		return samples
	}
	for i := range samples {
		samples[i] /= peak
	}
	return samples
}

// DCBlock removes DC offset from samples using a high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate <= 0 {
		return samples
	}
	const cutoffHz = 20.0
	r := 1 - 2*math.Pi*cutoffHz/float64(sampleRate)
	var prevIn, prevOut float64
	for i, v := range samples {
		x := float64(v)
		y := x - prevIn + r*prevOut
		prevIn, prevOut = x, y
		samples[i] = float32(y)
	}
	return samples
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(ms / 1000 * float64(sampleRate))
	if n > len(samples) {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}
	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := int(ms / 1000 * float64(sampleRate))
	if n > len(samples) {
		n = len(samples)
	}
	start := len(samples) - n
	for i := 0; i < n; i++ {
		samples[start+i] *= float32(n-1-i) / float32(n)
	}
	return samples
}
