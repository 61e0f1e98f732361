package capture

import "math"

// levelGain scales RMS so typical speech saturates the meter near 1.0
// without per-device calibration.
const levelGain = 10.0

// Level computes the normalized loudness of one sample block:
// min(1, 10 * RMS). An empty block has level 0.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	return math.Min(1, rms*levelGain)
}
