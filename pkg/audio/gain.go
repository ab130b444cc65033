package audio

import "math"

// Gain limits exposed to the settings UI, in decibels. The configuration
// stores the linear factor; dB is a presentation concern.
const (
	MinGainDB = -20.0
	MaxGainDB = 20.0
)

// DBToLinear converts a decibel gain value to a linear multiplier.
// 0 dB maps to 1.0, +20 dB to 10.0, -20 dB to 0.1.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts a linear gain multiplier to decibels.
// Non-positive input returns MinGainDB rather than -Inf.
func LinearToDB(linear float64) float64 {
	if linear <= 0 {
		return MinGainDB
	}
	return 20 * math.Log10(linear)
}

// ClampGain restricts a linear gain value to the representable dB range
// [MinGainDB, MaxGainDB]. Zero or negative gain clamps to the minimum.
func ClampGain(linear float64) float64 {
	minLin := DBToLinear(MinGainDB)
	maxLin := DBToLinear(MaxGainDB)
	if linear < minLin {
		return minLin
	}
	if linear > maxLin {
		return maxLin
	}
	return linear
}

// ApplyGain multiplies every sample by the linear gain factor, saturating at
// the int16 range boundaries instead of wrapping. The input slice is not
// modified; a new slice is returned. A gain of exactly 1.0 returns the input
// unchanged (zero allocation).
func ApplyGain(samples []int16, gain float64) []int16 {
	if gain == 1.0 {
		return samples
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = ClampSample(int32(math.Round(float64(s) * gain)))
	}
	return out
}

// ClampSample saturates a 32-bit intermediate value to the int16 range.
func ClampSample(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
