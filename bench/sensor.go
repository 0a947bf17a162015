package bench

import "math"

// Hall sensors sit 120 electrical degrees apart.
var hallPlacement = [3]float64{0, -2 * math.Pi / 3, 2 * math.Pi / 3}

// hallCode returns the 3 bit Hall code at the electrical angle theta.
func hallCode(theta float64) int {
	var code int
	for k, off := range hallPlacement {
		if math.Sin(theta+off) >= 0 {
			code |= 1 << k
		}
	}
	return code
}

// HallTable returns the unit vector of the sector centre of each Hall code
// for the sensor placement of the plant. Index 0 and 7 stay zero.
func HallTable() [7][2]float64 {
	var sum [8][2]float64

	const n = 3600
	for k := range n {
		theta := 2 * math.Pi * float64(k) / n
		code := hallCode(theta)
		sum[code][0] += math.Cos(theta)
		sum[code][1] += math.Sin(theta)
	}

	var st [7][2]float64
	for code := 1; code <= 6; code++ {
		if l := math.Hypot(sum[code][0], sum[code][1]); l > 0 {
			st[code] = [2]float64{sum[code][0] / l, sum[code][1] / l}
		}
	}
	return st
}

// encoder returns the incremental encoder count at the mechanical angle
// thetaM, wrapping at 16 bits.
func (b *Plant) encoder(thetaM float64) int {
	if b.EPPR <= 0 {
		return 0
	}
	ticks := int64(math.Floor(thetaM / (2 * math.Pi) * float64(b.EPPR)))
	return int(ticks & 0xFFFF)
}
