package pm

import "math"

// Small epsilon used to tell an unknown (zero) constant from a known one.
const epsF = 1e-12

// maxF stands for "no limit" in derate fields.
const maxF = math.MaxFloat32

// rotate turns the unit complex number F = (cos, sin) by the angle delta.
// The result is not renormalized.
func rotate(F *[2]float64, delta float64) {
	s, c := math.Sincos(delta)
	x := c*F[0] - s*F[1]
	y := s*F[0] + c*F[1]
	F[0], F[1] = x, y
}

// wrap maps an angle onto [-pi, pi].
func wrap(a float64) float64 {
	if a >= -math.Pi && a <= math.Pi {
		return a
	}
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// clamp limits x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// slew moves track toward target by at most step.
func slew(track, target, step float64) float64 {
	switch {
	case track < target-step:
		return track + step
	case track > target+step:
		return track - step
	default:
		return target
	}
}

// rsum adds x to sum keeping the lost low-order part in rem.
func rsum(sum, rem *float64, x float64) {
	y := x - *rem
	t := *sum + y
	*rem = (t - *sum) - y
	*sum = t
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// clarke maps phase quantities to the stationary XY frame. For the three
// phase topology the common mode is removed first.
func clarke(nop Topology, a, b, c float64) (x, y float64) {
	if nop == TopologyThreePhase {
		q := (a + b + c) / 3
		a -= q
		b -= q
		return a, 0.57735026918962576*a + 1.1547005383792515*b
	}
	return a - c, b - c
}

// invClarke maps a stationary XY vector back to phase quantities.
func invClarke(nop Topology, x, y float64) (a, b, c float64) {
	if nop == TopologyThreePhase {
		return x, -0.5*x + 0.86602540378443865*y, -0.5*x - 0.86602540378443865*y
	}
	return x, y, 0
}

// lfg is an additive lagged Fibonacci generator with lags (24, 55).
type lfg struct {
	s    [55]uint32
	j, k int
}

func (g *lfg) seed(v uint32) {
	for i := range g.s {
		v = v*1664525 + 1013904223
		g.s[i] = v
	}
	g.j = 24 - 1
	g.k = 55 - 1
}

// float returns a pseudo random value in [-1, 1].
func (g *lfg) float() float64 {
	x := g.s[g.j] + g.s[g.k]
	g.s[g.k] = x
	g.j--
	if g.j < 0 {
		g.j = 54
	}
	g.k--
	if g.k < 0 {
		g.k = 54
	}
	return float64(int32(x)) / float64(math.MaxInt32)
}

// dftBin accumulates the single frequency bin of a signal sampled against a
// rotating reference (cos, sin).
type dftBin struct {
	re, im float64
}

func (d *dftBin) add(v float64, ref [2]float64) {
	d.re += v * ref[0]
	d.im -= v * ref[1]
}

func (d *dftBin) phasor() complex128 {
	return complex(d.re, d.im)
}

// inductance2 returns the eigenvalues (min, max) of the symmetric 2x2
// inductance matrix [[lxx, lxy], [lxy, lyy]] and the angle of the major axis.
func inductance2(lxx, lxy, lyy float64) (lmin, lmax, angle float64) {
	mean := (lxx + lyy) / 2
	dev := math.Hypot((lxx-lyy)/2, lxy)
	angle = 0.5 * math.Atan2(2*lxy, lxx-lyy)
	return mean - dev, mean + dev, angle
}

// impedance2 extracts the stator resistance and inductance matrix from the
// voltage and current phasors of two orthogonal sine injections at angular
// frequency w. Column 0 holds the X injection, column 1 the Y injection.
func impedance2(u, i [2][2]complex128, w float64) (r float64, lxx, lxy, lyy float64, ok bool) {
	// Z = U * inv(I)
	det := i[0][0]*i[1][1] - i[0][1]*i[1][0]
	if det == 0 || w == 0 {
		return 0, 0, 0, 0, false
	}
	inv := [2][2]complex128{
		{i[1][1] / det, -i[0][1] / det},
		{-i[1][0] / det, i[0][0] / det},
	}
	var z [2][2]complex128
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			z[row][col] = u[row][0]*inv[0][col] + u[row][1]*inv[1][col]
		}
	}
	r = (real(z[0][0]) + real(z[1][1])) / 2
	lxx = imag(z[0][0]) / w
	lyy = imag(z[1][1]) / w
	lxy = (imag(z[0][1]) + imag(z[1][0])) / (2 * w)
	return r, lxx, lxy, lyy, true
}
