// Package bench is a plant model of a permanent magnet machine behind an
// ideal three leg inverter. It stands in for the power stage in tests and in
// the bench CLI: the controller writes duty cycles to it as a pm.Output and
// reads back raw pm.Feedback samples.
package bench

import (
	"math"

	"github.com/viam-modules/pmsm-foc/pm"
)

// Motor holds the machine constants.
type Motor struct {
	Rs     float64 // winding resistance (Ohm)
	Ld     float64 // D axis inductance (H)
	Lq     float64 // Q axis inductance (H)
	Lambda float64 // flux linkage (Wb)
	Zp     int     // pole pairs
	J      float64 // rotor inertia (kg m^2)

	// Mq is the load torque as a polynomial of the mechanical speed:
	// constant, viscous and quadratic terms (Nm).
	Mq [3]float64
}

// DefaultMotor returns a small outrunner with a mild negative saliency.
func DefaultMotor() Motor {
	return Motor{
		Rs:     0.1,
		Ld:     40e-6,
		Lq:     60e-6,
		Lambda: 5e-3,
		Zp:     7,
		J:      2e-5,
		Mq:     [3]float64{0, 1e-5, 0},
	}
}

// Plant is the bench model. The exported fields may be changed between
// steps.
type Plant struct {
	Motor Motor

	Freq       float64
	Resolution int
	// Substeps is the number of integration steps per PWM period.
	Substeps int

	// UDC is the DC link voltage.
	UDC float64

	// Raw current reading is i*Gain + Offset.
	Offset [3]float64
	Gain   [3]float64

	// Disconnected removes the machine from the bridge. Released
	// terminals then read zero.
	Disconnected bool
	// Fixed keeps the mechanical speed at its current value.
	Fixed bool

	// EPPR is the number of encoder ticks per mechanical revolution.
	EPPR int

	iX, iY float64
	theta  float64 // electrical angle, unwrapped
	wM     float64 // mechanical speed (rad/s)

	pending [3]int
	active  [3]int
	z       int

	term [3]float64
}

// NewPlant returns a plant ticking at freq Hz with the given PWM resolution.
// All legs start released.
func NewPlant(freq float64, resolution int, motor Motor) *Plant {
	return &Plant{
		Motor:      motor,
		Freq:       freq,
		Resolution: resolution,
		Substeps:   8,
		UDC:        24,
		Gain:       [3]float64{1, 1, 1},
		EPPR:       2400,
		z:          pm.ZABC,
	}
}

// SetDC latches the duty cycles. They take effect one period later, as a
// timer with preloaded compare registers does.
func (b *Plant) SetDC(a, bb, c int) {
	b.pending = [3]int{a, bb, c}
}

// SetZ releases the legs whose bits are set.
func (b *Plant) SetZ(z int) {
	b.z = z
}

// SetSpeed sets the mechanical speed in rad/s.
func (b *Plant) SetSpeed(wM float64) {
	b.wM = wM
}

// SetAngle sets the electrical angle in rad.
func (b *Plant) SetAngle(theta float64) {
	b.theta = theta
}

// Speed returns the electrical speed in rad/s.
func (b *Plant) Speed() float64 {
	return b.wM * float64(b.Motor.Zp)
}

// Angle returns the electrical angle in rad, unwrapped.
func (b *Plant) Angle() float64 {
	return b.theta
}

// Current returns the machine currents in the rotor frame.
func (b *Plant) Current() (d, q float64) {
	s, c := math.Sincos(b.theta)
	return c*b.iX + s*b.iY, c*b.iY - s*b.iX
}

// PhaseCurrent returns the currents of the three phases.
func (b *Plant) PhaseCurrent() [3]float64 {
	return invClarke(b.iX, b.iY)
}

// Torque returns the electromagnetic torque in Nm.
func (b *Plant) Torque() float64 {
	d, q := b.Current()
	m := &b.Motor
	return 1.5 * float64(m.Zp) * (m.Lambda*q + (m.Ld-m.Lq)*d*q)
}

// Next runs one PWM period with the latched outputs.
func (b *Plant) Next() pm.Feedback {
	fb := b.Step(b.active, b.z)
	b.active = b.pending
	return fb
}

// Run advances the controller by ticks periods against the plant. The plant
// must be the controller's output.
func (b *Plant) Run(ctrl *pm.PMC, ticks int) {
	for range ticks {
		fb := b.Next()
		ctrl.Feedback(&fb)
	}
}

// RunUntil advances the controller until done returns true or ticks periods
// have passed. It reports whether done was reached.
func (b *Plant) RunUntil(ctrl *pm.PMC, ticks int, done func() bool) bool {
	for range ticks {
		fb := b.Next()
		ctrl.Feedback(&fb)
		if done() {
			return true
		}
	}
	return false
}

// Step integrates one PWM period with duty cycles dc and Z state z and
// returns the sample taken at its end.
func (b *Plant) Step(dc [3]int, z int) pm.Feedback {
	n := max(b.Substeps, 1)
	h := 1 / b.Freq / float64(n)

	var t [3]float64
	for k := range t {
		t[k] = b.UDC * float64(dc[k]) / float64(b.Resolution)
	}

	for range n {
		b.integrate(t, z, h)
	}

	b.term = b.terminals(t, z)

	return b.sample()
}

// legs returns the indices of the driven legs.
func legs(z int) []int {
	var out []int
	for k := range 3 {
		if z&(1<<k) == 0 {
			out = append(out, k)
		}
	}
	return out
}

// inductance returns the stator frame inductance matrix at the electrical
// angle theta.
func (b *Plant) inductance(theta float64) (lxx, lxy, lyy float64) {
	m := &b.Motor
	s, c := math.Sincos(theta)
	lxx = m.Ld*c*c + m.Lq*s*s
	lyy = m.Ld*s*s + m.Lq*c*c
	lxy = (m.Ld - m.Lq) * s * c
	return lxx, lxy, lyy
}

func (b *Plant) integrate(t [3]float64, z int, h float64) {
	m := &b.Motor

	driven := legs(z)

	sF, cF := math.Sincos(b.theta)
	lxx, lxy, lyy := b.inductance(b.theta)

	// Flux linkage in the stator frame.
	pX := lxx*b.iX + lxy*b.iY + m.Lambda*cF
	pY := lxy*b.iX + lyy*b.iY + m.Lambda*sF

	var dX, dY float64 // allowed current direction, single path
	switch {
	case b.Disconnected || len(driven) < 2:
		// No path for the current.
	case len(driven) == 3:
		uX, uY := clarke(t[0], t[1], t[2])
		pX += (uX - m.Rs*b.iX) * h
		pY += (uY - m.Rs*b.iY) * h
	default:
		// One leg released, the current flows from one driven leg to
		// the other.
		p, q := driven[0], driven[1]
		var e [3]float64
		e[p], e[q] = 1, -1
		dX, dY = clarke(e[0], e[1], e[2])
		k := math.Hypot(dX, dY)
		dX /= k
		dY /= k

		// Line voltage projected on the path.
		var u [3]float64
		u[p], u[q] = t[p], t[q]
		uX, uY := clarke(u[0], u[1], u[2])
		uD := uX*dX + uY*dY

		s := b.iX*dX + b.iY*dY
		chi := pX*dX + pY*dY + (uD-m.Rs*s)*h

		pX, pY = chi*dX, chi*dY
	}

	b.mechanics(h)

	sF, cF = math.Sincos(b.theta)
	lxx, lxy, lyy = b.inductance(b.theta)

	switch {
	case b.Disconnected || len(driven) < 2:
		b.iX, b.iY = 0, 0

	case len(driven) == 3:
		fX := pX - m.Lambda*cF
		fY := pY - m.Lambda*sF
		det := lxx*lyy - lxy*lxy
		b.iX = (lyy*fX - lxy*fY) / det
		b.iY = (lxx*fY - lxy*fX) / det

	default:
		chi := pX*dX + pY*dY - m.Lambda*(cF*dX+sF*dY)
		l := dX*(lxx*dX+lxy*dY) + dY*(lxy*dX+lyy*dY)
		s := chi / l
		b.iX, b.iY = s*dX, s*dY
	}
}

func (b *Plant) mechanics(h float64) {
	m := &b.Motor

	if !b.Fixed && m.J > 0 {
		load := m.Mq[0]*sign(b.wM) + m.Mq[1]*b.wM + m.Mq[2]*b.wM*math.Abs(b.wM)
		b.wM += (b.Torque() - load) / m.J * h
	}
	b.theta += b.wM * float64(m.Zp) * h
}

// bemf returns the back EMF of each phase.
func (b *Plant) bemf() [3]float64 {
	m := &b.Motor
	if b.Disconnected {
		return [3]float64{}
	}
	s, c := math.Sincos(b.theta)
	w := b.Speed()
	return invClarke(-w*m.Lambda*s, w*m.Lambda*c)
}

// terminals returns the terminal voltages seen by the leg voltage sensors.
// A released terminal floats at the machine neutral plus its own back EMF.
func (b *Plant) terminals(t [3]float64, z int) [3]float64 {
	e := b.bemf()

	var out [3]float64
	var nd int
	var sum float64

	for k := range 3 {
		if z&(1<<k) == 0 {
			out[k] = t[k]
			sum += t[k]
			nd++
		} else {
			sum += e[k]
		}
	}

	if b.Disconnected {
		return out
	}

	var neutral float64
	if nd > 0 {
		neutral = sum / float64(nd)
	}

	for k := range 3 {
		if z&(1<<k) != 0 {
			out[k] = neutral + e[k]
		}
	}
	return out
}

func (b *Plant) sample() pm.Feedback {
	i := invClarke(b.iX, b.iY)

	thetaM := b.theta / float64(b.Motor.Zp)

	sn, cs := math.Sincos(thetaM)

	return pm.Feedback{
		CurrentA:  i[0]*b.Gain[0] + b.Offset[0],
		CurrentB:  i[1]*b.Gain[1] + b.Offset[1],
		CurrentC:  i[2]*b.Gain[2] + b.Offset[2],
		VoltageU:  b.UDC,
		VoltageA:  b.term[0],
		VoltageB:  b.term[1],
		VoltageC:  b.term[2],
		AnalogSIN: sn,
		AnalogCOS: cs,
		PulseHS:   hallCode(b.theta),
		PulseEP:   b.encoder(thetaM),
	}
}

func clarke(a, b, c float64) (x, y float64) {
	q := (a + b + c) / 3
	a -= q
	b -= q
	return a, 0.57735026918962576*a + 1.1547005383792515*b
}

func invClarke(x, y float64) [3]float64 {
	return [3]float64{
		x,
		-0.5*x + 0.86602540378443865*y,
		-0.5*x - 0.86602540378443865*y,
	}
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
