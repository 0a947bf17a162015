package bench

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/pmsm-foc/pm"
)

const (
	testFreq = 30000
	testRes  = 1000
)

func lockedPlant() *Plant {
	b := NewPlant(testFreq, testRes, DefaultMotor())
	b.Fixed = true
	return b
}

func TestLockedRotorCurrent(t *testing.T) {
	t.Run("all legs driven", func(t *testing.T) {
		b := lockedPlant()

		var fb pm.Feedback
		for range 3000 {
			fb = b.Step([3]int{testRes / 10, 0, 0}, pm.ZNone)
		}

		// 2.4 V on A against B and C in parallel.
		test.That(t, fb.CurrentA, test.ShouldAlmostEqual, 16, 1e-3)
		test.That(t, fb.CurrentB, test.ShouldAlmostEqual, -8, 1e-3)
		test.That(t, fb.CurrentC, test.ShouldAlmostEqual, -8, 1e-3)

		d, q := b.Current()
		test.That(t, d, test.ShouldAlmostEqual, 16, 1e-3)
		test.That(t, q, test.ShouldAlmostEqual, 0, 1e-6)
	})

	t.Run("one leg released", func(t *testing.T) {
		b := lockedPlant()

		var fb pm.Feedback
		for range 3000 {
			fb = b.Step([3]int{testRes / 10, 0, 0}, pm.ZC)
		}

		test.That(t, fb.CurrentA, test.ShouldAlmostEqual, 12, 1e-3)
		test.That(t, fb.CurrentB, test.ShouldAlmostEqual, -12, 1e-3)
		test.That(t, fb.CurrentC, test.ShouldAlmostEqual, 0, 1e-9)

		// The released terminal sits at the middle of the two windings.
		test.That(t, fb.VoltageC, test.ShouldAlmostEqual, 1.2, 1e-9)
	})

	t.Run("two legs released", func(t *testing.T) {
		b := lockedPlant()

		fb := b.Step([3]int{testRes, 0, 0}, pm.ZB|pm.ZC)
		test.That(t, fb.CurrentA, test.ShouldEqual, 0)
		test.That(t, fb.VoltageA, test.ShouldEqual, 24)
		test.That(t, fb.VoltageB, test.ShouldEqual, 24)
		test.That(t, fb.VoltageC, test.ShouldEqual, 24)
	})
}

func TestDisconnectedTerminals(t *testing.T) {
	b := lockedPlant()
	b.Disconnected = true

	fb := b.Step([3]int{testRes, 0, 0}, pm.ZB|pm.ZC)
	test.That(t, fb.VoltageA, test.ShouldEqual, 24)
	test.That(t, fb.VoltageB, test.ShouldEqual, 0)
	test.That(t, fb.VoltageC, test.ShouldEqual, 0)

	fb = b.Step([3]int{testRes, testRes, 0}, pm.ZNone)
	test.That(t, fb.CurrentA, test.ShouldEqual, 0)
	test.That(t, fb.CurrentB, test.ShouldEqual, 0)
}

func TestLatchedDutyCycles(t *testing.T) {
	b := lockedPlant()
	b.SetZ(pm.ZNone)

	b.SetDC(testRes, 0, 0)
	fb := b.Next()
	test.That(t, fb.VoltageA, test.ShouldEqual, 0)

	fb = b.Next()
	test.That(t, fb.VoltageA, test.ShouldEqual, 24)
}

func TestBackEMF(t *testing.T) {
	b := lockedPlant()
	m := b.Motor

	b.SetSpeed(100)

	tr := NewTrace(testFreq, "ua")
	for range 3000 {
		fb := b.Step([3]int{}, pm.ZABC)
		test.That(t, fb.CurrentA, test.ShouldEqual, 0)
		tr.Add("ua", fb.VoltageA)
	}

	w := 100 * float64(m.Zp)
	st := tr.Stats("ua")
	test.That(t, st.Max, test.ShouldAlmostEqual, w*m.Lambda, 1e-3)
	test.That(t, st.Min, test.ShouldAlmostEqual, -w*m.Lambda, 1e-3)
	test.That(t, st.RMS, test.ShouldAlmostEqual, w*m.Lambda/math.Sqrt2, 0.02)

	test.That(t, Peak(tr.Series("ua"), testFreq), test.ShouldAlmostEqual, w/(2*math.Pi), 10)
	test.That(t, b.Angle(), test.ShouldAlmostEqual, w*3000/testFreq, 1e-6)
}

func TestADCModel(t *testing.T) {
	b := lockedPlant()
	b.Offset = [3]float64{0.5, -0.25, 0}
	b.Gain = [3]float64{1.1, 1, 1}

	fb := b.Step([3]int{}, pm.ZABC)
	test.That(t, fb.CurrentA, test.ShouldEqual, 0.5)
	test.That(t, fb.CurrentB, test.ShouldEqual, -0.25)
	test.That(t, fb.VoltageU, test.ShouldEqual, 24)
}

func TestHallTable(t *testing.T) {
	st := HallTable()

	for code := 1; code <= 6; code++ {
		test.That(t, math.Hypot(st[code][0], st[code][1]), test.ShouldAlmostEqual, 1, 1e-9)
	}

	for k := range 360 {
		theta := float64(k)*math.Pi/180 + 0.001
		code := hallCode(theta)
		test.That(t, code, test.ShouldBeBetweenOrEqual, 1, 6)

		// Within half a sector of the sector centre.
		dot := st[code][0]*math.Cos(theta) + st[code][1]*math.Sin(theta)
		test.That(t, dot, test.ShouldBeGreaterThanOrEqualTo, math.Cos(math.Pi/6)-1e-3)
	}
}

func TestEncoderWrap(t *testing.T) {
	b := lockedPlant()

	test.That(t, b.encoder(2*math.Pi), test.ShouldEqual, 2400)
	test.That(t, b.encoder(-1e-6), test.ShouldEqual, 0xFFFF)
	test.That(t, b.encoder(2*math.Pi*32), test.ShouldEqual, (2400*32)&0xFFFF)
}

func TestSpectrum(t *testing.T) {
	const fs = 1000.

	xs := make([]float64, 1000)
	for i := range xs {
		xs[i] = 1 + 2*math.Sin(2*math.Pi*50*float64(i)/fs)
	}

	hz, amp := Spectrum(xs, fs)
	test.That(t, hz[50], test.ShouldAlmostEqual, 50, 1e-9)
	test.That(t, amp[50], test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, amp[0], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, Peak(xs, fs), test.ShouldAlmostEqual, 50, 1e-9)
}
