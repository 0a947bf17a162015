package pm_test

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/pmsm-foc/bench"
	"github.com/viam-modules/pmsm-foc/pm"
)

// angleError returns the distance between the angle of F and theta.
func angleError(F [2]float64, theta float64) float64 {
	return math.Abs(math.Remainder(theta-math.Atan2(F[1], F[0]), 2*math.Pi))
}

// encoderAngle returns the electrical angle of n encoder ticks on the
// default bench machine.
func encoderAngle(n float64, eppr int) float64 {
	return n / float64(eppr) * 2 * math.Pi * float64(bench.DefaultMotor().Zp)
}

func TestHallTracking(t *testing.T) {
	for _, tc := range []struct {
		name   string
		wM     float64
		offset float64
	}{
		{"forward", 50, 0},
		{"reverse", -50, 0},
		{"slow", 20, 0},
		{"fast", 100, 0},
		{"lagging start", 50, -1},
		{"opposite start", 50, 2.8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, b := rig(t)
			p.ConstZp = b.Motor.Zp
			p.HallST = bench.HallTable()
			p.QuickBuild()

			b.SetAngle(0.3)
			b.SetSpeed(tc.wM)

			fb := b.Next()
			p.SetLookup(b.Angle()+tc.offset, 0)

			var wS, worst float64
			for k := range benchFreq {
				var F [2]float64
				F, wS = p.TrackHall(&fb)
				if k > benchFreq/2 {
					worst = math.Max(worst, angleError(F, b.Angle()))
				}
				fb = b.Next()
			}

			test.That(t, wS, test.ShouldAlmostEqual, b.Speed(), 0.02*math.Abs(b.Speed()))
			test.That(t, worst, test.ShouldBeLessThan, 0.15)
			test.That(t, p.Errno(), test.ShouldEqual, pm.ErrOK)
		})
	}
}

func TestHallFault(t *testing.T) {
	p, b := rig(t)
	p.ConfigLuSensor = pm.SensorHall
	p.HallUseable = true
	p.HallST = bench.HallTable()

	p.Request(pm.StateLuInitiate)
	reached := b.RunUntil(p, benchFreq, func() bool { return p.Mode() == pm.LuSensorHall })
	test.That(t, reached, test.ShouldBeTrue)

	step := func(code int) {
		fb := b.Next()
		if code >= 0 {
			fb.PulseHS = code
		}
		p.Feedback(&fb)
	}

	// A valid code clears the run of bad ones.
	for range 9 {
		step(0)
	}
	step(-1)
	for range 9 {
		step(7)
	}
	test.That(t, p.Errno(), test.ShouldEqual, pm.ErrOK)
	test.That(t, p.Mode(), test.ShouldEqual, pm.LuSensorHall)
	test.That(t, p.HallUseable, test.ShouldBeTrue)

	step(7)
	test.That(t, p.Errno(), test.ShouldEqual, pm.ErrSensorHallFault)
	test.That(t, p.HallUseable, test.ShouldBeFalse)

	step(-1)
	test.That(t, p.State(), test.ShouldEqual, pm.StateHalt)
	test.That(t, p.Mode(), test.ShouldEqual, pm.LuDisabled)
}

func TestABITracking(t *testing.T) {
	for _, tc := range []struct {
		name     string
		frontend pm.ABIFrontend
		eppr     int
		theta    float64
		wM       float64
	}{
		{"incremental forward over the counter wrap", pm.ABIIncremental, 2400, encoderAngle(65530, 2400), 50},
		{"incremental reverse under zero", pm.ABIIncremental, 2400, encoderAngle(6.5, 2400), -50},
		{"incremental slow", pm.ABIIncremental, 2400, encoderAngle(65530, 2400), 20},
		{"absolute forward", pm.ABIAbsolute, 2048, 0.3, 50},
		{"absolute reverse", pm.ABIAbsolute, 2048, 0.3, -50},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, b := rig(t)
			b.EPPR = tc.eppr
			p.ConstZp = b.Motor.Zp
			p.AbiEPPR = tc.eppr
			p.ConfigABIFrontend = tc.frontend
			p.ConfigLuLocation = pm.LocationABI
			p.QuickBuild()

			b.SetAngle(tc.theta)
			b.SetSpeed(tc.wM)

			sample := func() pm.Feedback {
				fb := b.Next()
				if tc.frontend == pm.ABIAbsolute {
					// Single turn encoder.
					fb.PulseEP %= tc.eppr
				}
				return fb
			}

			fb := sample()
			p.SetLookup(b.Angle(), 0)

			// The incremental count starts where tracking starts.
			var origin float64
			if tc.frontend == pm.ABIIncremental {
				origin = b.Angle()
			}

			var wS, worstAngle, worstLocation float64
			for k := range benchFreq {
				var F [2]float64
				var location float64
				F, wS, location = p.TrackABI(&fb)
				if k > benchFreq/2 {
					worstAngle = math.Max(worstAngle, angleError(F, b.Angle()))
					worstLocation = math.Max(worstLocation, math.Abs(location-(b.Angle()-origin)))
				}
				fb = sample()
			}

			test.That(t, wS, test.ShouldAlmostEqual, b.Speed(), 0.02*math.Abs(b.Speed()))
			test.That(t, worstAngle, test.ShouldBeLessThan, 0.05)
			test.That(t, worstLocation, test.ShouldBeLessThan, 0.05)
		})
	}
}

func TestSinCosTracking(t *testing.T) {
	for _, wM := range []float64{20, -20} {
		p, b := rig(t)
		p.ConstZp = b.Motor.Zp
		p.ConfigLuLocation = pm.LocationSinCos

		// Ideal resolver: cosine and sine pass straight through.
		p.SinCosFIR = [20]float64{}
		p.SinCosFIR[2] = 1
		p.SinCosFIR[5] = 1
		p.QuickBuild()

		b.SetAngle(0.3)
		b.SetSpeed(wM)

		fb := b.Next()
		p.SetLookup(b.Angle(), 0)

		var worstAngle, worstLocation float64
		for range 2 * benchFreq {
			F, location := p.TrackSinCos(&fb)
			worstAngle = math.Max(worstAngle, angleError(F, b.Angle()))
			worstLocation = math.Max(worstLocation, math.Abs(location-b.Angle()))
			fb = b.Next()
		}

		// Several mechanical turns were counted.
		test.That(t, math.Abs(b.Angle()), test.ShouldBeGreaterThan, 4*2*math.Pi*float64(b.Motor.Zp))
		test.That(t, worstAngle, test.ShouldBeLessThan, 1e-9)
		test.That(t, worstLocation, test.ShouldBeLessThan, 1e-9)
	}
}
