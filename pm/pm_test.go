package pm

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"go.uber.org/multierr"
	"go.viam.com/test"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

type fakeOutput struct {
	dc   [3]int
	z    int
	nDC  int
	nZ   int
	seen [][3]int
}

func (f *fakeOutput) SetDC(a, b, c int) {
	f.dc = [3]int{a, b, c}
	f.nDC++
	f.seen = append(f.seen, f.dc)
}

func (f *fakeOutput) SetZ(z int) {
	f.z = z
	f.nZ++
}

func newTestPMC(tb testing.TB) (*PMC, *fakeOutput) {
	tb.Helper()
	out := &fakeOutput{}
	p := New(30000, 1000, out)
	p.fbU = 24
	p.quickIU = 1. / 24
	return p, out
}

func TestClarkeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for range 100 {
		x, y := r.Float64()*10-5, r.Float64()*10-5

		a, b, c := invClarke(TopologyThreePhase, x, y)
		test.That(t, a+b+c, test.ShouldAlmostEqual, 0, 1e-12)

		x2, y2 := clarke(TopologyThreePhase, a, b, c)
		test.That(t, x2, test.ShouldAlmostEqual, x, 1e-12)
		test.That(t, y2, test.ShouldAlmostEqual, y, 1e-12)

		// Common mode is invisible.
		x3, y3 := clarke(TopologyThreePhase, a+7, b+7, c+7)
		test.That(t, x3, test.ShouldAlmostEqual, x, 1e-12)
		test.That(t, y3, test.ShouldAlmostEqual, y, 1e-12)
	}

	a, b, c := invClarke(TopologyTwoPhase, 3, -2)
	x, y := clarke(TopologyTwoPhase, a, b, c)
	test.That(t, x, test.ShouldEqual, 3)
	test.That(t, y, test.ShouldEqual, -2)
}

func TestHelpers(t *testing.T) {
	test.That(t, wrap(3*math.Pi/2), test.ShouldAlmostEqual, -math.Pi/2, 1e-12)
	test.That(t, wrap(-3*math.Pi/2), test.ShouldAlmostEqual, math.Pi/2, 1e-12)
	test.That(t, wrap(1), test.ShouldEqual, 1)

	test.That(t, clamp(5, -1, 1), test.ShouldEqual, 1)
	test.That(t, clamp(-5, -1, 1), test.ShouldEqual, -1)

	test.That(t, slew(0, 10, 3), test.ShouldEqual, 3)
	test.That(t, slew(0, -10, 3), test.ShouldEqual, -3)
	test.That(t, slew(9, 10, 3), test.ShouldEqual, 10)

	var sum, rem float64
	for range 1000000 {
		rsum(&sum, &rem, 0.1)
	}
	test.That(t, sum, test.ShouldAlmostEqual, 100000, 1e-9)

	var g lfg
	g.seed(24)
	for range 1000 {
		v := g.float()
		test.That(t, v, test.ShouldBeBetweenOrEqual, -1, 1)
	}
}

func TestDFTBinMatchesFFT(t *testing.T) {
	const n, k = 64, 5

	r := rand.New(rand.NewSource(2))
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = r.NormFloat64()
	}

	var bin dftBin
	wave := [2]float64{1, 0}
	for _, x := range xs {
		bin.add(x, wave)
		rotate(&wave, 2*math.Pi*k/n)
	}

	want := fourier.NewFFT(n).Coefficients(nil, xs)[k]
	test.That(t, cmplx.Abs(bin.phasor()-want), test.ShouldBeLessThan, 1e-9)
}

func TestImpedanceExtraction(t *testing.T) {
	const (
		r   = 0.1
		lxx = 45e-6
		lxy = 8e-6
		lyy = 55e-6
		w   = 2 * math.Pi * 1100
	)

	z := [2][2]complex128{
		{complex(r, w*lxx), complex(0, w*lxy)},
		{complex(0, w*lxy), complex(r, w*lyy)},
	}
	i := [2][2]complex128{
		{complex(3, 1), complex(0.2, -0.1)},
		{complex(-0.4, 0.3), complex(2, 2)},
	}

	var u [2][2]complex128
	for row := range 2 {
		for col := range 2 {
			u[row][col] = z[row][0]*i[0][col] + z[row][1]*i[1][col]
		}
	}

	gr, gxx, gxy, gyy, ok := impedance2(u, i, w)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, gr, test.ShouldAlmostEqual, r, 1e-9)
	test.That(t, gxx, test.ShouldAlmostEqual, lxx, 1e-12)
	test.That(t, gxy, test.ShouldAlmostEqual, lxy, 1e-12)
	test.That(t, gyy, test.ShouldAlmostEqual, lyy, 1e-12)

	lmin, lmax, _ := inductance2(gxx, gxy, gyy)

	var eig mat.EigenSym
	ok = eig.Factorize(mat.NewSymDense(2, []float64{lxx, lxy, lxy, lyy}), false)
	test.That(t, ok, test.ShouldBeTrue)
	vals := eig.Values(nil)
	test.That(t, lmin, test.ShouldAlmostEqual, vals[0], 1e-12)
	test.That(t, lmax, test.ShouldAlmostEqual, vals[1], 1e-12)

	_, _, _, _, ok = impedance2(u, [2][2]complex128{}, w)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestVoltageDutyBounds(t *testing.T) {
	for _, mode := range []LuMode{LuDisabled, LuForced} {
		for _, ifb := range []CurrentFeedback{FeedbackABInline, FeedbackABGround, FeedbackABCInline, FeedbackABCGround} {
			t.Run(fmt.Sprintf("%v/%v", mode, ifb), func(t *testing.T) {
				p, out := newTestPMC(t)
				p.luMode = mode
				p.ConfigIFB = ifb
				r := rand.New(rand.NewSource(3))

				// Inline shunts on two legs cannot always be kept clean.
				sampleable := mode == LuDisabled || ifb != FeedbackABInline

				for range 200 {
					uX, uY := r.Float64()*60-30, r.Float64()*60-30

					// The flags compare against the previous period, so
					// hold the request for two periods.
					p.voltage(uX, uY)
					p.voltage(uX, uY)

					for _, x := range out.dc {
						test.That(t, x, test.ShouldBeBetweenOrEqual, 0, p.resolution)
						if x != 0 {
							test.That(t, x, test.ShouldBeGreaterThanOrEqualTo, p.tsMinimal)
						}
					}

					if sampleable {
						test.That(t, p.vsiIF, test.ShouldEqual, 0)
					}
				}
			})
		}
	}
}

func TestVoltageChannelMask(t *testing.T) {
	for _, tc := range []struct {
		mask    int
		a, b, c int
	}{
		{MaskNone, 0, 0, 0},
		{MaskA, 1, 0, 0},
		{MaskB, 0, 1, 0},
		{MaskC, 0, 0, 1},
		// Combined masks are not honoured.
		{MaskA | MaskB, 0, 0, 0},
	} {
		p, _ := newTestPMC(t)
		p.ConfigIFB = FeedbackABCGround
		p.VsiMaskXF = tc.mask

		p.voltage(0, 0)
		p.voltage(0, 0)

		test.That(t, [3]int{p.vsiAF, p.vsiBF, p.vsiCF}, test.ShouldResemble, [3]int{tc.a, tc.b, tc.c})
		test.That(t, p.vsiIF, test.ShouldEqual, 0)
	}
}

func TestVoltageReproduced(t *testing.T) {
	p, _ := newTestPMC(t)
	p.luMode = LuForced

	p.voltage(3, -2)
	test.That(t, p.vsiX, test.ShouldAlmostEqual, 3, 0.06)
	test.That(t, p.vsiY, test.ShouldAlmostEqual, -2, 0.06)

	// The previous voltage moves to the delayed slot.
	p.voltage(1, 1)
	test.That(t, p.vsiDX, test.ShouldAlmostEqual, 3, 0.06)
	test.That(t, p.vsiDY, test.ShouldAlmostEqual, -2, 0.06)
}

func TestRequestGating(t *testing.T) {
	p, _ := newTestPMC(t)
	fb := Feedback{VoltageU: 24}

	t.Run("needs a running lookup", func(t *testing.T) {
		p.Request(StateLuShutdown)
		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateIdle)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 1)

		p.Request(StateProbeConstE)
		p.Feedback(&fb)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 2)
	})

	t.Run("inertia probing is refused", func(t *testing.T) {
		p.Request(StateProbeConstJ)
		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateIdle)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 3)
	})

	t.Run("self test needs terminal voltages", func(t *testing.T) {
		p.ConfigTVM = false
		p.Request(StatePowerStageTest)
		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateIdle)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 4)
		p.ConfigTVM = true
	})

	t.Run("busy refuses", func(t *testing.T) {
		p.Request(StateZeroDrift)
		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateZeroDrift)
		test.That(t, p.Busy(), test.ShouldBeTrue)

		p.Request(StateProbeConstR)
		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateZeroDrift)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 5)
	})

	t.Run("halt always wins", func(t *testing.T) {
		p.Request(StateHalt)
		p.Request(StateProbeConstR)
		test.That(t, p.ReqRejected(), test.ShouldEqual, 6)

		p.Feedback(&fb)
		test.That(t, p.State(), test.ShouldEqual, StateHalt)
		test.That(t, p.Mode(), test.ShouldEqual, LuDisabled)
	})
}

func TestWindowCountsExactly(t *testing.T) {
	p, _ := newTestPMC(t)

	for _, ms := range []float64{0, 0.01, 1, 40} {
		p.window(ms)

		n := 1
		for !p.elapsed() {
			n++
		}
		test.That(t, n, test.ShouldEqual, max(p.tsms(ms), 1))
	}
}

func TestOvercurrentHaltsInSameTick(t *testing.T) {
	p, out := newTestPMC(t)

	p.Request(StateLuInitiate)
	p.Feedback(&Feedback{VoltageU: 24})
	test.That(t, p.Mode(), test.ShouldNotEqual, LuDisabled)

	// Let the sample flags clear.
	for range 3 {
		p.Feedback(&Feedback{VoltageU: 24})
	}
	test.That(t, p.vsiAF, test.ShouldEqual, 0)

	before := out.nDC
	p.Feedback(&Feedback{VoltageU: 24, CurrentA: 200, CurrentB: -100, CurrentC: -100})

	test.That(t, p.State(), test.ShouldEqual, StateHalt)
	test.That(t, p.Errno(), test.ShouldEqual, ErrInstantOvercurrent)
	test.That(t, p.Errno().Severity(), test.ShouldEqual, SeverityFatal)
	test.That(t, p.Mode(), test.ShouldEqual, LuDisabled)
	test.That(t, out.nDC, test.ShouldEqual, before+1)
	test.That(t, out.dc, test.ShouldResemble, [3]int{0, 0, 0})
	test.That(t, out.z, test.ShouldEqual, ZABC)
}

func TestOvervoltageHalts(t *testing.T) {
	p, out := newTestPMC(t)
	p.vsiSF = 0

	p.Feedback(&Feedback{VoltageU: 80})

	test.That(t, p.State(), test.ShouldEqual, StateHalt)
	test.That(t, p.Errno(), test.ShouldEqual, ErrDCLinkOvervoltage)
	test.That(t, out.dc, test.ShouldResemble, [3]int{0, 0, 0})
}

func TestProbeConstE(t *testing.T) {
	t.Run("ortega", func(t *testing.T) {
		p, _ := newTestPMC(t)
		p.fsmState = StateProbeConstE
		p.fluxType = EstimatorOrtega
		p.fluxE = 4.5e-3

		for p.fsmState != StateIdle {
			p.fsm()
		}
		test.That(t, p.ConstLambda, test.ShouldAlmostEqual, 4.5e-3, 1e-12)
		test.That(t, p.quickIE, test.ShouldAlmostEqual, 1/4.5e-3, 1e-6)
	})

	t.Run("kalman", func(t *testing.T) {
		p, _ := newTestPMC(t)
		p.fsmState = StateProbeConstE
		p.fluxType = EstimatorKalman
		p.ConstLambda = 5e-3
		p.kalmanBiasQ = -0.7
		p.fluxWS = 700

		for p.fsmState != StateIdle {
			p.fsm()
		}
		test.That(t, p.ConstLambda, test.ShouldAlmostEqual, 6e-3, 1e-12)
	})

	t.Run("standstill keeps the old value", func(t *testing.T) {
		p, _ := newTestPMC(t)
		p.fsmState = StateProbeConstE
		p.fluxType = EstimatorKalman
		p.ConstLambda = 5e-3
		p.kalmanBiasQ = -0.7

		for p.fsmState != StateIdle {
			p.fsm()
		}
		test.That(t, p.ConstLambda, test.ShouldEqual, 5e-3)
	})
}

func TestKalmanCovarianceStaysPositive(t *testing.T) {
	p, _ := newTestPMC(t)
	p.ConstRs = 0.1
	p.ConstImL1 = 40e-6
	p.ConstImL2 = 60e-6
	p.ConstLambda = 5e-3
	p.QuickBuild()

	p.fluxZone = ZoneHigh
	p.kalmanReset()

	F := [2]float64{1, 0}
	x := [2]float64{2, 10}
	p.vsiX, p.vsiY = 1.5, 3.5

	for range 2000 {
		rotate(&F, 700*p.dT)
		p.kalmanJacobian(x, F, 700)
		p.kalmanPredict()
		p.kalmanUpdate(x)
	}

	P := p.kalmanP
	sym := mat.NewSymDense(5, []float64{
		P[0], P[1], P[3], P[6], P[10],
		P[1], P[2], P[4], P[7], P[11],
		P[3], P[4], P[5], P[8], P[12],
		P[6], P[7], P[8], P[9], P[13],
		P[10], P[11], P[12], P[13], P[14],
	})

	var eig mat.EigenSym
	test.That(t, eig.Factorize(sym, false), test.ShouldBeTrue)

	vals := eig.Values(nil)
	top := vals[len(vals)-1]
	test.That(t, top, test.ShouldBeGreaterThan, 0)
	for _, v := range vals {
		test.That(t, v, test.ShouldBeGreaterThan, -1e-9*top)
	}
}

func TestErrno(t *testing.T) {
	test.That(t, ErrOK.Err(), test.ShouldBeNil)
	test.That(t, ErrNoMotorConnected.Err(), test.ShouldEqual, ErrNoMotorConnected)
	test.That(t, ErrNoMotorConnected.String(), test.ShouldEqual, "no_motor_connected")
	test.That(t, ErrZeroDriftFault.Severity(), test.ShouldEqual, SeverityRecoverable)
	test.That(t, ErrInvalidOperation.Severity(), test.ShouldEqual, SeverityFatal)
	test.That(t, Errno(99).String(), test.ShouldEqual, "errno(99)")
	test.That(t, Errno(99).Severity(), test.ShouldEqual, SeverityFatal)

	s, ok := ParseState("probe_const_l")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s, test.ShouldEqual, StateProbeConstL)

	_, ok = ParseState("spin")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRegisters(t *testing.T) {
	p, _ := newTestPMC(t)

	t.Run("read and write", func(t *testing.T) {
		test.That(t, p.SetReg("const_lambda", 5e-3), test.ShouldBeNil)
		v, err := p.Reg("const_lambda")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, 5e-3)
		test.That(t, p.quickIE, test.ShouldAlmostEqual, 200, 1e-9)

		test.That(t, p.SetReg("ad_ia1", 1.02), test.ShouldBeNil)
		test.That(t, p.AdIA[1], test.ShouldEqual, 1.02)

		test.That(t, p.SetReg("config_lu_drive", 2), test.ShouldBeNil)
		test.That(t, p.ConfigLuDrive, test.ShouldEqual, DriveLocation)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := p.Reg("warp_drive")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "unknown register")

		err = p.SetReg("fsm_state", 1)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "read only")

		test.That(t, p.SetReg("config_lu_drive", 3), test.ShouldNotBeNil)
		test.That(t, p.SetReg("config_tvm", 0.5), test.ShouldNotBeNil)
		test.That(t, p.SetReg("const_zp", 7.5), test.ShouldNotBeNil)
		test.That(t, p.SetReg("const_rs", math.NaN()), test.ShouldNotBeNil)

		// Counts and gear ratios divide the encoder arithmetic.
		for _, name := range []string{"abi_eppr", "abi_gear_zq", "sincos_gear_zq", "const_zp"} {
			test.That(t, p.SetReg(name, 0), test.ShouldNotBeNil)
			test.That(t, p.SetReg(name, -2), test.ShouldNotBeNil)
		}
		test.That(t, p.AbiEPPR, test.ShouldEqual, 2400)
	})

	t.Run("encoder zero", func(t *testing.T) {
		v, err := p.Reg("abi_zero0")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, v, test.ShouldEqual, 1.)

		test.That(t, p.SetReg("abi_zero1", 1), test.ShouldBeNil)
		test.That(t, p.AbiF0, test.ShouldResemble, [2]float64{1, 1})
		test.That(t, p.SetReg("abi_zero1", 0), test.ShouldBeNil)
	})

	t.Run("restore", func(t *testing.T) {
		err := p.Restore(map[string]float64{
			"const_rs":    0.1,
			"const_zp":    7,
			"fsm_state":   3,
			"no_such_reg": 1,
		})
		test.That(t, multierr.Errors(err), test.ShouldHaveLength, 2)
		test.That(t, p.ConstRs, test.ShouldEqual, 0.1)
		test.That(t, p.ConstZp, test.ShouldEqual, 7)
		test.That(t, p.State(), test.ShouldEqual, StateIdle)
	})

	t.Run("snapshot", func(t *testing.T) {
		cfg := p.Snapshot(RegConfig)
		tel := p.Snapshot(RegTelemetry)

		test.That(t, cfg["const_zp"], test.ShouldEqual, 7)
		test.That(t, tel, test.ShouldContainKey, "lu_ws")
		test.That(t, cfg, test.ShouldNotContainKey, "lu_ws")
		test.That(t, len(cfg)+len(tel), test.ShouldEqual, len(Registers()))

		q, _ := newTestPMC(t)
		test.That(t, q.Restore(cfg), test.ShouldBeNil)
		test.That(t, q.Snapshot(RegConfig), test.ShouldResemble, cfg)
	})
}

func TestZoneHysteresis(t *testing.T) {
	p, _ := newTestPMC(t)
	p.luMode = LuEstimate
	p.ZoneThresholdBASE = 80
	p.ZoneThresholdNOISE = 50
	p.ZoneGainTH = 0.7
	p.ZoneGainLP = 1

	step := func(ws float64) Zone {
		p.fluxWS = ws
		p.luWS = ws
		p.classifyZone()
		return p.Zone()
	}

	test.That(t, step(100), test.ShouldEqual, ZoneNone)
	test.That(t, step(200), test.ShouldEqual, ZoneHigh)
	// Between the falling and the rising threshold nothing changes.
	test.That(t, step(100), test.ShouldEqual, ZoneHigh)
	test.That(t, step(-60), test.ShouldEqual, ZoneHigh)
	test.That(t, step(40), test.ShouldEqual, ZoneUncertain)
	test.That(t, step(100), test.ShouldEqual, ZoneUncertain)
	test.That(t, step(-200), test.ShouldEqual, ZoneHigh)

	// The estimate and the filtered speed have to agree in sign.
	step(0)
	p.fluxWS = 200
	p.luWS = -200
	p.classifyZone()
	test.That(t, p.Zone(), test.ShouldEqual, ZoneUncertain)
}
