package pm

import "math"

// Request asks the outer FSM to run a procedure. The request is gated at
// the top of the next tick; refused requests only bump ReqRejected. A
// pending halt is never replaced by another request.
func (p *PMC) Request(s State) {
	if p.fsmReq == StateHalt && s != StateHalt {
		p.reqRejected++
		return
	}
	p.fsmReq = s
}

// accept reports whether the request can start from the current state.
func (p *PMC) accept(req State) bool {
	idle := p.fsmState == StateIdle

	switch req {
	case StateZeroDrift, StateAdjustCurrent, StateProbeConstR,
		StateProbeConstL, StateLuInitiate:
		return idle && p.luMode == LuDisabled

	case StatePowerStageTest:
		// The self test reads the terminal voltages.
		return idle && p.luMode == LuDisabled && p.ConfigTVM

	case StateLuShutdown:
		// Shutdown preempts a running procedure such as ProbeConstE.
		return p.luMode != LuDisabled

	case StateProbeConstE:
		return idle && p.luMode != LuDisabled

	case StateHalt:
		return true
	}

	// Inertia probing is not implemented.
	return false
}

// fsm consumes the pending request and runs one step of the current
// procedure.
func (p *PMC) fsm() {
	if req := p.fsmReq; req != StateIdle {
		p.fsmReq = StateIdle

		if p.accept(req) {
			p.fsmState = req
			p.fsmPhase = 0
		} else {
			p.reqRejected++
		}
	}

	switch p.fsmState {
	case StateIdle:
	case StateZeroDrift:
		p.stateZeroDrift()
	case StatePowerStageTest:
		p.statePowerStageTest()
	case StateAdjustCurrent:
		p.stateAdjustCurrent()
	case StateProbeConstR:
		p.stateProbeConstR()
	case StateProbeConstL:
		p.stateProbeConstL()
	case StateLuInitiate:
		p.stateLuInitiate()
	case StateLuShutdown:
		p.stateLuShutdown()
	case StateProbeConstE:
		p.stateProbeConstE()
	case StateProbeConstJ:
		p.fsmState = StateIdle
		p.fsmPhase = 0
	default:
		p.stateHalt()
	}
}

// enterHalt switches to the halt procedure immediately. The outputs are
// zeroed by the same call.
func (p *PMC) enterHalt() {
	p.fsmState = StateHalt
	p.fsmPhase = 0
	p.stateHalt()
}

// abort ends the running procedure with a reason.
func (p *PMC) abort(e Errno) {
	p.fsmErrno = e
	p.enterHalt()
}

// window starts a counting window of ms milliseconds, never shorter than
// one tick.
func (p *PMC) window(ms float64) {
	p.tmValue = 0
	p.tmEnd = max(p.tsms(ms), 1)
}

// elapsed counts this tick into the window and reports whether it was the
// last one. A window of N ticks sees exactly N calls.
func (p *PMC) elapsed() bool {
	p.tmValue++
	return p.tmValue >= p.tmEnd
}

// probePI is a single axis PI regulator for the probing procedures.
func (p *PMC) probePI(axis int, e float64) float64 {
	p.probe.integ[axis] += p.ProbeGainI * e
	return p.ProbeGainP*e + p.probe.integ[axis]
}

// saturated reports whether the probing regulator ran out of DC link.
func (p *PMC) saturated(uX, uY float64) bool {
	uMAX := p.kUMAX * p.fbU
	return math.Abs(uX) > uMAX || math.Abs(uY) > uMAX
}

func (p *PMC) stateZeroDrift() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		p.out.SetZ(ZABC)

		s.acc = [4]float64{}

		p.fsmErrno = ErrOK
		p.window(p.TmTransientSlow)
		p.fsmPhase = 1

	case 1:
		if p.elapsed() {
			p.window(p.TmAverageDrift)
			p.fsmPhase = 2
		}

	case 2:
		s.acc[0] += p.fbIA
		s.acc[1] += p.fbIB
		s.acc[2] += p.fbIC
		s.acc[3] += p.fbU

		if p.elapsed() {
			p.fsmPhase = 3
		}

	case 3:
		n := float64(p.tmEnd)

		p.AdIA[0] -= s.acc[0] / n
		p.AdIB[0] -= s.acc[1] / n

		drift := math.Max(math.Abs(p.AdIA[0]), math.Abs(p.AdIB[0]))

		if p.ConfigIFB == FeedbackABCInline || p.ConfigIFB == FeedbackABCGround {
			p.AdIC[0] -= s.acc[2] / n
			drift = math.Max(drift, math.Abs(p.AdIC[0]))
		}

		if u := s.acc[3] / n; u > epsF {
			p.fbU = u
			p.quickIU = 1 / u
		}

		if drift > p.FaultCurrentTol {
			p.fsmErrno = ErrZeroDriftFault
		}

		p.enterHalt()
		return
	}

	p.emit(0, 0, 0)
}

// powerStageSteps lists the leg driven high (-1 for none) and the Z state of
// each self test step.
var powerStageSteps = [7]struct{ high, z int }{
	{-1, ZABC},
	{0, ZB | ZC},
	{-1, ZB | ZC},
	{1, ZA | ZC},
	{-1, ZA | ZC},
	{2, ZA | ZB},
	{-1, ZA | ZB},
}

func (p *PMC) powerStageApply() {
	st := powerStageSteps[p.probe.step]

	var dc [3]int
	if st.high >= 0 {
		dc[st.high] = p.resolution
	}

	p.emit(dc[0], dc[1], dc[2])
	p.out.SetZ(st.z)
}

// powerStageBits classifies the averaged terminal voltages of one step. A
// leg reading the DC link sets its low bit, a leg reading neither rail
// sets its high bit.
func (p *PMC) powerStageBits(u [3]float64) int {
	var bits int

	for leg, v := range u {
		switch {
		case math.Abs(v-p.fbU) < p.FaultVoltageTol:
			bits |= 1 << leg
		case math.Abs(v) < p.FaultVoltageTol:
		default:
			bits |= 16 << leg
		}
	}
	return bits
}

func (p *PMC) statePowerStageTest() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		s.step = 0
		s.bits = [7]int{}

		p.fsmErrno = ErrOK
		p.fsmPhase = 1

	case 1:
		p.powerStageApply()
		p.window(p.TmTransientSlow)
		p.fsmPhase = 2

	case 2:
		p.powerStageApply()

		if p.elapsed() {
			s.acc = [4]float64{}

			p.window(p.TmInstantProbe)
			p.fsmPhase = 3
		}

	case 3:
		p.powerStageApply()

		s.acc[0] += p.fbUA
		s.acc[1] += p.fbUB
		s.acc[2] += p.fbUC

		if p.elapsed() {
			n := float64(p.tmEnd)
			u := [3]float64{s.acc[0] / n, s.acc[1] / n, s.acc[2] / n}

			s.bits[s.step] = p.powerStageBits(u)

			if s.step < len(powerStageSteps)-1 {
				s.step++
				p.fsmPhase = 1
			} else {
				p.fsmPhase = 4
			}
		}

	case 4:
		bb := s.bits

		switch {
		case bb == [7]int{0, 7, 0, 7, 0, 7, 0}:
			p.fsmErrno = ErrOK

		case bb[0] == 0 &&
			bb[1]&1 != 0 && bb[2]&1 == 0 &&
			bb[3]&2 != 0 && bb[4]&2 == 0 &&
			bb[5]&4 != 0 && bb[6]&4 == 0:
			p.fsmErrno = ErrNoMotorConnected

		default:
			p.fsmErrno = ErrPowerStageFault
		}

		p.enterHalt()
		return
	}

	if math.Abs(p.fbIA) > p.FaultCurrentTol || math.Abs(p.fbIB) > p.FaultCurrentTol {
		p.abort(ErrOverCurrent)
	}
}

func (p *PMC) stateAdjustCurrent() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		p.out.SetZ(ZC)

		s.acc = [4]float64{}
		s.integ = [2]float64{}

		p.fsmErrno = ErrOK
		p.window(p.TmCurrentHold)
		p.fsmPhase = 1

	case 1, 2:
		if p.fsmPhase == 2 {
			s.acc[0] += p.fbIA
			s.acc[1] -= p.fbIB
		}

		uX := p.probePI(0, p.ProbeCurrentHold-p.fbIA)

		if p.saturated(uX, 0) {
			p.abort(ErrCurrentLoopFault)
			return
		}

		p.voltage(uX, 0)

		if p.elapsed() {
			p.fsmPhase++

			if p.fsmPhase == 2 {
				p.window(p.TmAverageProbe)
			}
		}

	case 3:
		a, b := s.acc[0], s.acc[1]

		if a < epsF || b < epsF {
			p.abort(ErrAdjustTolerance)
			return
		}

		mean := (a + b) / 2

		p.AdIA[1] *= mean / a
		p.AdIB[1] *= mean / b

		if math.Abs(p.AdIA[1]-1) > p.FaultAccuracyTol ||
			math.Abs(p.AdIB[1]-1) > p.FaultAccuracyTol {
			p.fsmErrno = ErrAdjustTolerance
		}

		p.enterHalt()
	}
}

func (p *PMC) stateProbeConstR() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		p.out.SetZ(ZNone)

		s.acc = [4]float64{}
		s.integ = [2]float64{}

		sn, cs := math.Sincos(p.ProbeHoldAngle)
		s.hold = [2]float64{p.ProbeCurrentHold * cs, p.ProbeCurrentHold * sn}

		p.fsmErrno = ErrOK
		p.window(p.TmCurrentHold)
		p.fsmPhase = 1

	case 1, 2:
		if p.fsmPhase == 2 {
			// Voltage of the period that ended with this sample.
			s.acc[0] += p.tvmDX*p.luIX + p.tvmDY*p.luIY
			s.acc[1] += p.luIX*p.luIX + p.luIY*p.luIY
		}

		uX := p.probePI(0, s.hold[0]-p.luIX)
		uY := p.probePI(1, s.hold[1]-p.luIY)

		if p.saturated(uX, uY) {
			p.abort(ErrCurrentLoopFault)
			return
		}

		p.voltage(uX, uY)

		if p.elapsed() {
			p.fsmPhase++

			if p.fsmPhase == 2 {
				p.window(p.TmAverageProbe)
			}
		}

	case 3:
		if s.acc[1] < epsF {
			p.abort(ErrCurrentLoopFault)
			return
		}

		// Least squares fit of u = R i.
		p.ConstRs = s.acc[0] / s.acc[1]

		p.enterHalt()
	}
}

func (p *PMC) stateProbeConstL() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		p.out.SetZ(ZNone)

		s.acc = [4]float64{}
		s.integ = [2]float64{}
		s.uBin = [2][2]dftBin{}
		s.iBin = [2][2]dftBin{}

		w := 2 * math.Pi * p.ProbeFreqSine

		s.dw = w * p.dT
		s.wave = [2]float64{1, 0}

		lmin := math.Min(p.ConstImL1, p.ConstImL2)
		s.amp = p.ProbeCurrentSine * math.Hypot(p.ConstRs, w*lmin)

		sn, cs := math.Sincos(p.ProbeHoldAngle)
		s.hold = [2]float64{p.ProbeCurrentBias * cs, p.ProbeCurrentBias * sn}

		s.last = [2]float64{p.luIX, p.luIY}
		s.step = 0

		p.fsmErrno = ErrOK
		p.window(p.TmTransientSlow)
		p.fsmPhase = 1

	case 1, 2:
		if p.fsmPhase == 2 {
			// Currents at the middle of the period match the held
			// voltage of that period.
			iX := (p.luIX + s.last[0]) / 2
			iY := (p.luIY + s.last[1]) / 2

			s.uBin[s.step][0].add(p.tvmDX, s.wave)
			s.uBin[s.step][1].add(p.tvmDY, s.wave)
			s.iBin[s.step][0].add(iX, s.wave)
			s.iBin[s.step][1].add(iY, s.wave)
		}

		s.last = [2]float64{p.luIX, p.luIY}

		rotate(&s.wave, s.dw)

		uX := p.probePI(0, s.hold[0]-p.luIX)
		uY := p.probePI(1, s.hold[1]-p.luIY)

		if p.saturated(uX, uY) {
			p.abort(ErrCurrentLoopFault)
			return
		}

		if s.step == 0 {
			uX += s.amp * s.wave[0]
		} else {
			uY += s.amp * s.wave[0]
		}

		p.voltage(uX, uY)

		if p.elapsed() {
			p.fsmPhase++

			switch {
			case p.fsmPhase == 2:
				p.window(p.TmAverageProbe)

			case s.step == 0:
				// Same again along Y.
				s.step = 1
				p.window(p.TmTransientSlow)
				p.fsmPhase = 1
			}
		}

	case 3:
		var u, i [2][2]complex128

		for inj := range 2 {
			for axis := range 2 {
				u[axis][inj] = s.uBin[inj][axis].phasor()
				i[axis][inj] = s.iBin[inj][axis].phasor()
			}
		}

		r, lxx, lxy, lyy, ok := impedance2(u, i, 2*math.Pi*p.ProbeFreqSine)
		if !ok {
			p.abort(ErrCurrentLoopFault)
			return
		}

		lmin, lmax, angle := inductance2(lxx, lxy, lyy)

		switch p.ConfigSaliency {
		case SaliencyNegative:
			p.ConstImL1, p.ConstImL2 = lmin, lmax
		case SaliencyPositive:
			p.ConstImL1, p.ConstImL2 = lmax, lmin
		default:
			lm := (lmin + lmax) / 2
			p.ConstImL1, p.ConstImL2 = lm, lm
		}

		p.ConstImB = angle * 180 / math.Pi
		p.ConstImR = r

		p.QuickBuild()
		p.enterHalt()
	}
}

func (p *PMC) stateLuInitiate() {
	p.luF = [3]float64{1, 0, 0}
	p.luWS = 0
	p.luID, p.luIQ = 0, 0
	p.luRevol, p.luRevob, p.luTotalRevol = 0, 0, 0
	p.luLocation = 0
	p.luLastWS = 0
	p.luMqLoad = 0

	p.baseTIM = 0
	p.holdTIM = 0
	p.detachTIM = 0

	p.forcedF = [2]float64{1, 0}
	p.forcedWS = 0
	p.forcedTrackD = 0

	p.fluxType = EstimatorNone
	p.fluxX = [2]float64{}
	p.fluxF = [2]float64{1, 0}
	p.fluxE = 0
	p.fluxWS = 0
	p.fluxZone = ZoneNone
	p.zoneLpfWS = 0
	p.kalmanLpfWS = 0
	p.kalmanPostponed = false

	p.hfiWave = [2]float64{1, 0}
	p.hfiPole = 0
	p.hfiInject = false

	p.hallERN = 0
	p.abiEnabled = false
	p.sincosRevol = 0
	p.sincosUnwrap = 0
	p.sincosSC = [3]float64{}

	p.vsiX, p.vsiY = 0, 0
	p.wattLpfD, p.wattLpfQ = 0, 0
	p.wattConsumptionWP, p.wattConsumptionWA = 0, 0

	p.iDerateOnWeakening = maxF
	p.iTrackD, p.iTrackQ = 0, 0
	p.iIntegralD, p.iIntegralQ = 0, 0
	p.weakD = 0

	p.sTrack = 0
	p.sForward = 0

	p.XSetpointLocation = 0
	p.XSetpointSpeed = 0

	switch {
	case p.ConfigTVM:
		p.luMode = LuDetached
		p.out.SetZ(ZABC)

	case p.ConfigLuForced:
		p.luMode = LuForced
		p.out.SetZ(ZNone)

	default:
		p.luMode = LuEstimate
		p.out.SetZ(ZNone)
	}

	p.fsmErrno = ErrOK
	p.fsmState = StateIdle
	p.fsmPhase = 0
}

func (p *PMC) stateLuShutdown() {
	switch p.fsmPhase {
	case 0:
		p.ISetpointCurrent = 0
		p.SSetpointSpeed = 0
		p.XSetpointSpeed = 0
		p.XSetpointLocation = p.luLocation

		p.window(p.TmTransientFast)
		p.fsmPhase = 1

	case 1:
		if p.elapsed() {
			p.luMode = LuDisabled

			p.emit(0, 0, 0)
			p.out.SetZ(ZABC)

			p.fsmState = StateIdle
			p.fsmPhase = 0
		}
	}
}

func (p *PMC) stateProbeConstE() {
	s := &p.probe

	switch p.fsmPhase {
	case 0:
		s.acc = [4]float64{}

		p.fsmErrno = ErrOK
		p.window(p.TmAverageProbe)
		p.fsmPhase = 1

	case 1:
		switch p.fluxType {
		case EstimatorOrtega:
			s.acc[0] += p.fluxE
			s.acc[1]++

		case EstimatorKalman:
			if math.Abs(p.fluxWS) > epsF {
				s.acc[0] += p.ConstLambda - p.kalmanBiasQ/p.fluxWS
				s.acc[1]++
			}
		}

		if p.elapsed() {
			p.fsmPhase = 2
		}

	case 2:
		if s.acc[1] > 0 {
			p.ConstLambda = s.acc[0] / s.acc[1]
			p.QuickBuild()
		}

		p.fsmState = StateIdle
		p.fsmPhase = 0
	}
}

func (p *PMC) stateHalt() {
	switch p.fsmPhase {
	case 0:
		p.luMode = LuDisabled

		p.emit(0, 0, 0)
		p.out.SetZ(ZABC)

		p.window(p.TmHaltPause)
		p.fsmPhase = 1

	case 1:
		p.emit(0, 0, 0)

		if p.elapsed() {
			p.fsmState = StateIdle
			p.fsmPhase = 0
		}
	}
}
