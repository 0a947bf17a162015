package pm

import "math"

// Feedback advances the controller by one PWM period.
func (p *PMC) Feedback(fb *Feedback) {
	p.ingestCurrent(fb)

	if p.vsiSF == 0 {
		p.fbU = p.AdUS[1]*fb.VoltageU + p.AdUS[0]
		if p.fbU > epsF {
			p.quickIU = 1 / p.fbU
		} else {
			p.quickIU = 0
		}

		if p.fbU > p.FaultVoltageHalt && p.weakD > -epsF {
			p.fault(ErrDCLinkOvervoltage)
		}
	}

	// Without usable terminal voltages the issued voltage stands in.
	p.tvmDX = p.vsiDX
	p.tvmDY = p.vsiDY

	if p.ConfigTVM {
		p.ingestTerminal(fb)
	}

	p.fbSIN = fb.AnalogSIN
	p.fbCOS = fb.AnalogCOS
	p.fbHS = fb.PulseHS
	p.fbEP = fb.PulseEP

	p.fsm()

	if p.luMode == LuDisabled {
		return
	}

	p.luFSM()

	if p.luMode == LuDetached {
		p.voltage(p.vsiX, p.vsiY)
	} else {
		switch p.ConfigLuDrive {
		case DriveSpeed:
			p.loopSpeed()
		case DriveLocation:
			p.loopLocation()
			p.loopSpeed()
		}

		p.loopCurrent()

		// The covariance work runs after the duty cycles are out.
		if p.kalmanPostponed {
			p.kalmanPredict()
			if p.vsiIF == 0 {
				p.kalmanUpdate(p.fluxX)
			}
			p.kalmanPostponed = false
		}
	}

	if p.ConfigMileageInfo {
		p.mileage()
	}

	if !finite(p.luF[0]) {
		p.fsmErrno = ErrInvalidOperation
		p.enterHalt()
	}
}

func (p *PMC) ingestCurrent(fb *Feedback) {
	check := func(i float64) {
		if math.Abs(i) > p.FaultCurrentHalt {
			p.fault(ErrInstantOvercurrent)
		}
	}

	if p.vsiAF == 0 {
		p.fbIA = p.AdIA[1]*fb.CurrentA + p.AdIA[0]
		check(p.fbIA)
	}
	if p.vsiBF == 0 {
		p.fbIB = p.AdIB[1]*fb.CurrentB + p.AdIB[0]
		check(p.fbIB)
	}
	if p.vsiCF == 0 {
		p.fbIC = p.AdIC[1]*fb.CurrentC + p.AdIC[0]
		check(p.fbIC)
	}

	a, b, c := p.vsiAF == 0, p.vsiBF == 0, p.vsiCF == 0

	if p.ConfigNOP == TopologyThreePhase {
		switch {
		case a && b && c:
			p.luIX, p.luIY = clarke(TopologyThreePhase, p.fbIA, p.fbIB, p.fbIC)
		case a && b:
			p.luIX = p.fbIA
			p.luIY = 0.57735026918962576*p.fbIA + 1.1547005383792515*p.fbIB
		case b && c:
			p.luIX = -p.fbIB - p.fbIC
			p.luIY = 0.57735026918962576*p.fbIB - 0.57735026918962576*p.fbIC
		case a && c:
			p.luIX = p.fbIA
			p.luIY = -0.57735026918962576*p.fbIA - 1.1547005383792515*p.fbIC
		}
	} else {
		switch {
		case a && b && c:
			q := (p.fbIA + p.fbIB + p.fbIC) / 3
			p.luIX = p.fbIA - q
			p.luIY = p.fbIB - q
		case a && b:
			p.luIX = p.fbIA
			p.luIY = p.fbIB
		case b && c:
			p.luIX = -p.fbIB - p.fbIC
			p.luIY = p.fbIB
		case a && c:
			p.luIX = p.fbIA
			p.luIY = -p.fbIA - p.fbIC
		}
	}
}

func (p *PMC) ingestTerminal(fb *Feedback) {
	vA, vB, vC := p.fbUA, p.fbUB, p.fbUC

	p.fbUA = p.AdUA[1]*fb.VoltageA + p.AdUA[0]
	p.fbUB = p.AdUB[1]*fb.VoltageB + p.AdUB[0]
	p.fbUC = p.AdUC[1]*fb.VoltageC + p.AdUC[0]

	if p.luMode == LuDetached || p.vsiUF != 0 {
		return
	}

	// Average terminal voltage over the period from two samples.
	fir := func(prev, now float64, k [3]float64, z int) float64 {
		if z == 0 {
			return 0
		}
		return prev*k[1] + k[0]*now + k[2]
	}
	vA = fir(vA, p.fbUA, p.TvmFIRA, p.vsiAZ)
	vB = fir(vB, p.fbUB, p.TvmFIRB, p.vsiBZ)
	vC = fir(vC, p.fbUC, p.TvmFIRC, p.vsiCZ)

	p.tvmA, p.tvmB, p.tvmC = vA, vB, vC
	p.tvmDX, p.tvmDY = clarke(p.ConfigNOP, vA, vB, vC)
}
