package pm

import "math"

// forced runs the open loop ramp used while no estimate is trusted.
func (p *PMC) forced() {
	var wSP float64
	if p.ConfigLuDrive == DriveCurrent {
		switch {
		case p.ISetpointCurrent < -epsF:
			wSP = -maxF
		case p.ISetpointCurrent > epsF:
			wSP = maxF
		}
	} else {
		wSP = p.SSetpointSpeed
	}

	wSP = clamp(wSP, -p.ForcedReverse, p.ForcedMaximal)

	// The DC link cannot hold this speed any more.
	if p.vsiLpfDC > p.ForcedMaximalDC {
		wSP = 0
	}

	p.forcedWS = slew(p.forcedWS, wSP, p.ForcedAccel*p.dT)
	rotate(&p.forcedF, p.forcedWS*p.dT)
}

// detachedBEMF tracks a free running machine from its terminal voltages.
func (p *PMC) detachedBEMF() {
	uX, uY := clarke(p.ConfigNOP, p.fbUA, p.fbUB, p.fbUC)

	p.vsiX = uX
	p.vsiY = uY

	u := math.Hypot(uX, uY)

	if u <= p.DetachThresholdBASE {
		p.detachTIM = 0
		p.fluxWS = 0
		return
	}

	uX /= u
	uY /= u

	if p.detachTIM != 0 {
		rotate(&p.fluxX, p.fluxWS*p.dT)

		a := uX*p.fluxX[0] + uY*p.fluxX[1]
		b := uY*p.fluxX[0] - uX*p.fluxX[1]

		if a > epsF {
			gain := p.DetachGainSF * math.Min(u*p.DetachTripAP, 1)
			p.fluxWS += b * p.freq * gain
		}

		if math.Abs(p.fluxWS) > epsF {
			p.fluxE = u / math.Abs(p.fluxWS)
		}

		s := sign(p.fluxWS)
		p.fluxF[0] = uY * s
		p.fluxF[1] = -uX * s
	}

	p.detachTIM++

	p.fluxX[0] = uX
	p.fluxX[1] = uY
}

// fluxOrtega is the adaptive flux observer.
func (p *PMC) fluxOrtega() {
	uX := p.vsiX - p.ConstRs*p.luIX
	uY := p.vsiY - p.ConstRs*p.luIY

	if p.ConfigTVM {
		uX += p.tvmDX - p.vsiDX
		uY += p.tvmDY - p.vsiDY
	}

	lX := p.ConstImL2 * p.luIX
	lY := p.ConstImL2 * p.luIY

	p.fluxX[0] += uX * p.dT
	p.fluxX[1] += uY * p.dT

	eX := p.fluxX[0] - lX
	eY := p.fluxX[1] - lY

	known := p.ConstLambda > epsF

	if known {
		a := math.Min(math.Abs(p.fluxWS*p.ConstLambda)*p.FluxTripAP, 1)

		// Residue of the flux magnitude with adaptive gain.
		e := 1 - (eX*eX+eY*eY)*p.quickIEq
		e *= p.FluxGainHI*a + p.FluxGainLO*(1-a)

		p.fluxX[0] += eX * e * p.quickIE
		p.fluxX[1] += eY * e * p.quickIE
	} else {
		e := -p.FluxGainIN
		p.fluxX[0] += eX * e
		p.fluxX[1] += eY * e
	}

	eX = p.fluxX[0] - lX
	eY = p.fluxX[1] - lY

	e := math.Hypot(eX, eY)
	p.fluxE = e

	if e <= epsF {
		return
	}

	eX /= e
	eY /= e

	if known {
		rotate(&p.fluxF, p.fluxWS*p.dT)

		a := eX*p.fluxF[0] + eY*p.fluxF[1]
		b := eY*p.fluxF[0] - eX*p.fluxF[1]

		if a > epsF {
			p.fluxWS += b * p.freq * p.FluxGainSF
		}
		if p.FluxGainIF > epsF {
			p.fluxWS += p.torqueAccel() * p.dT * p.FluxGainIF
		}
	} else {
		p.fluxWS = p.luWS
	}

	p.fluxF[0] = eX
	p.fluxF[1] = eY
}

// classifyZone classifies how far the estimate can be trusted from the smoothed
// speed. Thresholds differ when entering and leaving HIGH.
func (p *PMC) classifyZone() {
	p.zoneLpfWS += (p.fluxWS - p.zoneLpfWS) * p.ZoneGainLP

	switch p.fluxZone {
	case ZoneNone, ZoneUncertain:
		th := p.ZoneThresholdBASE + p.ZoneThresholdNOISE

		if p.luMode == LuDetached {
			if math.Abs(p.zoneLpfWS) > th && p.detachTIM > p.tsms(p.TmTransientSlow) {
				p.fluxZone = ZoneHigh
			}
		} else {
			if (p.zoneLpfWS > th && p.luWS > th) || (p.zoneLpfWS < -th && p.luWS < -th) {
				p.fluxZone = ZoneHigh
			}
		}

	case ZoneHigh:
		th := p.ZoneThresholdBASE * p.ZoneGainTH

		if p.luMode == LuDetached {
			if math.Abs(p.zoneLpfWS) < th || p.detachTIM < 10 {
				p.fluxZone = ZoneUncertain
			}
		} else if math.Abs(p.zoneLpfWS) < th {
			p.fluxZone = ZoneUncertain
		}
	}
}

// estimate runs the configured sensorless observer.
func (p *PMC) estimate() {
	switch p.ConfigLuEstimate {
	case EstimatorOrtega:
		if p.fluxType != EstimatorOrtega {
			p.fluxX[0] = p.ConstLambda*p.fluxF[0] + p.ConstImL2*p.luIX
			p.fluxX[1] = p.ConstLambda*p.fluxF[1] + p.ConstImL2*p.luIY
			p.fluxType = EstimatorOrtega
		}
		p.fluxOrtega()

	case EstimatorKalman:
		if p.fluxType != EstimatorKalman {
			p.kalmanReset()
			p.fluxType = EstimatorKalman
		}
		p.fluxKalman()

	case EstimatorNone:
		// Sensored drive only.
		p.fluxType = EstimatorNone
	}

	if p.ConfigLuEstimate != EstimatorNone {
		p.classifyZone()
	}
}
