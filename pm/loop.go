package pm

import "math"

// formISP turns a speed error into a Q current. The load torque estimate is
// fed forward in place of an integral term.
func (p *PMC) formISP(eS float64) float64 {
	if math.Abs(eS) <= p.STolerance {
		eS = 0
	}

	iSP := p.SGainP * eS

	iQ := p.torqueApprox(p.luMqLoad)
	p.sForward += (iQ - p.sForward) * p.SGainQ

	return iSP + p.sForward
}

// currentPolicy forms the DQ current targets from the drive policy.
func (p *PMC) currentPolicy() (trackD, trackQ float64) {
	if p.luMode == LuForced || p.forcedTrackD > epsF {
		var target float64
		if p.luMode == LuForced {
			target = p.ForcedHoldD
		}
		p.forcedTrackD = slew(p.forcedTrackD, target, p.ForcedSlewRate*p.dT)
	}

	trackD = p.forcedTrackD

	switch {
	case p.luMode == LuForced:
		// Only the forced D current.
		return trackD, 0

	case p.luMode == LuEstimate && p.fluxZone != ZoneHigh:
		// No torque until the estimate is trusted.
		return trackD, 0
	}

	trackQ = p.ISetpointCurrent

	if p.ConfigLuDrive == DriveCurrent {
		if p.ConfigHoldingBrake && p.ISetpointCurrent < 0 {
			iMAX := math.Abs(p.ISetpointCurrent)
			trackQ = clamp(p.formISP(-p.luWS), -iMAX, iMAX)
		}

		if p.ConfigSpeedLimited {
			trackQ = p.speedLimit(trackQ)
		}
	}

	if p.ConfigReluctance {
		s := p.mtpaSine(trackQ)
		trackD += s * trackQ
		trackQ *= math.Sqrt(1 - s*s)
	}

	if p.ConfigWeakening {
		trackD += p.weakening()
	}
	return trackD, trackQ
}

// speedLimit blends the torque request into a speed regulator near the
// speed and acceleration limits.
func (p *PMC) speedLimit(trackQ float64) float64 {
	if p.luWS < -p.SReverse {
		e := -p.SReverse - p.luWS
		lerp := math.Min(e/p.SLinspan, 1)
		trackQ += (p.formISP(e) - trackQ) * lerp
	} else if p.luWS > p.SMaximal {
		e := p.SMaximal - p.luWS
		lerp := math.Min(-e/p.SLinspan, 1)
		trackQ += (p.formISP(e) - trackQ) * lerp
	}

	p.sTrack = slew(p.sTrack, p.luWS, p.SAccel*p.dT)

	e := p.sTrack - p.luWS
	lerp := math.Min(math.Abs(e)/p.SLinspan, 1)
	trackQ += (p.formISP(e) - trackQ) * lerp

	return trackQ
}

// weakening integrates the voltage headroom into a negative D current and
// returns it.
func (p *PMC) weakening() float64 {
	e := (1 - p.vsiDC) * p.fbU

	if p.fbU > p.WattUDCMaximal {
		// Never stop weakening on overvoltage.
		e = math.Min(e, 0)
	}

	p.weakD = clamp(p.weakD+e*p.WeakGainEU, -p.WeakMaximal, 0)

	if p.weakD < -epsF {
		s := p.luWS * p.ConstImL2
		if math.Abs(s) > epsF {
			p.iDerateOnWeakening = math.Abs(p.kEMAX * p.fbU / s)
		} else {
			p.iDerateOnWeakening = maxF
		}
		return p.weakD
	}
	p.iDerateOnWeakening = maxF
	return 0
}

// loopCurrent is the DQ current regulator. It always ends with a call to
// voltage.
func (p *PMC) loopCurrent() {
	trackD, trackQ := p.currentPolicy()

	uD := p.luF[0]*p.tvmDX + p.luF[1]*p.tvmDY
	uQ := p.luF[0]*p.tvmDY - p.luF[1]*p.tvmDX

	// Filtered voltage keeps the power limiter stable.
	p.wattLpfD += (uD - p.wattLpfD) * p.WattGainLP
	p.wattLpfQ += (uQ - p.wattLpfQ) * p.WattGainLP

	wP := p.kKWAT * (p.luID*p.wattLpfD + p.luIQ*p.wattLpfQ)

	p.wattConsumptionWP += (wP - p.wattConsumptionWP) * p.WattGainLP
	p.wattConsumptionWA = p.wattConsumptionWP * p.quickIU

	iMAX := p.IMaximal
	iREV := -p.IReverse

	if p.ConfigWeakening && p.weakD < -epsF {
		trackQ = clamp(trackQ, -p.iDerateOnWeakening, p.iDerateOnWeakening)
	} else {
		iMAX = math.Min(iMAX, p.IDerateOnPCB)
		iREV = math.Max(iREV, -p.IDerateOnPCB)
	}

	if p.hfiInject {
		iMAX = math.Min(iMAX, p.IDerateOnHFI)
		iREV = math.Max(iREV, -p.IDerateOnHFI)
	}

	trackD = clamp(trackD, -iMAX, iMAX)
	trackQ = clamp(trackQ, iREV, iMAX)

	// DC link out of its operating window.
	if p.fbU > p.WattUDCMaximal || p.fbU < p.WattUDCMinimal {
		trackQ = 0
	}

	wMAX := math.Min(p.WattWPMaximal, p.WattWAMaximal*p.fbU)
	wREV := math.Max(-p.WattWPReverse, -p.WattWAReverse*p.fbU)

	trackD, trackQ = p.powerClamp(trackD, trackQ, wMAX, wREV)

	dS := p.ISlewRate * p.dT
	p.iTrackD = slew(p.iTrackD, trackD, dS)
	p.iTrackQ = slew(p.iTrackQ, trackQ, dS)

	eD := p.iTrackD - p.luID
	eQ := p.iTrackQ - p.luIQ

	if math.Abs(eD) <= p.ITolerance {
		eD = 0
	}
	if math.Abs(eQ) <= p.ITolerance {
		eQ = 0
	}

	uD = p.IGainP * eD
	uQ = p.IGainP * eQ

	// Feed forward of the winding resistance and inductance.
	uD += p.ConstRs * p.iTrackD
	uQ += p.ConstRs * p.iTrackQ
	uD -= p.luWS * p.ConstImL2 * p.iTrackQ
	uQ += p.luWS * (p.ConstImL1*p.iTrackD + p.ConstLambda)

	uMAX := p.kUMAX * p.fbU

	p.iIntegralD = clamp(p.iIntegralD+p.IGainI*eD, -uMAX, uMAX)
	uD += p.iIntegralD

	p.iIntegralQ = clamp(p.iIntegralQ+p.IGainI*eQ, -uMAX, uMAX)
	uQ += p.iIntegralQ

	uD = clamp(uD, -uMAX, uMAX)
	uQ = clamp(uQ, -uMAX, uMAX)

	uQ = clamp(uQ, -p.kEMAX*p.VReverse, p.kEMAX*p.VMaximal)

	if p.hfiInject {
		uD += p.hfiWave[0] * p.HFISine * p.quickHFwS * p.ConstImL1
		p.hfiInject = false
	}

	uX := p.luF[0]*uD - p.luF[1]*uQ
	uY := p.luF[1]*uD + p.luF[0]*uQ

	p.voltage(uX, uY)
}

// loopSpeed regulates speed through the Q current setpoint.
func (p *PMC) loopSpeed() {
	wSP := clamp(p.SSetpointSpeed, -p.SReverse, p.SMaximal)

	if p.ConfigLuDrive == DriveSpeed {
		p.sTrack = slew(p.sTrack, wSP, p.SAccel*p.dT)
	} else {
		p.sTrack = wSP
	}

	if p.luMode == LuForced {
		p.sTrack = p.forcedWS
		return
	}

	p.ISetpointCurrent = p.formISP(p.sTrack - p.luWS)
}

// loopLocation is a servo with a constant deceleration profile. It feeds the
// speed loop setpoint.
func (p *PMC) loopLocation() {
	p.XSetpointLocation += p.XSetpointSpeed * p.dT

	xSP := clamp(p.XSetpointLocation, p.XLocationRange[0], p.XLocationRange[1])

	xER := xSP - p.luLocation
	xABS := math.Abs(xER)

	xER = math.Copysign(math.Sqrt(xABS), xER)

	if xABS <= p.XTolerance {
		xER = 0
	}

	lerp := 1.
	if xABS < p.XWeakZone {
		lerp = xABS / p.XWeakZone
	}
	gain := p.XGainP*lerp + p.XGainN*(1-lerp)

	p.SSetpointSpeed = xER*gain + p.XSetpointSpeed
}

// mileage integrates distance and energy with compensated sums.
func (p *PMC) mileage() {
	if p.ConstZp != 0 {
		p.miTraveled = float64(p.luTotalRevol) * p.ConstLdS / float64(p.ConstZp)
	}

	dTiH := p.dT / 3600

	wh := p.wattConsumptionWP * dTiH
	ah := p.wattConsumptionWA * dTiH

	if wh > 0 {
		rsum(&p.miConsumedWh, &p.miRem[0], wh)
		rsum(&p.miConsumedAh, &p.miRem[1], ah)
	} else {
		rsum(&p.miRevertedWh, &p.miRem[2], -wh)
		rsum(&p.miRevertedAh, &p.miRem[3], -ah)
	}

	if p.MiCapacityAh > epsF {
		fuel := (p.MiCapacityAh - p.miConsumedAh + p.miRevertedAh) / p.MiCapacityAh
		p.miFuelGauge = 100 * fuel
	}
}
