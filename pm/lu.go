package pm

import "math"

// luFSM selects the source of the authoritative frame for this tick and
// hands over between sources.
func (p *PMC) luFSM() {
	p.luID = p.luF[0]*p.luIX + p.luF[1]*p.luIY
	p.luIQ = p.luF[0]*p.luIY - p.luF[1]*p.luIX

	// A priori position of the next sample.
	p.rotateLu(p.luWS * p.dT)

	if p.vsiIF != 0 {
		// Current samples are discarded, use the prediction.
		p.luIX = p.luF[0]*p.luID - p.luF[1]*p.luIQ
		p.luIY = p.luF[1]*p.luID + p.luF[0]*p.luIQ
	}

	var cand [2]float64

	switch p.luMode {
	case LuDetached:
		cand = p.luDetached()
	case LuForced:
		cand = p.luForced()
	case LuEstimate:
		cand = p.luEstimate()
	case LuOnHFI:
		cand = p.luOnHFI()
	case LuSensorHall:
		p.estimate()
		p.sensorHall()
		cand = p.hallF
		p.luWS = p.hallWS

		if p.fluxZone == ZoneHigh {
			p.luMode = LuEstimate
		}
	case LuSensorABI:
		p.estimate()
		p.sensorABI()
		cand = p.abiF
		p.luWS = p.abiWS

		if p.fluxZone == ZoneHigh {
			p.luMode = LuEstimate
			p.abiEnabled = false
		}
	case LuSensorSinCos:
		// Not implemented, the frame keeps rotating at the last speed.
		cand = [2]float64{p.luF[0], p.luF[1]}
	}

	p.luTakeFrame(cand)
	p.luTrackRevolutions()

	switch p.ConfigLuLocation {
	case LocationInherited:
		p.luLocation = math.Atan2(p.luF[1], p.luF[0]) + float64(p.luRevol)*2*math.Pi
	case LocationABI:
		p.sensorABI()
		p.luWS = p.abiWS
		p.luLocation = p.abiLocation
	case LocationSinCos:
		p.sensorSinCos()
		p.luLocation = p.sincosLocation
	}

	if p.fluxType == EstimatorKalman && p.luMode == LuEstimate {
		// The filter has a better current estimate.
		p.luID = p.fluxX[0]
		p.luIQ = p.fluxX[1]
	}

	if p.luMode != LuForced {
		mQ := p.torque(p.luID, p.luIQ) - (p.luWS-p.luLastWS)*p.freq*p.ConstJa
		p.luMqLoad += (mQ - p.luMqLoad) * p.LuGainMqLP
	}

	p.luLastWS = p.luWS
}

func (p *PMC) rotateLu(delta float64) {
	F := [2]float64{p.luF[0], p.luF[1]}
	rotate(&F, delta)
	p.luF[0], p.luF[1] = F[0], F[1]
}

func (p *PMC) luDetached() [2]float64 {
	if p.baseTIM >= 0 {
		p.detachedBEMF()
	}
	if p.ConfigLuEstimate != EstimatorNone {
		p.classifyZone()
	}

	cand := p.fluxF
	p.luWS = p.fluxWS

	switch {
	case p.fluxZone == ZoneLockedInDetach:
		// Permanently detached.

	case p.fluxZone == ZoneHigh:
		p.luMode = LuEstimate
		p.out.SetZ(ZNone)

	case p.baseTIM < p.tsms(p.TmStartup):
		p.baseTIM++

	case p.ConfigLuSensor == SensorHall && p.HallUseable:
		p.luMode = LuSensorHall
		p.hallStart()
		p.out.SetZ(ZNone)

	case p.ConfigLuSensor == SensorABI && p.ConfigABIFrontend == ABIAbsolute && p.AbiUseable:
		p.luMode = LuSensorABI
		p.out.SetZ(ZNone)

	case p.ConfigLuEstimate == EstimatorKalman && p.ConfigHFIWave != HFINone && p.ConfigHFIPolarity:
		p.luMode = LuOnHFI
		p.out.SetZ(ZNone)

	case p.ConfigLuForced:
		p.luMode = LuForced
		p.forcedStart()
		p.out.SetZ(ZNone)
	}
	return cand
}

func (p *PMC) luForced() [2]float64 {
	p.estimate()
	p.forced()

	cand := p.forcedF
	p.luWS = p.forcedWS

	holdD := p.ForcedHoldD
	if p.forcedWS < 0 {
		holdD = -holdD
	}
	// Assume the maximal load while forced.
	p.luMqLoad = p.torque(holdD, holdD)

	switch {
	case p.fluxZone == ZoneHigh && p.ConstLambda > epsF:
		p.luMode = LuEstimate
		p.holdTIM = 0

	case p.holdTIM < p.tsms(p.TmCurrentHold):
		p.holdTIM++

	case p.ConfigLuSensor == SensorABI && p.AbiUseable:
		p.luMode = LuSensorABI
		p.holdTIM = 0

	case p.ConfigLuEstimate == EstimatorKalman && p.ConfigHFIWave != HFINone:
		p.luMode = LuOnHFI
		p.holdTIM = 0
	}
	return cand
}

func (p *PMC) luEstimate() [2]float64 {
	p.estimate()

	cand := p.fluxF
	p.luWS = p.fluxWS

	if p.baseTIM < p.tsms(p.TmStartup) {
		p.baseTIM++
		return cand
	}
	if p.fluxZone != ZoneNone && p.fluxZone != ZoneUncertain {
		return cand
	}

	switch {
	case p.ConfigLuSensor == SensorHall && p.HallUseable:
		p.luMode = LuSensorHall
		p.hallStart()

	case p.ConfigLuSensor == SensorABI && p.AbiUseable && p.fluxZone != ZoneNone:
		p.luMode = LuSensorABI

	case p.ConfigLuEstimate == EstimatorKalman && p.ConfigHFIWave != HFINone:
		p.luMode = LuOnHFI

	case p.ConfigLuForced:
		p.luMode = LuForced
		p.forcedStart()

	case p.ConfigTVM:
		p.luMode = LuDetached

		p.baseTIM = -p.tsms(p.TmTransientFast)
		p.detachTIM = 0

		p.wattLpfD = 0
		p.wattLpfQ = 0
		p.wattConsumptionWP = 0
		p.wattConsumptionWA = 0

		p.out.SetZ(ZABC)
	}
	return cand
}

func (p *PMC) luOnHFI() [2]float64 {
	p.estimate()
	p.hfiOnKalman()

	cand := p.fluxF
	p.luWS = p.fluxWS

	switch {
	case p.fluxZone == ZoneHigh || p.ConfigHFIWave == HFINone:
		p.luMode = LuEstimate
		p.holdTIM = 0

	case p.holdTIM < p.tsms(p.TmStartup):
		p.holdTIM++

	case p.ConfigLuSensor == SensorABI && p.AbiUseable:
		p.luMode = LuSensorABI
		p.holdTIM = 0
	}
	return cand
}

func (p *PMC) hallStart() {
	p.hallERN = 0
	p.hallF = [2]float64{p.luF[0], p.luF[1]}
	p.hallWS = p.luWS
}

func (p *PMC) forcedStart() {
	p.forcedF = [2]float64{p.luF[0], p.luF[1]}
	p.forcedWS = p.luWS
}

// luTakeFrame moves the authoritative frame toward the candidate with a
// limited angular rate.
func (p *PMC) luTakeFrame(cand [2]float64) {
	hS := p.LuRate * p.dT

	a := cand[0]*p.luF[0] + cand[1]*p.luF[1]
	b := cand[1]*p.luF[0] - cand[0]*p.luF[1]

	switch {
	case a > epsF && b < -hS:
		p.rotateLu(-hS)
	case a > epsF && b > hS:
		p.rotateLu(hS)
	default:
		p.luF[0] = cand[0]
		p.luF[1] = cand[1]

		if a < epsF {
			// Position flip, the integrals are meaningless now.
			p.iIntegralD = 0
			p.iIntegralQ = 0
		}
	}
}

// luTrackRevolutions counts full turns from sign changes of the Y
// component on the negative X half plane. The absolute total only moves in
// blocks larger than 4 so the rate limiter cannot dither it.
func (p *PMC) luTrackRevolutions() {
	if p.luF[0] < 0 {
		if p.luF[1] < 0 && p.luF[2] >= 0 {
			p.luRevol++
		} else if p.luF[1] >= 0 && p.luF[2] < 0 {
			p.luRevol--
		}
	}
	p.luF[2] = p.luF[1]

	if d := p.luRevol - p.luRevob; d < -4 {
		p.luTotalRevol -= d
		p.luRevob = p.luRevol
	} else if d > 4 {
		p.luTotalRevol += d
		p.luRevob = p.luRevol
	}
}
