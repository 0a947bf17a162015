package pm

import "math"

// Maximal angle error tolerated before the Hall tracker corrects (~34 deg).
const hallHalfTol = 0.6

// sensorHall tracks the frame between Hall transitions.
func (p *PMC) sensorHall() {
	hs := p.fbHS

	if hs < 1 || hs > 6 {
		p.hallERN++
		if p.hallERN >= 10 {
			p.HallUseable = false
			p.fault(ErrSensorHallFault)
		}
		return
	}

	p.hallERN = 0

	hX := p.HallST[hs][0]
	hY := p.HallST[hs][1]

	a := hX*p.hallF[0] + hY*p.hallF[1]
	b := hY*p.hallF[0] - hX*p.hallF[1]

	rel := math.Atan2(b, a)

	if math.Abs(rel) > hallHalfTol {
		if rel < 0 {
			rel += hallHalfTol
		} else {
			rel -= hallHalfTol
		}

		rotate(&p.hallF, rel)

		g := math.Min(math.Abs(p.hallWS)*p.HallTripAP, 1)
		g = p.HallGainSF*g + p.HallGainLO*(1-g)

		p.hallWS += rel * p.freq * g
	}

	if p.HallGainIF > epsF {
		p.hallWS += p.torqueAccel() * p.dT * p.HallGainIF
	}

	rotate(&p.hallF, p.hallWS*p.dT)
}

// sensorABI tracks the frame from encoder ticks with interpolation between
// ticks.
func (p *PMC) sensorABI() {
	halftol := p.quickZiEP * 0.55

	if !p.abiEnabled {
		p.abiBEP = p.fbEP
		p.abiLEP = 0
		p.abiUnwrap = 0
		p.abiInterp = 0

		if p.ConfigABIFrontend == ABIIncremental {
			p.AbiF0 = [2]float64{p.luF[0], p.luF[1]}
		}

		p.abiF = [2]float64{p.luF[0], p.luF[1]}
		p.abiWS = p.luWS
		p.abiEnabled = true
	}

	var relEP int

	switch p.ConfigABIFrontend {
	case ABIIncremental:
		relEP = wrapTicks(p.fbEP-p.abiBEP, 0x10000)
		p.abiBEP = p.fbEP

	case ABIAbsolute:
		if wrap := p.AbiEPPR; wrap > 0 {
			// The encoder reports the count within one revolution.
			p.abiBEP = ((p.abiLEP % wrap) + wrap) % wrap
			relEP = wrapTicks(p.fbEP-p.abiBEP, wrap)
		}
	}

	if relEP != 0 {
		p.abiLEP += relEP
		p.abiInterp -= float64(relEP) * p.quickZiEP

		wrap := p.AbiEPPR * p.AbiGearZq

		if p.abiLEP < -wrap {
			p.abiUnwrap -= p.AbiGearZq
			p.abiLEP += wrap
		} else if p.abiLEP > wrap {
			p.abiUnwrap += p.AbiGearZq
			p.abiLEP -= wrap
		}
	}

	var rel float64
	if p.abiInterp > halftol {
		rel = halftol - p.abiInterp
	} else if p.abiInterp < -halftol {
		rel = -halftol - p.abiInterp
	}

	p.abiInterp += rel + p.abiWS*p.dT

	if p.ConfigLuLocation == LocationABI {
		lEP := float64(p.abiUnwrap)*float64(p.AbiEPPR) + float64(p.abiLEP)
		p.abiLocation = lEP*p.quickZiEP + p.abiInterp
	}

	s, c := math.Sincos(wrap(float64(p.abiLEP)*p.quickZiEP + p.abiInterp))

	p.abiF[0] = c*p.AbiF0[0] - s*p.AbiF0[1]
	p.abiF[1] = s*p.AbiF0[0] + c*p.AbiF0[1]

	g := math.Min(math.Abs(p.abiWS)*p.AbiTripAP, 1)
	g = p.AbiGainSF*g + p.AbiGainLO*(1-g)

	p.abiWS += rel * p.freq * g

	if p.AbiGainIF > epsF {
		p.abiWS += p.torqueAccel() * p.dT * p.AbiGainIF
	}
}

// wrapTicks maps a tick difference onto [-n/2, n/2).
func wrapTicks(rel, n int) int {
	if rel > n/2-1 {
		return rel - n
	}
	if rel < -n/2 {
		return rel + n
	}
	return rel
}

// sensorSinCos linearizes the analog pair and tracks revolutions.
func (p *PMC) sensorSinCos() {
	fir := &p.SinCosFIR

	c, s := p.fbCOS, p.fbSIN
	q := [9]float64{c, s, c * s, c * c, s * s, c * c * s, s * s * c, c * c * c, s * s * s}

	sc0 := fir[0]
	sc1 := fir[1]
	for k, v := range q {
		sc0 += fir[2*k+2] * v
		sc1 += fir[2*k+3] * v
	}
	p.sincosSC[0] = sc0
	p.sincosSC[1] = sc1

	// Count revolutions on the negative cosine half plane.
	if p.sincosSC[0] < 0 {
		if p.sincosSC[1] < 0 && p.sincosSC[2] >= 0 {
			p.sincosRevol++
		} else if p.sincosSC[1] >= 0 && p.sincosSC[2] < 0 {
			p.sincosRevol--
		}
	}
	p.sincosSC[2] = p.sincosSC[1]

	wrapN := p.SinCosGearZq
	if p.sincosRevol < -wrapN {
		p.sincosUnwrap -= wrapN
		p.sincosRevol += wrapN
	} else if p.sincosRevol > wrapN {
		p.sincosUnwrap += wrapN
		p.sincosRevol -= wrapN
	}

	an := math.Atan2(p.sincosSC[1], p.sincosSC[0]) + float64(p.sincosRevol)*2*math.Pi

	if p.ConfigLuLocation == LocationSinCos {
		p.sincosLocation = (an + float64(p.sincosUnwrap)*2*math.Pi) * p.quickZiSQ
	}

	sn, cs := math.Sincos(wrap(an * p.quickZiSQ))
	p.sincosF = [2]float64{cs, sn}
}
