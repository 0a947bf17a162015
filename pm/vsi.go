package pm

import "math"

// voltage maps a stationary frame voltage (V) onto leg duty cycles, sends
// them to the output and updates the sample validity flags used by the next
// feedback.
func (p *PMC) voltage(uX, uY float64) {
	res := p.resolution

	uX *= p.quickIU
	uY *= p.quickIU

	uDC := math.Sqrt(uX*uX + uY*uY)

	p.vsiDC = uDC / p.kEMAX
	p.vsiLpfDC += (p.vsiDC - p.vsiLpfDC) * p.VsiGainLP

	if p.ConfigVSICircular && uDC > p.kEMAX {
		uDC = p.kEMAX / uDC
		uX *= uDC
		uY *= uDC
	}

	uA, uB, uC := invClarke(p.ConfigNOP, uX, uY)

	uMIN, uMAX := uA, uB
	if uA >= uB {
		uMIN, uMAX = uB, uA
	}
	if uC < uMIN {
		uMIN = uC
	} else if uMAX < uC {
		uMAX = uC
	}

	if span := uMAX - uMIN; span > 1 {
		k := 1 / span
		uA *= k
		uB *= k
		uC *= k
		uMIN *= k
		uMAX *= k
	}

	var off float64
	if p.ConfigVSIPrecise {
		off = 0.5 - (uMAX+uMIN)*0.5
	} else {
		off = -uMIN
	}

	xA := int(float64(res) * (uA + off))
	xB := int(float64(res) * (uB + off))
	xC := int(float64(res) * (uC + off))

	if p.luMode != LuDisabled {
		xA, xB, xC = p.clearanceShape(xA, xB, xC)
	} else {
		xMAX := res - p.tsClearance
		xA = min(xA+p.tsMinimal, xMAX)
		xB = min(xB+p.tsMinimal, xMAX)
		xC = min(xC+p.tsMinimal, xMAX)
	}

	if p.tsBootstrap != 0 {
		xA, xB, xC = p.bootstrap(xA, xB, xC)
	}

	p.emit(xA, xB, xC)
}

// emit sends the duty cycles and records the voltage they produce.
func (p *PMC) emit(xA, xB, xC int) {
	p.out.SetDC(xA, xB, xC)

	p.vsiDX = p.vsiX
	p.vsiDY = p.vsiY

	k := p.fbU * p.tsInverted

	if p.ConfigNOP == TopologyThreePhase {
		q := float64(xA+xB+xC) / 3
		a := (float64(xA) - q) * k
		b := (float64(xB) - q) * k
		p.vsiX = a
		p.vsiY = 0.57735026918962576*a + 1.1547005383792515*b
	} else {
		p.vsiX = float64(xA-xC) * k
		p.vsiY = float64(xB-xC) * k
	}

	p.clearance(xA, xB, xC)
}

// clearanceShape moves the duty cycles out of the zones where the current
// shunts cannot be sampled. Shifting all legs together keeps the line
// voltages.
func (p *PMC) clearanceShape(xA, xB, xC int) (int, int, int) {
	res := p.resolution

	snap := func(x, hi int) int {
		if x < p.tsMinimal {
			return 0
		}
		if x > hi {
			return res
		}
		return x
	}

	switch p.ConfigIFB {
	case FeedbackABInline, FeedbackABCInline:
		xMAX := res - p.tsClearance
		over := xA > xMAX || xB > xMAX
		if p.ConfigIFB == FeedbackABCInline {
			over = over || xC > xMAX
		}
		if over {
			top := max(xA, xB, xC)
			shift := res - top
			xA += shift
			xB += shift
			xC += shift
		}
		xMAX = res - p.tsMinimal
		xA = snap(xA, xMAX)
		xB = snap(xB, xMAX)
		xC = snap(xC, xMAX)

	case FeedbackABGround:
		xMAX := res - p.tsClearance
		clip := func(x int) int {
			if x < p.tsMinimal {
				return 0
			}
			return min(x, xMAX)
		}
		xA = clip(xA)
		xB = clip(xB)
		xC = clip(xC)

	case FeedbackABCGround:
		if xA < p.tsMinimal {
			xA = 0
		}
		if xB < p.tsMinimal {
			xB = 0
		}
		if xC < p.tsMinimal {
			xC = 0
		}

		xMAX := res - p.tsClearance
		xMIN := res - p.tsMinimal

		// When two legs sit in the clearance zone, keep the lower one
		// samplable and push the other to the top.
		pair := func(x, y *int) {
			if *x < *y {
				*x = min(*x, xMAX)
				if *y > xMIN {
					*y = res
				}
			} else {
				if *x > xMIN {
					*x = res
				}
				*y = min(*y, xMAX)
			}
		}
		top := func(x *int) {
			if *x > xMIN {
				*x = res
			}
		}

		switch {
		case xA > xMAX && xB > xMAX:
			top(&xC)
			pair(&xA, &xB)
		case xB > xMAX && xC > xMAX:
			top(&xA)
			pair(&xB, &xC)
		case xA > xMAX && xC > xMAX:
			top(&xB)
			pair(&xA, &xC)
		}
	}
	return xA, xB, xC
}

// bootstrap counts how long each leg stays fully on and clamps the output
// for a recharge window once any leg exceeds the retention time.
func (p *PMC) bootstrap(xA, xB, xC int) (int, int, int) {
	res := p.resolution

	count := func(n *int, x int) {
		if x == res {
			*n++
		} else {
			*n = 0
		}
	}
	count(&p.vsiSA, xA)
	count(&p.vsiSB, xB)
	count(&p.vsiSC, xC)

	if p.vsiSA > p.tsBootstrap || p.vsiSB > p.tsBootstrap || p.vsiSC > p.tsBootstrap {
		p.vsiTIM = 1
	}

	if p.vsiTIM >= 1 {
		xMAX := res - p.tsClearance
		xA = min(xA, xMAX)
		xB = min(xB, xMAX)
		xC = min(xC, xMAX)

		p.vsiTIM++
		if p.vsiTIM >= p.tsClamped {
			p.vsiTIM = 0
		}
	}
	return xA, xB, xC
}

// clearance classifies the samples that will be taken during the PWM period
// just issued. Flags are 0 when the sample is clean.
func (p *PMC) clearance(xA, xB, xC int) {
	res := p.resolution

	xA = res - xA
	xB = res - xB
	xC = res - xC

	clean := func(g, x int, inline bool) int {
		if g >= p.tsClearance && x > p.tsSkip {
			return 0
		}
		if inline && g == 0 && x == 0 {
			return 0
		}
		return 1
	}

	switch p.ConfigIFB {
	case FeedbackABInline:
		p.vsiAF = clean(p.vsiAG, xA, true)
		p.vsiBF = clean(p.vsiBG, xB, true)
		p.vsiCF = 1
	case FeedbackABGround:
		p.vsiAF = clean(p.vsiAG, xA, false)
		p.vsiBF = clean(p.vsiBG, xB, false)
		p.vsiCF = 1
	case FeedbackABCInline:
		p.vsiAF = clean(p.vsiAG, xA, true)
		p.vsiBF = clean(p.vsiBG, xB, true)
		p.vsiCF = clean(p.vsiCG, xC, true)
	case FeedbackABCGround:
		p.vsiAF = clean(p.vsiAG, xA, false)
		p.vsiBF = clean(p.vsiBG, xB, false)
		p.vsiCF = clean(p.vsiCG, xC, false)
	}

	// A single channel may be masked out. Other values mask nothing.
	switch p.VsiMaskXF {
	case MaskA:
		p.vsiAF = 1
	case MaskB:
		p.vsiBF = 1
	case MaskC:
		p.vsiCF = 1
	}

	// At least two clean current samples are needed by the loops.
	if p.vsiAF+p.vsiBF+p.vsiCF < 2 {
		p.vsiIF = 0
	} else {
		p.vsiIF = 1
	}

	quiet := func(g, x int) bool {
		return (g > p.tsSkip && x > p.tsSkip) || (g == 0 && x == 0)
	}
	if quiet(p.vsiAG, xA) && quiet(p.vsiBG, xB) && quiet(p.vsiCG, xC) {
		p.vsiSF = 0
	} else {
		p.vsiSF = 1
	}

	if p.ConfigTVM && p.TvmUseable {
		xMIN := int(float64(res) * (1 - p.TvmCleanZone))

		if p.vsiAG > xMIN && p.vsiBG > xMIN && p.vsiCG > xMIN &&
			xA > xMIN && xB > xMIN && xC > xMIN {
			p.vsiUF = 0
		} else {
			p.vsiUF = 1
		}

		// A leg held low for the whole period reads exactly zero.
		p.vsiAZ = boolInt(p.vsiAG != res)
		p.vsiBZ = boolInt(p.vsiBG != res)
		p.vsiCZ = boolInt(p.vsiCG != res)
	} else {
		p.vsiUF = 1
	}

	p.vsiAG = xA
	p.vsiBG = xB
	p.vsiCG = xC
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
