package pm

import "math"

// torque returns the electrical torque produced by the given DQ currents.
func (p *PMC) torque(iD, iQ float64) float64 {
	var rel float64
	if p.ConfigReluctance {
		rel = (p.ConstImL1 - p.ConstImL2) * iD
	}
	return p.kKWAT * (p.ConstLambda + rel) * iQ
}

// torqueAccel returns the acceleration expected from the present currents
// against the estimated load.
func (p *PMC) torqueAccel() float64 {
	if p.ConstJa <= epsF {
		return 0
	}
	return (p.torque(p.luID, p.luIQ) - p.luMqLoad) / p.ConstJa
}

// mtpaSine returns the sine of the maximum torque per ampere angle.
func (p *PMC) mtpaSine(iQ float64) float64 {
	if math.Abs(iQ) <= epsF {
		return 0
	}
	e1 := p.ConstLambda
	q := 4 * (p.ConstImL2 - p.ConstImL1) * iQ
	if math.Abs(q) <= epsF {
		return 0
	}
	return (e1 - math.Sqrt(q*q*0.5+e1*e1)) / q
}

// torqueApprox returns the Q current that produces the torque mQ.
func (p *PMC) torqueApprox(mQ float64) float64 {
	if p.ConstLambda <= epsF {
		return 0
	}
	return mQ / (p.kKWAT * p.ConstLambda)
}

// powerClamp scales the DQ current targets so the power drawn from (or
// returned to) the DC link stays within [wREV, wMAX]. The D axis has
// priority: Q is reduced first and zeroed if D alone breaks the limit.
func (p *PMC) powerClamp(trackD, trackQ, wMAX, wREV float64) (float64, float64) {
	wP := p.kKWAT * (trackD*p.wattLpfD + trackQ*p.wattLpfQ)

	switch {
	case wP > wMAX:
		wP = p.kKWAT * trackD * p.wattLpfD
		if wP > wMAX {
			trackD *= wMAX / wP
			trackQ = 0
		} else {
			wMAX -= wP
			wP = p.kKWAT * trackQ * p.wattLpfQ
			if wP > epsF {
				trackQ *= wMAX / wP
			}
		}
	case wP < wREV:
		wP = p.kKWAT * trackD * p.wattLpfD
		if wP < wREV {
			trackD *= wREV / wP
			trackQ = 0
		} else {
			wREV -= wP
			wP = p.kKWAT * trackQ * p.wattLpfQ
			if wP < -epsF {
				trackQ *= wREV / wP
			}
		}
	}
	return trackD, trackQ
}

// fault records a fatal reason and asks the outer FSM to halt.
func (p *PMC) fault(e Errno) {
	p.fsmErrno = e
	p.fsmReq = StateHalt
}
