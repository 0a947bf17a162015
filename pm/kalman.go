package pm

// The extended Kalman filter estimates the state (iD, iQ, theta, wS, bQ)
// where bQ is a Q axis voltage bias standing for a flux linkage error.
//
// The symmetric covariance is stored as its upper triangle:
//
//	    [ P0  P1  P3  P6  P10 ]
//	    [ P1  P2  P4  P7  P11 ]
//	P = [ P3  P4  P5  P8  P12 ]
//	    [ P6  P7  P8  P9  P13 ]
//	    [ P10 P11 P12 P13 P14 ]
//
// The Jacobian is sparse:
//
//	    [ A0 A1 A2 A3 0  ]
//	    [ A4 A5 A6 A7 A8 ]
//	A = [ 0  0  1  A9 0  ]
//	    [ 0  0  0  1  0  ]
//	    [ 0  0  0  0  1  ]

// kalmanReset starts the filter from the lookup state.
func (p *PMC) kalmanReset() {
	p.fluxX[0] = p.luID
	p.fluxX[1] = p.luIQ

	p.kalmanP = [15]float64{}
	p.kalmanP[5] = 1
	p.kalmanK = [10]float64{}
	p.kalmanBiasQ = 0
}

// kalmanEquation evaluates the current derivative in the frame F.
func (p *PMC) kalmanEquation(x, F [2]float64) (y [2]float64) {
	uD := F[0]*p.vsiX + F[1]*p.vsiY
	uQ := F[0]*p.vsiY - F[1]*p.vsiX

	uQ += p.kalmanBiasQ

	fluxD := p.ConstImL1*x[0] + p.ConstLambda
	fluxQ := p.ConstImL2 * x[1]

	y[0] = (uD - p.ConstRs*x[0] + fluxQ*p.fluxWS) * p.quickIL1
	y[1] = (uQ - p.ConstRs*x[1] - fluxD*p.fluxWS) * p.quickIL2
	return y
}

// kalmanSolve advances the current and the frame by one period (Heun).
func (p *PMC) kalmanSolve(x, F *[2]float64, wS float64) {
	y1 := p.kalmanEquation(*x, *F)

	x[0] += y1[0] * p.dT
	x[1] += y1[1] * p.dT

	rotate(F, wS*p.dT)

	y2 := p.kalmanEquation(*x, *F)

	x[0] += (y2[0] - y1[0]) * p.dT * 0.5
	x[1] += (y2[1] - y1[1]) * p.dT * 0.5
}

// kalmanSolveTVM applies the difference between measured and issued
// voltage over the last period.
func (p *PMC) kalmanSolveTVM(x *[2]float64, F [2]float64) {
	uX := p.tvmDX - p.vsiDX
	uY := p.tvmDY - p.vsiDY

	uD := F[0]*uX + F[1]*uY
	uQ := F[0]*uY - F[1]*uX

	x[0] += uD * p.dT * p.quickIL1
	x[1] += uQ * p.dT * p.quickIL2
}

func (p *PMC) kalmanJacobian(x, F [2]float64, wS float64) {
	A := &p.kalmanA

	A[0] = 1 - p.ConstRs*p.quickTiL1
	A[1] = wS * p.ConstImL2 * p.quickTiL1
	A[2] = (F[0]*p.vsiY - F[1]*p.vsiX) * p.quickTiL1
	A[3] = x[1] * p.ConstImL2 * p.quickTiL1

	A[4] = -wS * p.ConstImL1 * p.quickTiL2
	A[5] = 1 - p.ConstRs*p.quickTiL2
	A[6] = (-F[0]*p.vsiX - F[1]*p.vsiY) * p.quickTiL2
	A[7] = (-p.ConstLambda - x[0]*p.ConstImL1) * p.quickTiL2
	A[8] = p.quickTiL2
	A[9] = p.dT
}

// kalmanPredict propagates the covariance, P = A*P*A' + Q. The speed and
// bias cross terms are kept only in the HIGH zone.
func (p *PMC) kalmanPredict() {
	P := &p.kalmanP
	A := &p.kalmanA
	Q := &p.KalmanGainQ

	var AP [16]float64

	AP[0] = A[0]*P[0] + A[1]*P[1] + A[2]*P[3] + A[3]*P[6]
	AP[1] = A[0]*P[1] + A[1]*P[2] + A[2]*P[4] + A[3]*P[7]
	AP[2] = A[0]*P[3] + A[1]*P[4] + A[2]*P[5] + A[3]*P[8]
	AP[3] = A[0]*P[6] + A[1]*P[7] + A[2]*P[8] + A[3]*P[9]

	AP[4] = A[4]*P[0] + A[5]*P[1] + A[6]*P[3] + A[7]*P[6] + A[8]*P[10]
	AP[5] = A[4]*P[1] + A[5]*P[2] + A[6]*P[4] + A[7]*P[7] + A[8]*P[11]
	AP[6] = A[4]*P[3] + A[5]*P[4] + A[6]*P[5] + A[7]*P[8] + A[8]*P[12]
	AP[7] = A[4]*P[6] + A[5]*P[7] + A[6]*P[8] + A[7]*P[9] + A[8]*P[13]
	AP[8] = A[4]*P[10] + A[5]*P[11] + A[6]*P[12] + A[7]*P[13] + A[8]*P[14]

	AP[9] = P[3] + A[9]*P[6]
	AP[10] = P[4] + A[9]*P[7]
	AP[11] = P[5] + A[9]*P[8]
	AP[12] = P[8] + A[9]*P[9]
	AP[13] = P[12] + A[9]*P[13]

	AP[14] = P[6]
	AP[15] = P[10]

	P[0] = AP[0]*A[0] + AP[1]*A[1] + AP[2]*A[2] + AP[3]*A[3]
	P[1] = AP[4]*A[0] + AP[5]*A[1] + AP[6]*A[2] + AP[7]*A[3]
	P[2] = AP[4]*A[4] + AP[5]*A[5] + AP[6]*A[6] + AP[7]*A[7] + AP[8]*A[8]
	P[3] = AP[9]*A[0] + AP[10]*A[1] + AP[11]*A[2] + AP[12]*A[3]
	P[4] = AP[9]*A[4] + AP[10]*A[5] + AP[11]*A[6] + AP[12]*A[7] + AP[13]*A[8]
	P[5] = AP[11] + AP[12]*A[9]
	P[6] = AP[14]*A[0] + P[7]*A[1] + P[8]*A[2] + P[9]*A[3]
	P[7] = AP[14]*A[4] + P[7]*A[5] + P[8]*A[6] + P[9]*A[7] + P[13]*A[8]
	P[8] = P[8] + P[9]*A[9]

	P[0] += Q[0]
	P[2] += Q[1]
	P[5] += Q[2]
	P[9] += Q[3]

	if p.fluxZone == ZoneHigh {
		P[10] = AP[15]*A[0] + P[11]*A[1] + P[12]*A[2] + P[13]*A[3]
		P[11] = AP[15]*A[4] + P[11]*A[5] + P[12]*A[6] + P[13]*A[7] + P[14]*A[8]
		P[12] = P[12] + P[13]*A[9]

		P[14] += Q[4]
	} else {
		P[10] = 0
		P[11] = 0
		P[12] = 0
		P[13] = 0
		P[14] = 0
	}
}

// kalmanUpdate runs the two scalar measurement updates with
//
//	C1 = [ 1  0  -X1  0  0 ]
//	C2 = [ 0  1   X0  0  0 ]
//
// Gains of the first land in the even entries of K, of the second in the
// odd ones.
func (p *PMC) kalmanUpdate(x [2]float64) {
	P := &p.kalmanP
	K := &p.kalmanK

	var CP [5]float64

	CP[0] = P[0] - x[1]*P[3]
	CP[1] = P[1] - x[1]*P[4]
	CP[2] = P[3] - x[1]*P[5]
	CP[3] = P[6] - x[1]*P[8]
	CP[4] = P[10] - x[1]*P[12]

	si := 1 / (CP[0] - CP[2]*x[1] + p.KalmanGainR)

	K[0] = CP[0] * si
	K[2] = CP[1] * si
	K[4] = CP[2] * si
	K[6] = CP[3] * si
	K[8] = CP[4] * si

	p.kalmanDowndate(0, CP)

	CP[0] = P[1] + x[0]*P[3]
	CP[1] = P[2] + x[0]*P[4]
	CP[2] = P[4] + x[0]*P[5]
	CP[3] = P[7] + x[0]*P[8]
	CP[4] = P[11] + x[0]*P[12]

	si = 1 / (CP[1] + CP[2]*x[0] + p.KalmanGainR)

	K[1] = CP[0] * si
	K[3] = CP[1] * si
	K[5] = CP[2] * si
	K[7] = CP[3] * si
	K[9] = CP[4] * si

	p.kalmanDowndate(1, CP)
}

// kalmanDowndate applies P -= K*C*P for the gain column k (0 or 1).
func (p *PMC) kalmanDowndate(k int, CP [5]float64) {
	P := &p.kalmanP
	K := &p.kalmanK

	k0, k1, k2, k3, k4 := K[k], K[k+2], K[k+4], K[k+6], K[k+8]

	P[0] -= k0 * CP[0]
	P[1] -= k1 * CP[0]
	P[2] -= k1 * CP[1]
	P[3] -= k2 * CP[0]
	P[4] -= k2 * CP[1]
	P[5] -= k2 * CP[2]
	P[6] -= k3 * CP[0]
	P[7] -= k3 * CP[1]
	P[8] -= k3 * CP[2]
	P[9] -= k3 * CP[3]
	P[10] -= k4 * CP[0]
	P[11] -= k4 * CP[1]
	P[12] -= k4 * CP[2]
	P[13] -= k4 * CP[3]
	P[14] -= k4 * CP[4]
}

// kalmanLockGuard detects an estimate locked at the flipped angle while
// the bare speed from frame increments A has the opposite sign.
func (p *PMC) kalmanLockGuard(a float64) {
	p.kalmanLpfWS += (a*p.freq - p.kalmanLpfWS) * p.ZoneGainLP

	if p.fluxZone != ZoneNone && p.fluxZone != ZoneUncertain {
		return
	}

	th := p.ZoneThresholdBASE * p.ZoneGainTH

	unlock := (p.kalmanLpfWS < -th && p.fluxWS > th) ||
		(p.kalmanLpfWS > th && p.fluxWS < -th)

	if unlock {
		p.fluxType = EstimatorNone

		p.fluxF[0] = -p.fluxF[0]
		p.fluxF[1] = -p.fluxF[1]
		p.fluxWS = p.kalmanLpfWS

		p.kalmanPostponed = false
	}
}

// fluxKalman runs the correction step and leaves the covariance work for
// after the duty cycles are issued.
func (p *PMC) fluxKalman() {
	K := &p.kalmanK

	if p.ConfigTVM {
		p.kalmanSolveTVM(&p.fluxX, p.fluxF)
	}

	bF := p.fluxF

	eD := bF[0]*p.luIX + bF[1]*p.luIY - p.fluxX[0]
	eQ := bF[0]*p.luIY - bF[1]*p.luIX - p.fluxX[1]

	if p.ConstLambda > epsF {
		if p.vsiIF == 0 {
			p.fluxX[0] += K[0]*eD + K[1]*eQ
			p.fluxX[1] += K[2]*eD + K[3]*eQ

			rotate(&p.fluxF, clamp(K[4]*eD+K[5]*eQ, -1, 1))

			p.fluxWS += K[6]*eD + K[7]*eQ

			if p.FluxGainIF > epsF {
				p.fluxWS += p.torqueAccel() * p.dT * p.FluxGainIF
			}

			if p.fluxZone == ZoneHigh {
				p.kalmanBiasQ += K[8]*eD + K[9]*eQ
			} else {
				p.kalmanBiasQ = 0
			}
		}

		p.kalmanPostponed = true
		p.kalmanJacobian(p.fluxX, p.fluxF, p.fluxWS)
	} else {
		// Borrow the lookup state until the flux linkage is known.
		p.fluxX[0] = p.luID
		p.fluxX[1] = p.luIQ
		p.fluxF[0] = p.luF[0]
		p.fluxF[1] = p.luF[1]
		p.fluxWS = p.luWS

		p.kalmanBiasQ += p.FluxGainIN * eQ
	}

	p.kalmanSolve(&p.fluxX, &p.fluxF, p.fluxWS)

	p.kalmanLockGuard(bF[0]*p.fluxF[1] - bF[1]*p.fluxF[0])
}
