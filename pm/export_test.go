package pm

import "math"

// SetLookup places the lookup frame at theta with speed wS and restarts the
// position sensor trackers from it.
func (p *PMC) SetLookup(theta, wS float64) {
	s, c := math.Sincos(theta)
	p.luF = [3]float64{c, s, s}
	p.luWS = wS

	p.hallStart()
	p.abiEnabled = false
	p.sincosRevol, p.sincosUnwrap = 0, 0
	p.sincosSC = [3]float64{}
}

// TrackHall runs the Hall tracker on one sample.
func (p *PMC) TrackHall(fb *Feedback) (F [2]float64, wS float64) {
	p.fbHS = fb.PulseHS
	p.sensorHall()
	return p.hallF, p.hallWS
}

// TrackABI runs the encoder tracker on one sample.
func (p *PMC) TrackABI(fb *Feedback) (F [2]float64, wS, location float64) {
	p.fbEP = fb.PulseEP
	p.sensorABI()
	return p.abiF, p.abiWS, p.abiLocation
}

// TrackSinCos runs the analog tracker on one sample.
func (p *PMC) TrackSinCos(fb *Feedback) (F [2]float64, location float64) {
	p.fbSIN = fb.AnalogSIN
	p.fbCOS = fb.AnalogCOS
	p.sensorSinCos()
	return p.sincosF, p.sincosLocation
}
