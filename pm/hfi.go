package pm

import "math"

// hfiPolarity extracts the D axis polarity from magnetic saturation and
// flips the frame F when it is found inverted.
func (p *PMC) hfiPolarity(iD float64, F *[2]float64) {
	// Reference wave at doubled frequency.
	polwave := p.hfiWave[0]*p.hfiWave[0] - p.hfiWave[1]*p.hfiWave[1]

	p.hfiPole += iD * polwave * p.HFIGainDP

	if p.hfiPole < -1 {
		F[0] = -F[0]
		F[1] = -F[1]
		p.hfiPole = 0
	} else if p.hfiPole > 1 {
		p.hfiPole = 1
	}
}

// hfiOnKalman synthesizes the next sample of the injected wave and arms
// the injection for the current loop.
func (p *PMC) hfiOnKalman() {
	if p.ConfigHFIPolarity && p.ConfigHFIWave == HFISine {
		p.hfiPolarity(p.fluxX[0], &p.fluxF)
	}

	switch p.ConfigHFIWave {
	case HFISine:
		rotate(&p.hfiWave, p.quickHFwS*p.dT)

	case HFIRandom:
		// wave[1] is a phase accumulator, wave[0] the held level.
		if p.hfiWave[1] > math.Pi {
			p.hfiWave[0] = (p.hfiSeed.float() + p.hfiSeed.float() + p.hfiSeed.float()) * 0.3
			p.hfiWave[1] -= math.Pi
		}
		p.hfiWave[1] += p.quickHFwS * p.dT

	case HFISilent:
		p.hfiWave = [2]float64{0, 1}

	case HFINone:
	}

	p.hfiInject = true
}
