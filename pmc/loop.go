package pmc

import (
	"context"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-modules/pmsm-foc/pm"
)

// job is a piece of work applied to the controller between two batches of
// ticks.
type job struct {
	fn   func(p *pm.PMC) error
	done chan error
}

// status is published after every batch.
type status struct {
	state pm.State
	errno pm.Errno
	mode  pm.LuMode
	zone  pm.Zone
	busy  bool

	speed    float64
	location float64
	id, iq   float64
	udc      float64
	zp       int

	target      float64
	locationTol float64
	speedTol    float64
}

// gatedOutput passes commands to the bridge and remembers whether any leg
// was driven so the enable pin can follow.
type gatedOutput struct {
	Bridge
	z      int
	driven bool
}

func (g *gatedOutput) SetZ(z int) {
	g.z = z
	if z != pm.ZABC {
		g.driven = true
	}
	g.Bridge.SetZ(z)
}

// exec runs fn in the loop goroutine and waits until a batch of ticks has
// seen its effect.
func (m *Motor) exec(ctx context.Context, fn func(p *pm.PMC) error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case m.jobs <- j:
	case <-m.stopped:
		return errors.Errorf("motor (%s) is closed", m.motorName)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-m.stopped:
		return errors.Errorf("motor (%s) is closed", m.motorName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive makes sure the lookup FSM runs, then applies set.
func (m *Motor) drive(ctx context.Context, set func(p *pm.PMC) error) error {
	err := m.exec(ctx, func(p *pm.PMC) error {
		if p.Mode() != pm.LuDisabled {
			return nil
		}
		if p.Busy() {
			return errors.Errorf("busy with %s", p.State())
		}
		p.Request(pm.StateLuInitiate)
		return nil
	})
	if err != nil {
		return err
	}

	// Initiation resets the setpoints, so wait for it to finish.
	if err := m.waitFor(ctx, func(st status) (bool, error) {
		switch {
		case st.mode != pm.LuDisabled:
			return true, nil
		case st.busy:
			return false, nil
		case st.errno != pm.ErrOK:
			return true, errors.Wrap(st.errno, "lookup did not start")
		default:
			return true, errors.New("lookup did not start")
		}
	}); err != nil {
		return err
	}

	return m.exec(ctx, set)
}

// waitFor polls the published status until cond is satisfied. An error is
// reported only once cond also returns true.
func (m *Motor) waitFor(ctx context.Context, cond func(st status) (bool, error)) error {
	for {
		m.mu.RLock()
		st := m.status
		m.mu.RUnlock()

		ok, err := cond(st)
		if ok {
			return err
		}
		if !utils.SelectContextOrWait(ctx, pollPeriod) {
			return ctx.Err()
		}
	}
}

// run owns the controller until ctx is done.
func (m *Motor) run(ctx context.Context) {
	period := time.Duration(float64(m.batch) / m.ctrl.Freq() * float64(time.Second))
	next := time.Now()

	var pending []job
	for {
		pending = pending[:0]
	drain:
		for {
			select {
			case j := <-m.jobs:
				pending = append(pending, j)
			default:
				break drain
			}
		}

		m.out.driven = false

		errs := make([]error, len(pending))
		for i, j := range pending {
			errs[i] = j.fn(m.ctrl)
		}

		for range m.batch {
			fb := m.bridge.Next()
			m.ctrl.Feedback(&fb)
		}

		m.publish()
		m.syncEnable(ctx)

		for i, j := range pending {
			j.done <- errs[i]
		}

		if m.freeRun {
			if ctx.Err() != nil {
				return
			}
			runtime.Gosched()
			continue
		}

		next = next.Add(period)
		if now := time.Now(); next.Before(now) {
			// Behind schedule, do not try to catch up.
			next = now
		}
		if !utils.SelectContextOrWait(ctx, time.Until(next)) {
			return
		}
	}
}

// publish copies the controller state for readers outside the loop.
func (m *Motor) publish() {
	p := m.ctrl
	id, iq := p.Current()
	st := status{
		state:       p.State(),
		errno:       p.Errno(),
		mode:        p.Mode(),
		zone:        p.Zone(),
		busy:        p.Busy(),
		speed:       p.Speed(),
		location:    p.Location(),
		id:          id,
		iq:          iq,
		udc:         p.DCLink(),
		zp:          p.ConstZp,
		target:      p.XSetpointLocation,
		locationTol: p.ProbeLocationTol,
		speedTol:    p.ProbeSpeedTol,
	}

	m.mu.Lock()
	prev := m.status
	m.status = st
	m.mu.Unlock()

	if st.errno != prev.errno && st.errno != pm.ErrOK {
		m.logger.Warnf("motor (%s) %s fault: %s", m.motorName, st.errno.Severity(), st.errno.Error())
	}
	if st.state != prev.state {
		m.logger.Debugf("motor (%s) state %s -> %s", m.motorName, prev.state, st.state)
	}
	if st.mode != prev.mode {
		m.logger.Infof("motor (%s) lookup %s -> %s", m.motorName, prev.mode, st.mode)
	}
}

// syncEnable drives the enable pin when the legs were switched during the
// last batch.
func (m *Motor) syncEnable(ctx context.Context) {
	if m.enLowPin == nil {
		return
	}
	want := m.out.driven || m.out.z != pm.ZABC
	if want == m.enabled {
		return
	}
	if err := m.Enable(ctx, want); err != nil {
		m.logger.Errorw("failed to drive enable pin", "motor", m.motorName, "error", err)
	}
}
