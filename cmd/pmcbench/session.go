package main

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/pmsm-foc/bench"
	"github.com/viam-modules/pmsm-foc/pm"
)

// session is a controller wired to a bench plant.
type session struct {
	plant  *bench.Plant
	ctrl   *pm.PMC
	logger logging.Logger
}

func newSession(logger logging.Logger) (*session, error) {
	m := bench.DefaultMotor()
	m.Zp = polePairs

	plant := bench.NewPlant(pwmFreq, pwmResolution, m)
	ctrl := pm.New(pwmFreq, pwmResolution, plant)
	ctrl.ConstZp = polePairs
	ctrl.QuickBuild()

	s := &session{plant: plant, ctrl: ctrl, logger: logger}
	if loadPath != "" {
		snap, err := loadSnapshot(loadPath)
		if err != nil {
			return nil, err
		}
		if err := snap.apply(ctrl); err != nil {
			return nil, errors.Wrapf(err, "applying snapshot %s", loadPath)
		}
		logger.Infof("loaded %d registers from %s", len(snap.Registers), loadPath)
	}
	return s, nil
}

// finish saves the snapshot when asked to.
func (s *session) finish() error {
	if savePath == "" {
		return nil
	}
	if err := saveSnapshot(savePath, s.ctrl); err != nil {
		return err
	}
	s.logger.Infof("saved registers to %s", savePath)
	return nil
}

// run requests a procedure and ticks until the outer FSM is idle again.
func (s *session) run(st pm.State) error {
	rejected := s.ctrl.ReqRejected()

	s.ctrl.Request(st)
	s.plant.Run(s.ctrl, 1)

	limit := int(timeLimit * s.ctrl.Freq())
	if !s.plant.RunUntil(s.ctrl, limit, func() bool { return !s.ctrl.Busy() }) {
		return errors.Errorf("%s did not finish within %g s", st, timeLimit)
	}
	if s.ctrl.ReqRejected() > rejected {
		return errors.Errorf("%s refused in state %s with lookup %s", st, s.ctrl.State(), s.ctrl.Mode())
	}
	if err := s.ctrl.Errno().Err(); err != nil {
		return errors.Wrapf(err, "%s failed", st)
	}
	s.logger.Debugf("%s done", st)
	return nil
}

// trueConstants gives the controller the constants of the simulated
// machine.
func (s *session) trueConstants() {
	m := s.plant.Motor
	p := s.ctrl
	p.ConstRs = m.Rs
	p.ConstImL1 = m.Ld
	p.ConstImL2 = m.Lq
	p.ConstLambda = m.Lambda
	p.ConstZp = m.Zp
	// Inertia in the units of the torque estimate and electrical speed.
	p.ConstJa = m.J / float64(m.Zp*m.Zp)
	p.QuickBuild()
}

// tune runs the auto-tuning procedures that follow from the machine
// constants.
func (s *session) tune() {
	for _, req := range []pm.AutoReq{
		pm.AutoMaximalCurrent,
		pm.AutoProbeSpeedHold,
		pm.AutoZoneThreshold,
		pm.AutoForcedMaximal,
		pm.AutoForcedAccel,
		pm.AutoLoopCurrent,
		pm.AutoLoopSpeed,
	} {
		s.ctrl.Auto(req)
		s.logger.Debugf("auto %s", req)
	}
	s.ctrl.QuickBuild()
}

func rpmToElectrical(rpm float64, zp int) float64 {
	return rpm * 2 * math.Pi / 60 * float64(zp)
}

func electricalToRPM(w float64, zp int) float64 {
	if zp == 0 {
		return 0
	}
	return w * 60 / (2 * math.Pi * float64(zp))
}
