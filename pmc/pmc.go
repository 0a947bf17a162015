// Package pmc implements a motor driven by the field oriented control engine
// in package pm. The engine is ticked by a goroutine against a power stage
// bridge, which is the bench plant unless one is injected.
package pmc

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"

	"github.com/viam-modules/pmsm-foc/bench"
	"github.com/viam-modules/pmsm-foc/pm"
)

// PinConfig defines the mapping of where the power stage is wired.
type PinConfig struct {
	EnablePinLow string `json:"en_low,omitempty"`
}

// BenchConfig holds the constants of the simulated machine. Zero values
// take the bench defaults.
type BenchConfig struct {
	Rs     float64 `json:"rs_ohm,omitempty"`
	Ld     float64 `json:"ld_henry,omitempty"`
	Lq     float64 `json:"lq_henry,omitempty"`
	Lambda float64 `json:"lambda_wb,omitempty"`
	J      float64 `json:"inertia_kg_m2,omitempty"`
	UDC    float64 `json:"dc_link_volts,omitempty"`
	// Load is the load torque: constant, viscous and quadratic terms.
	Load [3]float64 `json:"load,omitempty"`
}

// Config describes the configuration of a motor.
type Config struct {
	Pins          PinConfig          `json:"pins,omitempty"`
	BoardName     string             `json:"board,omitempty"` // used solely for the PinConfig
	MaxRPM        float64            `json:"max_rpm,omitempty"`
	PolePairs     int                `json:"pole_pairs,omitempty"`
	PWMFrequency  float64            `json:"pwm_frequency_hz,omitempty"`
	PWMResolution int                `json:"pwm_resolution,omitempty"`
	Bench         *BenchConfig       `json:"bench,omitempty"`
	Registers     map[string]float64 `json:"registers,omitempty"`
	// FreeRun ticks the bench as fast as possible instead of at wall clock
	// rate.
	FreeRun bool `json:"free_run,omitempty"`
}

// Model for the field oriented PMSM motor.
var Model = resource.NewModel("viam", "pmsm-foc", "pmc")

const (
	defaultFrequency  = 30000
	defaultResolution = 1000
	defaultPolePairs  = 7
	defaultMaxRPM     = 3000

	// Each batch covers this much time.
	batchPeriod = 10 * time.Millisecond
	pollPeriod  = 10 * time.Millisecond
)

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) ([]string, []string, error) {
	var deps []string
	if config.Pins.EnablePinLow != "" {
		if config.BoardName == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
		}
		deps = append(deps, config.BoardName)
	}
	if config.PWMFrequency < 0 {
		return nil, nil, errors.New("pwm_frequency_hz must be positive")
	}
	if config.PWMResolution < 0 {
		return nil, nil, errors.New("pwm_resolution must be positive")
	}
	if config.PolePairs < 0 {
		return nil, nil, errors.New("pole_pairs must be positive")
	}

	writable := make(map[string]bool)
	for _, r := range pm.Registers() {
		writable[r.Name] = r.Mode == pm.RegConfig
	}
	for name := range config.Registers {
		w, ok := writable[name]
		if !ok {
			return nil, nil, errors.Errorf("unknown register %q", name)
		}
		if !w {
			return nil, nil, errors.Errorf("register %q is read only", name)
		}
	}
	return deps, nil, nil
}

func (config *Config) frequency() float64 {
	if config.PWMFrequency == 0 {
		return defaultFrequency
	}
	return config.PWMFrequency
}

func (config *Config) resolution() int {
	if config.PWMResolution == 0 {
		return defaultResolution
	}
	return config.PWMResolution
}

func (config *Config) polePairs() int {
	if config.PolePairs == 0 {
		return defaultPolePairs
	}
	return config.PolePairs
}

// plant builds the simulated power stage.
func (config *Config) plant() *bench.Plant {
	m := bench.DefaultMotor()
	m.Zp = config.polePairs()

	b := bench.NewPlant(config.frequency(), config.resolution(), m)
	bc := config.Bench
	if bc == nil {
		return b
	}
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&b.Motor.Rs, bc.Rs)
	set(&b.Motor.Ld, bc.Ld)
	set(&b.Motor.Lq, bc.Lq)
	set(&b.Motor.Lambda, bc.Lambda)
	set(&b.Motor.J, bc.J)
	set(&b.UDC, bc.UDC)
	if bc.Load != [3]float64{} {
		b.Motor.Mq = bc.Load
	}
	return b
}

func init() {
	resource.RegisterComponent(motor.API, Model, resource.Registration[motor.Motor, *Config]{
		Constructor: newMotor,
	})
}

// Bridge is a power stage: it takes the controller's commands and produces
// one feedback sample per PWM period.
type Bridge interface {
	pm.Output
	Next() pm.Feedback
}

// A Motor represents a permanent magnet machine under field oriented control.
type Motor struct {
	resource.Named
	resource.AlwaysRebuild

	ctrl   *pm.PMC
	bridge Bridge
	out    *gatedOutput

	enLowPin  board.GPIOPin
	enabled   bool
	maxRPM    float64
	batch     int
	freeRun   bool
	logger    logging.Logger
	opMgr     *operation.SingleOperationManager
	motorName string

	jobs    chan job
	cancel  context.CancelFunc
	stopped chan struct{}

	mu         sync.RWMutex
	status     status
	powerPct   float64
	zero       float64
	speedLimit [2]float64
}

// newMotor returns a motor running against the bench plant.
func newMotor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (motor.Motor, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}
	return makeMotor(ctx, deps, *conf, c.ResourceName(), logger, conf.plant())
}

// makeMotor returns a motor. It is separate from newMotor, above, so you can inject
// a fake bridge in here during testing.
func makeMotor(ctx context.Context, deps resource.Dependencies, c Config, name resource.Name,
	logger logging.Logger, bridge Bridge,
) (motor.Motor, error) {
	if c.MaxRPM == 0 {
		logger.CWarnf(ctx, "max_rpm not set, setting to %d rpm", defaultMaxRPM)
		c.MaxRPM = defaultMaxRPM
	}
	if c.PolePairs == 0 {
		logger.CWarnf(ctx, "pole_pairs not set, setting to %d", defaultPolePairs)
		c.PolePairs = defaultPolePairs
	}

	freq := c.frequency()
	out := &gatedOutput{Bridge: bridge, z: pm.ZABC}

	ctrl := pm.New(freq, c.resolution(), out)
	ctrl.ConstZp = c.PolePairs
	ctrl.QuickBuild()
	if err := ctrl.Restore(c.Registers); err != nil {
		return nil, errors.Wrapf(err, "error applying registers to motor (%s)", name.ShortName())
	}

	m := &Motor{
		Named:      name.AsNamed(),
		ctrl:       ctrl,
		bridge:     bridge,
		out:        out,
		maxRPM:     c.MaxRPM,
		batch:      max(int(freq*batchPeriod.Seconds()), 1),
		freeRun:    c.FreeRun,
		logger:     logger,
		opMgr:      operation.NewSingleOperationManager(),
		motorName:  name.ShortName(),
		jobs:       make(chan job, 16),
		stopped:    make(chan struct{}),
		speedLimit: [2]float64{ctrl.SMaximal, ctrl.SReverse},
	}
	m.publish()

	if c.Pins.EnablePinLow != "" {
		b, err := board.FromDependencies(deps, c.BoardName)
		if err != nil {
			return nil, errors.Errorf("%q is not a board", c.BoardName)
		}

		m.enLowPin, err = b.GPIOPinByName(c.Pins.EnablePinLow)
		if err != nil {
			return nil, err
		}
		// The legs start released.
		if err := m.Enable(ctx, false); err != nil {
			return nil, err
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	utils.PanicCapturingGo(func() {
		defer close(m.stopped)
		m.run(loopCtx)
	})

	return m, nil
}

// Enable drives the hardware enable pin of the power stage.
func (m *Motor) Enable(ctx context.Context, turnOn bool) error {
	if m.enLowPin == nil {
		return errors.New("no enable pin configured")
	}
	if err := m.enLowPin.Set(ctx, !turnOn, nil); err != nil {
		return err
	}
	m.enabled = turnOn
	return nil
}

func rpmToElectrical(rpm float64, zp int) float64 {
	return rpm * 2 * math.Pi / 60 * float64(zp)
}

func revolutionsToElectrical(rev float64, zp int) float64 {
	return rev * 2 * math.Pi * float64(zp)
}

// Position reports the position in revolutions.
func (m *Motor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rawPosition() - m.zero, nil
}

// rawPosition must be called with mu held.
func (m *Motor) rawPosition() float64 {
	if m.status.zp == 0 {
		return 0
	}
	return m.status.location / (2 * math.Pi * float64(m.status.zp))
}

// Properties returns the status of optional properties on the motor.
func (m *Motor) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{
		PositionReporting: true,
	}, nil
}

// SetPower drives the motor with a Q axis current of powerPct (between -1
// and 1) of the maximal current.
func (m *Motor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)

	powerPct = math.Max(-1, math.Min(1, powerPct))
	if err := m.drive(ctx, func(p *pm.PMC) error {
		m.restoreSpeedLimit(p)
		p.ConfigLuDrive = pm.DriveCurrent
		p.ISetpointCurrent = powerPct * p.IMaximal
		return nil
	}); err != nil {
		return errors.Wrapf(err, "error in SetPower from motor (%s)", m.motorName)
	}

	m.mu.Lock()
	m.powerPct = powerPct
	m.mu.Unlock()
	return nil
}

// SetRPM instructs the motor to move at the specified RPM indefinitely.
func (m *Motor) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if rpm != 0 {
		if warning != "" {
			m.logger.CWarn(ctx, warning)
		}
		if err != nil {
			m.logger.CError(ctx, err)
		}
	}
	rpm = math.Max(-m.maxRPM, math.Min(m.maxRPM, rpm))

	if err := m.drive(ctx, func(p *pm.PMC) error {
		m.restoreSpeedLimit(p)
		p.ConfigLuDrive = pm.DriveSpeed
		p.SSetpointSpeed = rpmToElectrical(rpm, p.ConstZp)
		return nil
	}); err != nil {
		return errors.Wrapf(err, "error in SetRPM from motor (%s)", m.motorName)
	}

	m.mu.Lock()
	m.powerPct = rpm / m.maxRPM
	m.mu.Unlock()
	return nil
}

// GoFor turns in the given direction the given number of times at the given speed.
// Both the RPM and the revolutions can be assigned negative values to move in a backwards direction.
// Note: if both are negative the motor will spin in the forward direction.
func (m *Motor) GoFor(ctx context.Context, rpm, rotations float64, extra map[string]interface{}) error {
	if rotations == 0 {
		return m.SetRPM(ctx, rpm, extra)
	}

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}

	curPos, err := m.Position(ctx, extra)
	if err != nil {
		return errors.Wrapf(err, "error in GoFor from motor (%s)", m.motorName)
	}

	var d int64 = 1
	if math.Signbit(rotations) != math.Signbit(rpm) {
		d *= -1
	}

	rotations = math.Abs(rotations) * float64(d)
	rpm = math.Abs(rpm)

	target := curPos + rotations
	return m.GoTo(ctx, rpm, target, extra)
}

// GoTo moves to the specified position in terms of (provided in revolutions from home/zero),
// at a specific speed. Regardless of the directionality of the RPM this function will move the
// motor towards the specified target.
func (m *Motor) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		m.logger.CError(ctx, err)
	}
	rpm = math.Min(math.Abs(rpm), m.maxRPM)

	m.mu.RLock()
	target := positionRevolutions + m.zero
	m.mu.RUnlock()

	err = m.drive(ctx, func(p *pm.PMC) error {
		x := revolutionsToElectrical(target, p.ConstZp)
		if x < p.XLocationRange[0] || x > p.XLocationRange[1] {
			return errors.Errorf("target %.3f revolutions is outside of x_location_range", positionRevolutions)
		}

		m.restoreSpeedLimit(p)
		if rpm > 0 {
			w := rpmToElectrical(rpm, p.ConstZp)
			p.SMaximal = math.Min(p.SMaximal, w)
			p.SReverse = math.Min(p.SReverse, w)
		}
		p.ConfigLuDrive = pm.DriveLocation
		p.XSetpointSpeed = 0
		p.XSetpointLocation = x
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "error in GoTo from motor (%s)", m.motorName)
	}

	m.mu.Lock()
	m.powerPct = rpm / m.maxRPM
	m.mu.Unlock()

	return m.opMgr.WaitForSuccess(
		ctx,
		pollPeriod,
		m.atTarget,
	)
}

// restoreSpeedLimit undoes the limit of a previous GoTo. It runs in the
// loop goroutine.
func (m *Motor) restoreSpeedLimit(p *pm.PMC) {
	m.mu.RLock()
	p.SMaximal, p.SReverse = m.speedLimit[0], m.speedLimit[1]
	m.mu.RUnlock()
}

// atTarget reports whether the location servo has settled.
func (m *Motor) atTarget(ctx context.Context) (bool, error) {
	m.mu.RLock()
	st := m.status
	m.mu.RUnlock()

	if err := st.errno.Err(); err != nil {
		return false, errors.Wrapf(err, "motor (%s) faulted", m.motorName)
	}
	if st.mode == pm.LuDisabled {
		return false, errors.Errorf("motor (%s) stopped before reaching the target", m.motorName)
	}

	tol := revolutionsToElectrical(st.locationTol, st.zp)
	return math.Abs(st.target-st.location) <= tol && math.Abs(st.speed) <= st.speedTol, nil
}

// IsPowered returns true if the lookup FSM is running.
func (m *Motor) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.mode != pm.LuDisabled, m.powerPct, nil
}

// IsStopped returns true if the motor is NOT moving.
func (m *Motor) IsStopped(ctx context.Context) (bool, error) {
	moving, err := m.IsMoving(ctx)
	return !moving, err
}

// IsMoving returns true if the motor is currently moving.
func (m *Motor) IsMoving(ctx context.Context) (bool, error) {
	if m.opMgr.OpRunning() {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	return st.mode != pm.LuDisabled && math.Abs(st.speed) > st.speedTol, nil
}

// Stop shuts the lookup FSM down and releases the bridge.
func (m *Motor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)

	err := m.exec(ctx, func(p *pm.PMC) error {
		if p.Mode() != pm.LuDisabled {
			p.Request(pm.StateLuShutdown)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "error in Stop from motor (%s)", m.motorName)
	}

	m.mu.Lock()
	m.powerPct = 0
	m.mu.Unlock()
	return nil
}

// ResetZeroPosition sets the current position of the motor specified by the request
// (adjusted by a given offset) to be its new zero position.
func (m *Motor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	moving, err := m.IsMoving(ctx)
	if err != nil {
		return errors.Wrapf(err, "error in ResetZeroPosition from motor (%s)", m.motorName)
	} else if moving {
		return errors.Errorf("can't zero motor (%s) while moving", m.motorName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.zero = m.rawPosition() + offset
	return nil
}

// Close stops the tick loop and leaves the bridge released. A bridge that
// implements io.Closer is closed too.
func (m *Motor) Close(ctx context.Context) error {
	m.opMgr.CancelRunning(ctx)
	m.cancel()
	<-m.stopped

	// The loop is gone, the bridge is ours.
	m.bridge.SetDC(0, 0, 0)
	m.bridge.SetZ(pm.ZABC)

	var err error
	if m.enLowPin != nil {
		err = multierr.Combine(err, errors.Wrap(m.Enable(ctx, false), "release enable pin"))
	}
	if c, ok := m.bridge.(io.Closer); ok {
		err = multierr.Combine(err, errors.Wrap(c.Close(), "close bridge"))
	}
	if err != nil {
		return errors.Wrapf(err, "error closing motor (%s)", m.motorName)
	}
	return nil
}
