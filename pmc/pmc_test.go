package pmc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"

	"github.com/viam-modules/pmsm-foc/bench"
)

func lockedBench(c Config) *bench.Plant {
	b := c.plant()
	b.Fixed = true
	return b
}

func newTestMotor(t *testing.T, c Config, b *bench.Plant, deps resource.Dependencies) *Motor {
	t.Helper()

	c.FreeRun = true
	name := resource.NewName(motor.API, "motor1")
	mot, err := makeMotor(context.Background(), deps, c, name, logging.NewTestLogger(t), b)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, mot.Close(context.Background()), test.ShouldBeNil)
	})
	return mot.(*Motor)
}

// eventually polls cond for up to five seconds.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestValidate(t *testing.T) {
	t.Run("enable pin needs a board", func(t *testing.T) {
		c := Config{Pins: PinConfig{EnablePinLow: "22"}}
		_, _, err := c.Validate("path")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "board")

		c.BoardName = "board"
		deps, _, err := c.Validate("path")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldResemble, []string{"board"})
	})

	t.Run("registers are checked", func(t *testing.T) {
		c := Config{Registers: map[string]float64{"no_such_register": 1}}
		_, _, err := c.Validate("path")
		test.That(t, err, test.ShouldNotBeNil)

		c.Registers = map[string]float64{"lu_ws": 1}
		_, _, err = c.Validate("path")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "read only")

		c.Registers = map[string]float64{"i_maximal": 20}
		deps, _, err := c.Validate("path")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeEmpty)
	})

	t.Run("negative values", func(t *testing.T) {
		for _, c := range []Config{
			{PWMFrequency: -1},
			{PWMResolution: -1},
			{PolePairs: -1},
		} {
			_, _, err := c.Validate("path")
			test.That(t, err, test.ShouldNotBeNil)
		}
	})
}

func TestBenchConfig(t *testing.T) {
	c := Config{PolePairs: 4, Bench: &BenchConfig{Rs: 0.2, UDC: 48}}
	b := c.plant()

	test.That(t, b.Motor.Zp, test.ShouldEqual, 4)
	test.That(t, b.Motor.Rs, test.ShouldEqual, 0.2)
	test.That(t, b.Motor.Ld, test.ShouldEqual, bench.DefaultMotor().Ld)
	test.That(t, b.UDC, test.ShouldEqual, 48)
	test.That(t, b.Freq, test.ShouldEqual, defaultFrequency)
}

func TestMakeMotorDefaults(t *testing.T) {
	ctx := context.Background()
	logger, obs := logging.NewObservedTestLogger(t)

	c := Config{
		FreeRun:   true,
		Registers: map[string]float64{"tm_halt_pause": 10},
	}
	name := resource.NewName(motor.API, "motor1")
	mot, err := makeMotor(ctx, nil, c, name, logger, lockedBench(c))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, mot.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, obs.FilterMessageSnippet("max_rpm not set").Len(), test.ShouldEqual, 1)
	test.That(t, obs.FilterMessageSnippet("pole_pairs not set").Len(), test.ShouldEqual, 1)

	resp, err := mot.DoCommand(ctx, map[string]interface{}{Command: GetRegister, RegName: "tm_halt_pause"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["tm_halt_pause"], test.ShouldEqual, 10.)

	resp, err = mot.DoCommand(ctx, map[string]interface{}{Command: GetRegister, RegName: "const_zp"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["const_zp"], test.ShouldEqual, float64(defaultPolePairs))

	t.Run("bad register", func(t *testing.T) {
		c := Config{Registers: map[string]float64{"config_lu_drive": 9}}
		_, err := makeMotor(ctx, nil, c, name, logger, lockedBench(c))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestProcedures(t *testing.T) {
	ctx := context.Background()

	t.Run("zero drift", func(t *testing.T) {
		c := Config{Registers: map[string]float64{"tm_halt_pause": 10}}
		b := lockedBench(c)
		b.Offset = [3]float64{0.3, -0.2, 0.1}
		m := newTestMotor(t, c, b, nil)

		resp, err := m.DoCommand(ctx, map[string]interface{}{Command: ZeroDrift})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp["fsm_errno"], test.ShouldEqual, "ok")
		test.That(t, resp["ad_ia0"], test.ShouldAlmostEqual, -0.3, 1e-6)
		test.That(t, resp["ad_ib0"], test.ShouldAlmostEqual, 0.2, 1e-6)
		test.That(t, resp["ad_ic0"], test.ShouldAlmostEqual, -0.1, 1e-6)
		test.That(t, resp["const_fb_u"], test.ShouldAlmostEqual, 24, 1e-6)
	})

	t.Run("no machine", func(t *testing.T) {
		c := Config{}
		b := lockedBench(c)
		b.Disconnected = true
		m := newTestMotor(t, c, b, nil)

		resp, err := m.DoCommand(ctx, map[string]interface{}{Command: PowerStageTest})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, resp["fsm_errno"], test.ShouldEqual, "no_motor_connected")
	})

	t.Run("inertia probe refused", func(t *testing.T) {
		c := Config{}
		m := newTestMotor(t, c, lockedBench(c), nil)

		_, err := m.DoCommand(ctx, map[string]interface{}{Command: ProbeJ})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "refused")
	})

	t.Run("constant probe needs a running machine", func(t *testing.T) {
		c := Config{}
		m := newTestMotor(t, c, lockedBench(c), nil)

		_, err := m.DoCommand(ctx, map[string]interface{}{Command: ProbeE})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestRegisterCommands(t *testing.T) {
	ctx := context.Background()
	c := Config{}
	m := newTestMotor(t, c, lockedBench(c), nil)

	_, err := m.DoCommand(ctx, map[string]interface{}{Command: SetRegister, RegName: "probe_current_hold", RegValue: 5.})
	test.That(t, err, test.ShouldBeNil)

	resp, err := m.DoCommand(ctx, map[string]interface{}{Command: GetRegister, RegName: "probe_current_hold"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["probe_current_hold"], test.ShouldEqual, 5.)

	_, err = m.DoCommand(ctx, map[string]interface{}{
		Command: SetRegister,
		RegMap:  map[string]interface{}{"config_tvm": false, "i_maximal": 30.},
	})
	test.That(t, err, test.ShouldBeNil)

	resp, err = m.DoCommand(ctx, map[string]interface{}{Command: GetRegister})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["config_tvm"], test.ShouldEqual, 0.)
	test.That(t, resp["i_maximal"], test.ShouldEqual, 30.)
	_, telemetry := resp["lu_ws"]
	test.That(t, telemetry, test.ShouldBeFalse)

	t.Run("errors", func(t *testing.T) {
		_, err := m.DoCommand(ctx, map[string]interface{}{Command: SetRegister, RegName: "lu_ws", RegValue: 1.})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "read only")

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: SetRegister, RegName: "i_maximal", RegValue: "x"})
		test.That(t, err, test.ShouldNotBeNil)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: SetRegister, RegName: "i_maximal"})
		test.That(t, err, test.ShouldNotBeNil)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: GetRegister, RegName: "nope"})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("telemetry", func(t *testing.T) {
		resp, err := m.DoCommand(ctx, map[string]interface{}{Command: Telemetry})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp["state"], test.ShouldEqual, "idle")
		test.That(t, resp["errno"], test.ShouldEqual, "ok")
		test.That(t, resp["lookup"], test.ShouldEqual, "disabled")
		_, ok := resp["lu_ws"]
		test.That(t, ok, test.ShouldBeTrue)
	})

	t.Run("auto", func(t *testing.T) {
		_, err := m.DoCommand(ctx, map[string]interface{}{Command: Auto, RegName: "basic_default"})
		test.That(t, err, test.ShouldBeNil)

		_, err = m.DoCommand(ctx, map[string]interface{}{Command: Auto, RegName: "nope"})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("unknown commands", func(t *testing.T) {
		_, err := m.DoCommand(ctx, map[string]interface{}{Command: "nope"})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no such command")

		_, err = m.DoCommand(ctx, map[string]interface{}{})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestEnablePin(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var levels []bool
	pin := &inject.GPIOPin{}
	pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, high)
		return nil
	}
	b := inject.NewBoard("board")
	b.GPIOPinByNameFunc = func(name string) (board.GPIOPin, error) {
		return pin, nil
	}
	deps := resource.Dependencies{board.Named("board"): b}

	c := Config{
		Pins:      PinConfig{EnablePinLow: "en"},
		BoardName: "board",
		FreeRun:   true,
		Registers: map[string]float64{"tm_halt_pause": 10},
	}
	name := resource.NewName(motor.API, "motor1")
	mot, err := makeMotor(ctx, deps, c, name, logging.NewTestLogger(t), lockedBench(c))
	test.That(t, err, test.ShouldBeNil)

	snapshot := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), levels...)
	}

	// Released legs keep the active low pin high.
	test.That(t, snapshot(), test.ShouldResemble, []bool{true})

	_, err = mot.DoCommand(ctx, map[string]interface{}{Command: PowerStageTest})
	test.That(t, err, test.ShouldBeNil)

	seen := snapshot()
	test.That(t, seen, test.ShouldContain, false)
	test.That(t, seen[len(seen)-1], test.ShouldBeTrue)

	test.That(t, mot.Close(ctx), test.ShouldBeNil)
	seen = snapshot()
	test.That(t, seen[len(seen)-1], test.ShouldBeTrue)
}

type closingBench struct {
	*bench.Plant
	closed int
}

func (b *closingBench) Close() error {
	b.closed++
	return errors.New("bridge stuck")
}

func TestCloseCombinesErrors(t *testing.T) {
	ctx := context.Background()

	var stuck atomic.Bool
	pin := &inject.GPIOPin{}
	pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
		if high && stuck.Load() {
			return errors.New("pin stuck")
		}
		return nil
	}
	brd := inject.NewBoard("board")
	brd.GPIOPinByNameFunc = func(name string) (board.GPIOPin, error) {
		return pin, nil
	}
	deps := resource.Dependencies{board.Named("board"): brd}

	c := Config{
		Pins:      PinConfig{EnablePinLow: "en"},
		BoardName: "board",
		FreeRun:   true,
	}
	name := resource.NewName(motor.API, "motor1")

	b := &closingBench{Plant: lockedBench(c)}
	mot, err := makeMotor(ctx, deps, c, name, logging.NewTestLogger(t), b)
	test.That(t, err, test.ShouldBeNil)

	stuck.Store(true)
	err = mot.Close(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pin stuck")
	test.That(t, err.Error(), test.ShouldContainSubstring, "bridge stuck")
	test.That(t, multierr.Errors(errors.Cause(err)), test.ShouldHaveLength, 2)
	test.That(t, b.closed, test.ShouldEqual, 1)
}

func TestMotorAPI(t *testing.T) {
	ctx := context.Background()
	// Without forced startup the lookup stays detached at standstill.
	c := Config{MaxRPM: 1000, Registers: map[string]float64{"config_lu_forced": 0}}
	m := newTestMotor(t, c, lockedBench(c), nil)

	t.Run("motor supports position reporting", func(t *testing.T) {
		properties, err := m.Properties(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, properties.PositionReporting, test.ShouldBeTrue)
	})

	t.Run("zero position", func(t *testing.T) {
		pos, err := m.Position(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos, test.ShouldEqual, 0)

		test.That(t, m.ResetZeroPosition(ctx, 2, nil), test.ShouldBeNil)
		pos, err = m.Position(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pos, test.ShouldEqual, -2)

		test.That(t, m.ResetZeroPosition(ctx, 0, nil), test.ShouldBeNil)
	})

	t.Run("power and stop", func(t *testing.T) {
		on, _, err := m.IsPowered(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, on, test.ShouldBeFalse)

		test.That(t, m.SetPower(ctx, 0.1, nil), test.ShouldBeNil)

		on, pct, err := m.IsPowered(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, on, test.ShouldBeTrue)
		test.That(t, pct, test.ShouldEqual, 0.1)

		test.That(t, m.Stop(ctx, nil), test.ShouldBeNil)
		eventually(t, func() bool {
			on, _, err := m.IsPowered(ctx, nil)
			test.That(t, err, test.ShouldBeNil)
			return !on
		})

		moving, err := m.IsMoving(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, moving, test.ShouldBeFalse)
	})

	t.Run("target out of range", func(t *testing.T) {
		err := m.GoTo(ctx, 100, 1000, nil)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "x_location_range")

		test.That(t, m.Stop(ctx, nil), test.ShouldBeNil)
		eventually(t, func() bool {
			on, _, _ := m.IsPowered(ctx, nil)
			return !on
		})
	})
}

func TestClosedMotor(t *testing.T) {
	ctx := context.Background()
	c := Config{FreeRun: true}
	name := resource.NewName(motor.API, "motor1")
	mot, err := makeMotor(ctx, nil, c, name, logging.NewTestLogger(t), lockedBench(c))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mot.Close(ctx), test.ShouldBeNil)

	err = mot.SetPower(ctx, 0.5, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "closed")
}

func TestUnitConversions(t *testing.T) {
	test.That(t, rpmToElectrical(60, 7), test.ShouldAlmostEqual, 14*3.141592653589793, 1e-9)
	test.That(t, revolutionsToElectrical(0.5, 2), test.ShouldAlmostEqual, 2*3.141592653589793, 1e-9)
}
