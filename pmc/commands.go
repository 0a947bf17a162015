package pmc

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-modules/pmsm-foc/pm"
)

// DoCommand() related constants.
const (
	Command        = "command"
	ZeroDrift      = "zero_drift"
	PowerStageTest = "power_stage_test"
	AdjustCurrent  = "adjust_current"
	ProbeR         = "probe_r"
	ProbeL         = "probe_l"
	ProbeE         = "probe_e"
	ProbeJ         = "probe_j"
	Halt           = "halt"
	GetRegister    = "get_register"
	SetRegister    = "set_register"
	Telemetry      = "telemetry"
	Auto           = "auto"

	RegName  = "name"
	RegValue = "value"
	RegMap   = "registers"
)

// procedure is an outer FSM request and the registers it produces.
type procedure struct {
	state   pm.State
	results []string
}

var procedures = map[string]procedure{
	ZeroDrift:      {pm.StateZeroDrift, []string{"ad_ia0", "ad_ib0", "ad_ic0", "const_fb_u"}},
	PowerStageTest: {pm.StatePowerStageTest, nil},
	AdjustCurrent:  {pm.StateAdjustCurrent, []string{"ad_ia1", "ad_ib1", "ad_ic1"}},
	ProbeR:         {pm.StateProbeConstR, []string{"const_rs"}},
	ProbeL:         {pm.StateProbeConstL, []string{"const_im_l1", "const_im_l2", "const_im_b", "const_im_r"}},
	ProbeE:         {pm.StateProbeConstE, []string{"const_lambda"}},
	ProbeJ:         {pm.StateProbeConstJ, []string{"const_ja"}},
}

// DoCommand executes additional commands beyond the Motor{} interface.
func (m *Motor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	cmdName, _ := name.(string)

	if proc, ok := procedures[cmdName]; ok {
		return m.runProcedure(ctx, cmdName, proc)
	}

	switch cmdName {
	case Halt:
		m.opMgr.CancelRunning(ctx)
		return nil, m.exec(ctx, func(p *pm.PMC) error {
			p.Request(pm.StateHalt)
			return nil
		})
	case GetRegister:
		return m.getRegister(ctx, cmd)
	case SetRegister:
		return nil, m.setRegister(ctx, cmd)
	case Telemetry:
		return m.telemetry(ctx)
	case Auto:
		reqName, ok := cmd[RegName].(string)
		if !ok {
			return nil, errors.Errorf("need %s value for auto", RegName)
		}
		req, ok := pm.ParseAutoReq(reqName)
		if !ok {
			return nil, errors.Errorf("no such auto procedure: %s", reqName)
		}
		return nil, m.exec(ctx, func(p *pm.PMC) error {
			if p.Busy() {
				return errors.Errorf("motor (%s) is busy with %s", m.motorName, p.State())
			}
			p.Auto(req)
			m.keepSpeedLimit(p)
			return nil
		})
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

// runProcedure requests a procedure, waits until the outer FSM is idle
// again and reports the outcome.
func (m *Motor) runProcedure(ctx context.Context, name string, proc procedure) (map[string]interface{}, error) {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	var rejected int
	err := m.exec(ctx, func(p *pm.PMC) error {
		rejected = p.ReqRejected()
		p.Request(proc.state)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error in %s from motor (%s)", name, m.motorName)
	}

	if err := m.waitFor(ctx, func(st status) (bool, error) {
		return !st.busy, nil
	}); err != nil {
		return nil, errors.Wrapf(err, "error in %s from motor (%s)", name, m.motorName)
	}

	resp := make(map[string]interface{})
	var errno pm.Errno
	err = m.exec(ctx, func(p *pm.PMC) error {
		if p.ReqRejected() > rejected {
			return errors.Errorf("%s refused in state %s with lookup %s", name, p.State(), p.Mode())
		}
		errno = p.Errno()
		for _, reg := range proc.results {
			v, err := p.Reg(reg)
			if err != nil {
				return err
			}
			resp[reg] = v
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error in %s from motor (%s)", name, m.motorName)
	}

	resp["fsm_errno"] = errno.String()
	if errno != pm.ErrOK {
		return resp, errors.Wrapf(errno, "%s failed on motor (%s)", name, m.motorName)
	}
	m.logger.CInfof(ctx, "motor (%s) %s done: %v", m.motorName, name, resp)
	return resp, nil
}

// getRegister reads one register, or every configuration register when no
// name is given.
func (m *Motor) getRegister(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	resp := make(map[string]interface{})

	raw, ok := cmd[RegName]
	if !ok {
		err := m.exec(ctx, func(p *pm.PMC) error {
			for k, v := range p.Snapshot(pm.RegConfig) {
				resp[k] = v
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	reg, ok := raw.(string)
	if !ok {
		return nil, errors.Errorf("%s value must be a string", RegName)
	}
	err := m.exec(ctx, func(p *pm.PMC) error {
		v, err := p.Reg(reg)
		if err != nil {
			return err
		}
		resp[reg] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// regValue accepts numbers and booleans.
func regValue(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errors.Errorf("register value must be a number or a boolean, got %T", raw)
	}
}

// setRegister writes either a single name and value or a map of registers.
func (m *Motor) setRegister(ctx context.Context, cmd map[string]interface{}) error {
	regs := make(map[string]float64)

	if rawMap, ok := cmd[RegMap].(map[string]interface{}); ok {
		var err error
		for k, raw := range rawMap {
			v, vErr := regValue(raw)
			if vErr != nil {
				err = multierr.Append(err, errors.Wrapf(vErr, "register %q", k))
				continue
			}
			regs[k] = v
		}
		if err != nil {
			return err
		}
	} else {
		reg, ok := cmd[RegName].(string)
		if !ok {
			return errors.Errorf("need %s or %s value for set_register", RegName, RegMap)
		}
		raw, ok := cmd[RegValue]
		if !ok {
			return errors.Errorf("need %s value for set_register", RegValue)
		}
		v, err := regValue(raw)
		if err != nil {
			return err
		}
		regs[reg] = v
	}

	return m.exec(ctx, func(p *pm.PMC) error {
		if p.Busy() {
			return errors.Errorf("motor (%s) is busy with %s", m.motorName, p.State())
		}
		err := p.Restore(regs)
		_, smax := regs["s_maximal"]
		_, srev := regs["s_reverse"]
		if smax || srev {
			m.keepSpeedLimit(p)
		}
		return err
	})
}

// keepSpeedLimit records the configured speed limits. It runs in the loop
// goroutine.
func (m *Motor) keepSpeedLimit(p *pm.PMC) {
	m.mu.Lock()
	m.speedLimit = [2]float64{p.SMaximal, p.SReverse}
	m.mu.Unlock()
}

// telemetry returns every telemetry register along with the decoded state.
func (m *Motor) telemetry(ctx context.Context) (map[string]interface{}, error) {
	resp := make(map[string]interface{})
	err := m.exec(ctx, func(p *pm.PMC) error {
		for k, v := range p.Snapshot(pm.RegTelemetry) {
			resp[k] = v
		}
		resp["state"] = p.State().String()
		resp["errno"] = p.Errno().String()
		resp["lookup"] = p.Mode().String()
		resp["zone"] = p.Zone().String()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
