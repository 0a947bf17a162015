package pm

import "fmt"

// Errno is the reason the outer FSM gave up. It is reported through
// FsmErrno and never returned from the tick path.
type Errno int

// Errno values.
const (
	ErrOK Errno = iota
	ErrZeroDriftFault
	ErrNoMotorConnected
	ErrPowerStageFault
	ErrCurrentLoopFault
	ErrOverCurrent
	ErrAdjustTolerance
	ErrSensorHallFault
	ErrInstantOvercurrent
	ErrDCLinkOvervoltage
	ErrInvalidOperation
)

// Severity tells whether an error is an electrical or numerical fault or a
// failed calibration the operator may retry.
type Severity int

// Severity values.
const (
	SeverityNone Severity = iota
	SeverityRecoverable
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	default:
		return "none"
	}
}

var errnoInfo = [...]struct {
	name string
	desc string
	sev  Severity
}{
	ErrOK:                 {"ok", "no error", SeverityNone},
	ErrZeroDriftFault:     {"zero_drift_fault", "current sensor zero drift is out of tolerance", SeverityRecoverable},
	ErrNoMotorConnected:   {"no_motor_connected", "bridge legs switch but no machine is connected", SeverityRecoverable},
	ErrPowerStageFault:    {"power_stage_fault", "power stage self test failed", SeverityRecoverable},
	ErrCurrentLoopFault:   {"current_loop_fault", "current loop saturated during probing", SeverityRecoverable},
	ErrOverCurrent:        {"over_current", "overcurrent during power stage test", SeverityRecoverable},
	ErrAdjustTolerance:    {"adjust_tolerance", "current sensor gain is out of tolerance", SeverityRecoverable},
	ErrSensorHallFault:    {"sensor_hall_fault", "hall sensors report invalid codes", SeverityFatal},
	ErrInstantOvercurrent: {"instant_overcurrent", "phase current above the halt level", SeverityFatal},
	ErrDCLinkOvervoltage:  {"dc_link_overvoltage", "dc link voltage above the halt level", SeverityFatal},
	ErrInvalidOperation:   {"invalid_operation", "flux frame became non finite", SeverityFatal},
}

func (e Errno) valid() bool {
	return e >= 0 && int(e) < len(errnoInfo)
}

// String returns the short name of the error code.
func (e Errno) String() string {
	if !e.valid() {
		return fmt.Sprintf("errno(%d)", int(e))
	}
	return errnoInfo[e].name
}

// Error implements error.
func (e Errno) Error() string {
	if !e.valid() {
		return e.String()
	}
	return errnoInfo[e].desc
}

// Severity classifies the error code.
func (e Errno) Severity() Severity {
	if !e.valid() {
		return SeverityFatal
	}
	return errnoInfo[e].sev
}

// Err returns nil for ErrOK and the code itself otherwise.
func (e Errno) Err() error {
	if e == ErrOK {
		return nil
	}
	return e
}
