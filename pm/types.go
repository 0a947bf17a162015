package pm

import "fmt"

// Topology is the number of bridge legs connected to the machine.
type Topology int

// Topology values.
const (
	TopologyThreePhase Topology = iota
	TopologyTwoPhase
)

func (t Topology) String() string {
	switch t {
	case TopologyThreePhase:
		return "three_phase"
	case TopologyTwoPhase:
		return "two_phase"
	default:
		return fmt.Sprintf("topology(%d)", int(t))
	}
}

// CurrentFeedback tells where the current shunts sit.
type CurrentFeedback int

// CurrentFeedback values.
const (
	FeedbackABInline CurrentFeedback = iota
	FeedbackABGround
	FeedbackABCInline
	FeedbackABCGround
)

func (f CurrentFeedback) String() string {
	switch f {
	case FeedbackABInline:
		return "ab_inline"
	case FeedbackABGround:
		return "ab_ground"
	case FeedbackABCInline:
		return "abc_inline"
	case FeedbackABCGround:
		return "abc_ground"
	default:
		return fmt.Sprintf("feedback(%d)", int(f))
	}
}

// Saliency is the sign of (Lq - Ld) expected from the machine.
type Saliency int

// Saliency values.
const (
	SaliencyNegative Saliency = iota
	SaliencyPositive
	SaliencyNone
)

func (s Saliency) String() string {
	switch s {
	case SaliencyNegative:
		return "negative"
	case SaliencyPositive:
		return "positive"
	case SaliencyNone:
		return "none"
	default:
		return fmt.Sprintf("saliency(%d)", int(s))
	}
}

// Estimator selects the sensorless flux observer.
type Estimator int

// Estimator values.
const (
	EstimatorNone Estimator = iota
	EstimatorOrtega
	EstimatorKalman
)

func (e Estimator) String() string {
	switch e {
	case EstimatorNone:
		return "none"
	case EstimatorOrtega:
		return "ortega"
	case EstimatorKalman:
		return "kalman"
	default:
		return fmt.Sprintf("estimator(%d)", int(e))
	}
}

// Sensor selects the position sensor.
type Sensor int

// Sensor values.
const (
	SensorNone Sensor = iota
	SensorHall
	SensorABI
	SensorSinCos
)

func (s Sensor) String() string {
	switch s {
	case SensorNone:
		return "none"
	case SensorHall:
		return "hall"
	case SensorABI:
		return "abi"
	case SensorSinCos:
		return "sincos"
	default:
		return fmt.Sprintf("sensor(%d)", int(s))
	}
}

// Location selects where the servo location comes from.
type Location int

// Location values.
const (
	LocationInherited Location = iota
	LocationABI
	LocationSinCos
)

func (l Location) String() string {
	switch l {
	case LocationInherited:
		return "inherited"
	case LocationABI:
		return "abi"
	case LocationSinCos:
		return "sincos"
	default:
		return fmt.Sprintf("location(%d)", int(l))
	}
}

// Drive is the outermost closed loop.
type Drive int

// Drive values.
const (
	DriveCurrent Drive = iota
	DriveSpeed
	DriveLocation
)

func (d Drive) String() string {
	switch d {
	case DriveCurrent:
		return "current"
	case DriveSpeed:
		return "speed"
	case DriveLocation:
		return "location"
	default:
		return fmt.Sprintf("drive(%d)", int(d))
	}
}

// HFIWave is the shape of the injected high frequency voltage.
type HFIWave int

// HFIWave values.
const (
	HFINone HFIWave = iota
	HFISine
	HFIRandom
	HFISilent
)

func (w HFIWave) String() string {
	switch w {
	case HFINone:
		return "none"
	case HFISine:
		return "sine"
	case HFIRandom:
		return "random"
	case HFISilent:
		return "silent"
	default:
		return fmt.Sprintf("hfi(%d)", int(w))
	}
}

// ABIFrontend tells how encoder ticks are reported.
type ABIFrontend int

// ABIFrontend values.
const (
	ABIIncremental ABIFrontend = iota
	ABIAbsolute
)

func (a ABIFrontend) String() string {
	if a == ABIAbsolute {
		return "absolute"
	}
	return "incremental"
}

// LuMode is the mode of the lookup FSM.
type LuMode int

// LuMode values.
const (
	LuDisabled LuMode = iota
	LuDetached
	LuForced
	LuEstimate
	LuOnHFI
	LuSensorHall
	LuSensorABI
	LuSensorSinCos
)

func (m LuMode) String() string {
	switch m {
	case LuDisabled:
		return "disabled"
	case LuDetached:
		return "detached"
	case LuForced:
		return "forced"
	case LuEstimate:
		return "estimate"
	case LuOnHFI:
		return "on_hfi"
	case LuSensorHall:
		return "sensor_hall"
	case LuSensorABI:
		return "sensor_abi"
	case LuSensorSinCos:
		return "sensor_sincos"
	default:
		return fmt.Sprintf("lu(%d)", int(m))
	}
}

// Zone is the confidence of the sensorless estimate.
type Zone int

// Zone values.
const (
	ZoneNone Zone = iota
	ZoneUncertain
	ZoneHigh
	ZoneLockedInDetach
)

func (z Zone) String() string {
	switch z {
	case ZoneNone:
		return "none"
	case ZoneUncertain:
		return "uncertain"
	case ZoneHigh:
		return "high"
	case ZoneLockedInDetach:
		return "locked_in_detach"
	default:
		return fmt.Sprintf("zone(%d)", int(z))
	}
}

// State is a state of the outer command FSM.
type State int

// State values.
const (
	StateIdle State = iota
	StateZeroDrift
	StatePowerStageTest
	StateAdjustCurrent
	StateProbeConstR
	StateProbeConstL
	StateLuInitiate
	StateLuShutdown
	StateProbeConstE
	StateProbeConstJ
	StateHalt
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateZeroDrift:      "zero_drift",
	StatePowerStageTest: "power_stage_test",
	StateAdjustCurrent:  "adjust_current",
	StateProbeConstR:    "probe_const_r",
	StateProbeConstL:    "probe_const_l",
	StateLuInitiate:     "lu_initiate",
	StateLuShutdown:     "lu_shutdown",
	StateProbeConstE:    "probe_const_e",
	StateProbeConstJ:    "probe_const_j",
	StateHalt:           "halt",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState looks a state up by its String form.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// Z-state bits. A set bit releases the corresponding leg.
const (
	ZNone = 0
	ZA    = 1
	ZB    = 2
	ZC    = 4
	ZABC  = ZA | ZB | ZC
)

// Channel masks for vsi_mask_xf. Only one channel is masked at a time.
const (
	MaskNone = 0
	MaskA    = 1
	MaskB    = 2
	MaskC    = 4
)

// AutoReq names an auto-tuning procedure.
type AutoReq int

// AutoReq values.
const (
	AutoBasicDefault AutoReq = iota
	AutoConfigDefault
	AutoProbeDefault
	AutoMaximalCurrent
	AutoProbeSpeedHold
	AutoZoneThreshold
	AutoForcedMaximal
	AutoForcedAccel
	AutoLoopCurrent
	AutoLoopSpeed
)

var autoNames = [...]string{
	AutoBasicDefault:   "basic_default",
	AutoConfigDefault:  "config_default",
	AutoProbeDefault:   "probe_default",
	AutoMaximalCurrent: "maximal_current",
	AutoProbeSpeedHold: "probe_speed_hold",
	AutoZoneThreshold:  "zone_threshold",
	AutoForcedMaximal:  "forced_maximal",
	AutoForcedAccel:    "forced_accel",
	AutoLoopCurrent:    "loop_current",
	AutoLoopSpeed:      "loop_speed",
}

func (a AutoReq) String() string {
	if a >= 0 && int(a) < len(autoNames) {
		return autoNames[a]
	}
	return fmt.Sprintf("auto(%d)", int(a))
}

// ParseAutoReq looks an auto-tuning procedure up by its String form.
func ParseAutoReq(name string) (AutoReq, bool) {
	for i, n := range autoNames {
		if n == name {
			return AutoReq(i), true
		}
	}
	return 0, false
}
