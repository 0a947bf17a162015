package pm

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// RegMode tells how a register may be accessed.
type RegMode int

// RegMode values.
const (
	// RegConfig registers are read and written by the operator.
	RegConfig RegMode = iota
	// RegTelemetry registers are written by the tick path only.
	RegTelemetry
)

func (m RegMode) String() string {
	if m == RegConfig {
		return "config"
	}
	return "telemetry"
}

// RegInfo describes one register.
type RegInfo struct {
	Name string
	Mode RegMode
}

type register struct {
	RegInfo
	get func(p *PMC) float64
	set func(p *PMC, v float64) error
}

var (
	regTable []register
	regIndex = map[string]int{}
)

func addReg(name string, mode RegMode, get func(p *PMC) float64, set func(p *PMC, v float64) error) {
	if _, dup := regIndex[name]; dup {
		panic("duplicate register " + name)
	}
	regIndex[name] = len(regTable)
	regTable = append(regTable, register{RegInfo{name, mode}, get, set})
}

func floatReg(name string, ptr func(p *PMC) *float64) {
	addReg(name, RegConfig,
		func(p *PMC) float64 { return *ptr(p) },
		func(p *PMC, v float64) error {
			if !finite(v) {
				return errors.Errorf("%s must be finite", name)
			}
			*ptr(p) = v
			return nil
		})
}

func intReg(name string, ptr func(p *PMC) *int) {
	addReg(name, RegConfig,
		func(p *PMC) float64 { return float64(*ptr(p)) },
		func(p *PMC, v float64) error {
			if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
				return errors.Errorf("%s must be an integer, got %v", name, v)
			}
			*ptr(p) = int(v)
			return nil
		})
}

// countReg is an intReg for counts and gear ratios that must be at least one.
func countReg(name string, ptr func(p *PMC) *int) {
	addReg(name, RegConfig,
		func(p *PMC) float64 { return float64(*ptr(p)) },
		func(p *PMC, v float64) error {
			if v != math.Trunc(v) || v < 1 || v > math.MaxInt32 {
				return errors.Errorf("%s must be a positive integer, got %v", name, v)
			}
			*ptr(p) = int(v)
			return nil
		})
}

func boolReg(name string, ptr func(p *PMC) *bool) {
	addReg(name, RegConfig,
		func(p *PMC) float64 {
			if *ptr(p) {
				return 1
			}
			return 0
		},
		func(p *PMC, v float64) error {
			if v != 0 && v != 1 {
				return errors.Errorf("%s must be 0 or 1, got %v", name, v)
			}
			*ptr(p) = v == 1
			return nil
		})
}

func enumReg[T ~int](name string, n int, ptr func(p *PMC) *T) {
	addReg(name, RegConfig,
		func(p *PMC) float64 { return float64(*ptr(p)) },
		func(p *PMC, v float64) error {
			if v != math.Trunc(v) || v < 0 || v >= float64(n) {
				return errors.Errorf("%s must be an integer between 0 and %d, got %v", name, n-1, v)
			}
			*ptr(p) = T(v)
			return nil
		})
}

func telemetry(name string, get func(p *PMC) float64) {
	addReg(name, RegTelemetry, get, nil)
}

func init() {
	floatReg("dc_minimal", func(p *PMC) *float64 { return &p.DCMinimal })
	floatReg("dc_clearance", func(p *PMC) *float64 { return &p.DCClearance })
	floatReg("dc_skip", func(p *PMC) *float64 { return &p.DCSkip })
	floatReg("dc_bootstrap", func(p *PMC) *float64 { return &p.DCBootstrap })
	floatReg("dc_clamped", func(p *PMC) *float64 { return &p.DCClamped })

	enumReg("config_nop", 2, func(p *PMC) *Topology { return &p.ConfigNOP })
	enumReg("config_ifb", 4, func(p *PMC) *CurrentFeedback { return &p.ConfigIFB })
	boolReg("config_tvm", func(p *PMC) *bool { return &p.ConfigTVM })
	enumReg("config_saliency", 3, func(p *PMC) *Saliency { return &p.ConfigSaliency })
	boolReg("config_vsi_circular", func(p *PMC) *bool { return &p.ConfigVSICircular })
	boolReg("config_vsi_precise", func(p *PMC) *bool { return &p.ConfigVSIPrecise })
	boolReg("config_lu_forced", func(p *PMC) *bool { return &p.ConfigLuForced })
	enumReg("config_lu_estimate", 3, func(p *PMC) *Estimator { return &p.ConfigLuEstimate })
	enumReg("config_lu_sensor", 4, func(p *PMC) *Sensor { return &p.ConfigLuSensor })
	enumReg("config_lu_location", 3, func(p *PMC) *Location { return &p.ConfigLuLocation })
	enumReg("config_lu_drive", 3, func(p *PMC) *Drive { return &p.ConfigLuDrive })
	enumReg("config_hfi_wave", 4, func(p *PMC) *HFIWave { return &p.ConfigHFIWave })
	boolReg("config_hfi_polarity", func(p *PMC) *bool { return &p.ConfigHFIPolarity })
	boolReg("config_reluctance", func(p *PMC) *bool { return &p.ConfigReluctance })
	boolReg("config_weakening", func(p *PMC) *bool { return &p.ConfigWeakening })
	boolReg("config_holding_brake", func(p *PMC) *bool { return &p.ConfigHoldingBrake })
	boolReg("config_speed_limited", func(p *PMC) *bool { return &p.ConfigSpeedLimited })
	enumReg("config_abi_frontend", 2, func(p *PMC) *ABIFrontend { return &p.ConfigABIFrontend })
	boolReg("config_mileage_info", func(p *PMC) *bool { return &p.ConfigMileageInfo })

	telemetry("fsm_req", func(p *PMC) float64 { return float64(p.fsmReq) })
	telemetry("fsm_state", func(p *PMC) float64 { return float64(p.fsmState) })
	telemetry("fsm_phase", func(p *PMC) float64 { return float64(p.fsmPhase) })
	telemetry("fsm_errno", func(p *PMC) float64 { return float64(p.fsmErrno) })
	telemetry("fsm_rejected", func(p *PMC) float64 { return float64(p.reqRejected) })

	floatReg("tm_transient_slow", func(p *PMC) *float64 { return &p.TmTransientSlow })
	floatReg("tm_transient_fast", func(p *PMC) *float64 { return &p.TmTransientFast })
	floatReg("tm_voltage_hold", func(p *PMC) *float64 { return &p.TmVoltageHold })
	floatReg("tm_current_hold", func(p *PMC) *float64 { return &p.TmCurrentHold })
	floatReg("tm_current_ramp", func(p *PMC) *float64 { return &p.TmCurrentRamp })
	floatReg("tm_instant_probe", func(p *PMC) *float64 { return &p.TmInstantProbe })
	floatReg("tm_average_probe", func(p *PMC) *float64 { return &p.TmAverageProbe })
	floatReg("tm_average_drift", func(p *PMC) *float64 { return &p.TmAverageDrift })
	floatReg("tm_average_inertia", func(p *PMC) *float64 { return &p.TmAverageInertia })
	floatReg("tm_startup", func(p *PMC) *float64 { return &p.TmStartup })
	floatReg("tm_halt_pause", func(p *PMC) *float64 { return &p.TmHaltPause })

	telemetry("fb_current_a", func(p *PMC) float64 { return p.fbIA })
	telemetry("fb_current_b", func(p *PMC) float64 { return p.fbIB })
	telemetry("fb_current_c", func(p *PMC) float64 { return p.fbIC })
	telemetry("fb_voltage_a", func(p *PMC) float64 { return p.fbUA })
	telemetry("fb_voltage_b", func(p *PMC) float64 { return p.fbUB })
	telemetry("fb_voltage_c", func(p *PMC) float64 { return p.fbUC })
	telemetry("fb_sin", func(p *PMC) float64 { return p.fbSIN })
	telemetry("fb_cos", func(p *PMC) float64 { return p.fbCOS })
	telemetry("fb_hs", func(p *PMC) float64 { return float64(p.fbHS) })
	telemetry("fb_ep", func(p *PMC) float64 { return float64(p.fbEP) })
	telemetry("const_fb_u", func(p *PMC) float64 { return p.fbU })

	floatReg("fault_voltage_tol", func(p *PMC) *float64 { return &p.FaultVoltageTol })
	floatReg("fault_current_tol", func(p *PMC) *float64 { return &p.FaultCurrentTol })
	floatReg("fault_accuracy_tol", func(p *PMC) *float64 { return &p.FaultAccuracyTol })
	floatReg("fault_terminal_tol", func(p *PMC) *float64 { return &p.FaultTerminalTol })
	floatReg("fault_current_halt", func(p *PMC) *float64 { return &p.FaultCurrentHalt })
	floatReg("fault_voltage_halt", func(p *PMC) *float64 { return &p.FaultVoltageHalt })

	for _, ad := range []struct {
		name string
		ptr  func(p *PMC) *[2]float64
	}{
		{"ad_ia", func(p *PMC) *[2]float64 { return &p.AdIA }},
		{"ad_ib", func(p *PMC) *[2]float64 { return &p.AdIB }},
		{"ad_ic", func(p *PMC) *[2]float64 { return &p.AdIC }},
		{"ad_us", func(p *PMC) *[2]float64 { return &p.AdUS }},
		{"ad_ua", func(p *PMC) *[2]float64 { return &p.AdUA }},
		{"ad_ub", func(p *PMC) *[2]float64 { return &p.AdUB }},
		{"ad_uc", func(p *PMC) *[2]float64 { return &p.AdUC }},
	} {
		arrayReg(ad.name, 2, func(p *PMC, k int) *float64 { return &ad.ptr(p)[k] })
	}

	floatReg("probe_current_hold", func(p *PMC) *float64 { return &p.ProbeCurrentHold })
	floatReg("probe_current_weak", func(p *PMC) *float64 { return &p.ProbeCurrentWeak })
	floatReg("probe_hold_angle", func(p *PMC) *float64 { return &p.ProbeHoldAngle })
	floatReg("probe_current_sine", func(p *PMC) *float64 { return &p.ProbeCurrentSine })
	floatReg("probe_current_bias", func(p *PMC) *float64 { return &p.ProbeCurrentBias })
	floatReg("probe_freq_sine", func(p *PMC) *float64 { return &p.ProbeFreqSine })
	floatReg("probe_speed_hold", func(p *PMC) *float64 { return &p.ProbeSpeedHold })
	floatReg("probe_speed_detached", func(p *PMC) *float64 { return &p.ProbeSpeedDetached })
	floatReg("probe_damping_current", func(p *PMC) *float64 { return &p.ProbeDampingCurrent })
	floatReg("probe_damping_speed", func(p *PMC) *float64 { return &p.ProbeDampingSpeed })
	floatReg("probe_speed_tol", func(p *PMC) *float64 { return &p.ProbeSpeedTol })
	floatReg("probe_location_tol", func(p *PMC) *float64 { return &p.ProbeLocationTol })
	floatReg("probe_gain_p", func(p *PMC) *float64 { return &p.ProbeGainP })
	floatReg("probe_gain_i", func(p *PMC) *float64 { return &p.ProbeGainI })

	telemetry("vsi_dc", func(p *PMC) float64 { return p.vsiDC })
	telemetry("vsi_lpf_dc", func(p *PMC) float64 { return p.vsiLpfDC })
	floatReg("vsi_gain_lp", func(p *PMC) *float64 { return &p.VsiGainLP })
	intReg("vsi_mask_xf", func(p *PMC) *int { return &p.VsiMaskXF })
	telemetry("vsi_x", func(p *PMC) float64 { return p.vsiX })
	telemetry("vsi_y", func(p *PMC) float64 { return p.vsiY })
	telemetry("vsi_if", func(p *PMC) float64 { return float64(p.vsiIF) })
	telemetry("vsi_uf", func(p *PMC) float64 { return float64(p.vsiUF) })

	boolReg("tvm_useable", func(p *PMC) *bool { return &p.TvmUseable })
	floatReg("tvm_clean_zone", func(p *PMC) *float64 { return &p.TvmCleanZone })
	arrayReg("tvm_fir_a", 3, func(p *PMC, k int) *float64 { return &p.TvmFIRA[k] })
	arrayReg("tvm_fir_b", 3, func(p *PMC, k int) *float64 { return &p.TvmFIRB[k] })
	arrayReg("tvm_fir_c", 3, func(p *PMC, k int) *float64 { return &p.TvmFIRC[k] })
	telemetry("tvm_dx", func(p *PMC) float64 { return p.tvmDX })
	telemetry("tvm_dy", func(p *PMC) float64 { return p.tvmDY })

	telemetry("lu_mode", func(p *PMC) float64 { return float64(p.luMode) })
	telemetry("lu_f0", func(p *PMC) float64 { return p.luF[0] })
	telemetry("lu_f1", func(p *PMC) float64 { return p.luF[1] })
	telemetry("lu_ws", func(p *PMC) float64 { return p.luWS })
	telemetry("lu_id", func(p *PMC) float64 { return p.luID })
	telemetry("lu_iq", func(p *PMC) float64 { return p.luIQ })
	telemetry("lu_revol", func(p *PMC) float64 { return float64(p.luRevol) })
	telemetry("lu_total_revol", func(p *PMC) float64 { return float64(p.luTotalRevol) })
	telemetry("lu_location", func(p *PMC) float64 { return p.luLocation })
	telemetry("lu_mq_load", func(p *PMC) float64 { return p.luMqLoad })
	floatReg("lu_rate", func(p *PMC) *float64 { return &p.LuRate })
	floatReg("lu_gain_mq_lp", func(p *PMC) *float64 { return &p.LuGainMqLP })

	floatReg("forced_hold_d", func(p *PMC) *float64 { return &p.ForcedHoldD })
	floatReg("forced_maximal", func(p *PMC) *float64 { return &p.ForcedMaximal })
	floatReg("forced_reverse", func(p *PMC) *float64 { return &p.ForcedReverse })
	floatReg("forced_accel", func(p *PMC) *float64 { return &p.ForcedAccel })
	floatReg("forced_slew_rate", func(p *PMC) *float64 { return &p.ForcedSlewRate })
	floatReg("forced_maximal_dc", func(p *PMC) *float64 { return &p.ForcedMaximalDC })
	telemetry("forced_ws", func(p *PMC) float64 { return p.forcedWS })

	floatReg("detach_threshold_base", func(p *PMC) *float64 { return &p.DetachThresholdBASE })
	floatReg("detach_trip_ap", func(p *PMC) *float64 { return &p.DetachTripAP })
	floatReg("detach_gain_sf", func(p *PMC) *float64 { return &p.DetachGainSF })

	telemetry("flux_type", func(p *PMC) float64 { return float64(p.fluxType) })
	telemetry("flux_e", func(p *PMC) float64 { return p.fluxE })
	telemetry("flux_ws", func(p *PMC) float64 { return p.fluxWS })
	telemetry("flux_zone", func(p *PMC) float64 { return float64(p.fluxZone) })
	floatReg("flux_trip_ap", func(p *PMC) *float64 { return &p.FluxTripAP })
	floatReg("flux_gain_in", func(p *PMC) *float64 { return &p.FluxGainIN })
	floatReg("flux_gain_lo", func(p *PMC) *float64 { return &p.FluxGainLO })
	floatReg("flux_gain_hi", func(p *PMC) *float64 { return &p.FluxGainHI })
	floatReg("flux_gain_sf", func(p *PMC) *float64 { return &p.FluxGainSF })
	floatReg("flux_gain_if", func(p *PMC) *float64 { return &p.FluxGainIF })

	telemetry("kalman_bias_q", func(p *PMC) float64 { return p.kalmanBiasQ })
	arrayReg("kalman_gain_q", 5, func(p *PMC, k int) *float64 { return &p.KalmanGainQ[k] })
	floatReg("kalman_gain_r", func(p *PMC) *float64 { return &p.KalmanGainR })

	floatReg("zone_threshold_noise", func(p *PMC) *float64 { return &p.ZoneThresholdNOISE })
	floatReg("zone_threshold_base", func(p *PMC) *float64 { return &p.ZoneThresholdBASE })
	floatReg("zone_gain_th", func(p *PMC) *float64 { return &p.ZoneGainTH })
	floatReg("zone_gain_lp", func(p *PMC) *float64 { return &p.ZoneGainLP })

	floatReg("hfi_freq", func(p *PMC) *float64 { return &p.HFIFreq })
	floatReg("hfi_sine", func(p *PMC) *float64 { return &p.HFISine })
	floatReg("hfi_gain_dp", func(p *PMC) *float64 { return &p.HFIGainDP })
	telemetry("hfi_pole", func(p *PMC) float64 { return p.hfiPole })

	boolReg("hall_useable", func(p *PMC) *bool { return &p.HallUseable })
	for code := 1; code <= 6; code++ {
		arrayReg(fmt.Sprintf("hall_st%d", code), 2,
			func(p *PMC, k int) *float64 { return &p.HallST[code][k] })
	}
	floatReg("hall_trip_ap", func(p *PMC) *float64 { return &p.HallTripAP })
	floatReg("hall_gain_lo", func(p *PMC) *float64 { return &p.HallGainLO })
	floatReg("hall_gain_sf", func(p *PMC) *float64 { return &p.HallGainSF })
	floatReg("hall_gain_if", func(p *PMC) *float64 { return &p.HallGainIF })
	telemetry("hall_ws", func(p *PMC) float64 { return p.hallWS })

	boolReg("abi_useable", func(p *PMC) *bool { return &p.AbiUseable })
	countReg("abi_eppr", func(p *PMC) *int { return &p.AbiEPPR })
	countReg("abi_gear_zs", func(p *PMC) *int { return &p.AbiGearZs })
	countReg("abi_gear_zq", func(p *PMC) *int { return &p.AbiGearZq })
	arrayReg("abi_zero", 2, func(p *PMC, k int) *float64 { return &p.AbiF0[k] })
	floatReg("abi_trip_ap", func(p *PMC) *float64 { return &p.AbiTripAP })
	floatReg("abi_gain_lo", func(p *PMC) *float64 { return &p.AbiGainLO })
	floatReg("abi_gain_sf", func(p *PMC) *float64 { return &p.AbiGainSF })
	floatReg("abi_gain_if", func(p *PMC) *float64 { return &p.AbiGainIF })
	telemetry("abi_ws", func(p *PMC) float64 { return p.abiWS })
	telemetry("abi_location", func(p *PMC) float64 { return p.abiLocation })

	boolReg("sincos_useable", func(p *PMC) *bool { return &p.SinCosUseable })
	countReg("sincos_gear_zs", func(p *PMC) *int { return &p.SinCosGearZs })
	countReg("sincos_gear_zq", func(p *PMC) *int { return &p.SinCosGearZq })
	arrayReg("sincos_fir", 20, func(p *PMC, k int) *float64 { return &p.SinCosFIR[k] })
	telemetry("sincos_location", func(p *PMC) float64 { return p.sincosLocation })

	floatReg("const_lambda", func(p *PMC) *float64 { return &p.ConstLambda })
	floatReg("const_rs", func(p *PMC) *float64 { return &p.ConstRs })
	countReg("const_zp", func(p *PMC) *int { return &p.ConstZp })
	floatReg("const_ja", func(p *PMC) *float64 { return &p.ConstJa })
	floatReg("const_im_l1", func(p *PMC) *float64 { return &p.ConstImL1 })
	floatReg("const_im_l2", func(p *PMC) *float64 { return &p.ConstImL2 })
	floatReg("const_im_b", func(p *PMC) *float64 { return &p.ConstImB })
	floatReg("const_im_r", func(p *PMC) *float64 { return &p.ConstImR })
	floatReg("const_ld_s", func(p *PMC) *float64 { return &p.ConstLdS })

	floatReg("watt_wp_maximal", func(p *PMC) *float64 { return &p.WattWPMaximal })
	floatReg("watt_wa_maximal", func(p *PMC) *float64 { return &p.WattWAMaximal })
	floatReg("watt_wp_reverse", func(p *PMC) *float64 { return &p.WattWPReverse })
	floatReg("watt_wa_reverse", func(p *PMC) *float64 { return &p.WattWAReverse })
	floatReg("watt_udc_maximal", func(p *PMC) *float64 { return &p.WattUDCMaximal })
	floatReg("watt_udc_minimal", func(p *PMC) *float64 { return &p.WattUDCMinimal })
	floatReg("watt_gain_lp", func(p *PMC) *float64 { return &p.WattGainLP })
	telemetry("watt_consumption_wp", func(p *PMC) float64 { return p.wattConsumptionWP })
	telemetry("watt_consumption_wa", func(p *PMC) float64 { return p.wattConsumptionWA })

	floatReg("i_maximal", func(p *PMC) *float64 { return &p.IMaximal })
	floatReg("i_reverse", func(p *PMC) *float64 { return &p.IReverse })
	floatReg("i_derate_on_hfi", func(p *PMC) *float64 { return &p.IDerateOnHFI })
	floatReg("i_derate_on_pcb", func(p *PMC) *float64 { return &p.IDerateOnPCB })
	floatReg("i_slew_rate", func(p *PMC) *float64 { return &p.ISlewRate })
	floatReg("i_tolerance", func(p *PMC) *float64 { return &p.ITolerance })
	floatReg("i_gain_p", func(p *PMC) *float64 { return &p.IGainP })
	floatReg("i_gain_i", func(p *PMC) *float64 { return &p.IGainI })
	floatReg("i_setpoint_current", func(p *PMC) *float64 { return &p.ISetpointCurrent })
	telemetry("i_track_d", func(p *PMC) float64 { return p.iTrackD })
	telemetry("i_track_q", func(p *PMC) float64 { return p.iTrackQ })

	floatReg("weak_maximal", func(p *PMC) *float64 { return &p.WeakMaximal })
	floatReg("weak_gain_eu", func(p *PMC) *float64 { return &p.WeakGainEU })
	telemetry("weak_d", func(p *PMC) float64 { return p.weakD })

	floatReg("v_maximal", func(p *PMC) *float64 { return &p.VMaximal })
	floatReg("v_reverse", func(p *PMC) *float64 { return &p.VReverse })

	floatReg("s_maximal", func(p *PMC) *float64 { return &p.SMaximal })
	floatReg("s_reverse", func(p *PMC) *float64 { return &p.SReverse })
	floatReg("s_accel", func(p *PMC) *float64 { return &p.SAccel })
	floatReg("s_linspan", func(p *PMC) *float64 { return &p.SLinspan })
	floatReg("s_tolerance", func(p *PMC) *float64 { return &p.STolerance })
	floatReg("s_gain_p", func(p *PMC) *float64 { return &p.SGainP })
	floatReg("s_gain_q", func(p *PMC) *float64 { return &p.SGainQ })
	floatReg("s_setpoint_speed", func(p *PMC) *float64 { return &p.SSetpointSpeed })
	telemetry("s_track", func(p *PMC) float64 { return p.sTrack })

	arrayReg("x_location_range", 2, func(p *PMC, k int) *float64 { return &p.XLocationRange[k] })
	floatReg("x_location_home", func(p *PMC) *float64 { return &p.XLocationHome })
	floatReg("x_weak_zone", func(p *PMC) *float64 { return &p.XWeakZone })
	floatReg("x_tolerance", func(p *PMC) *float64 { return &p.XTolerance })
	floatReg("x_gain_p", func(p *PMC) *float64 { return &p.XGainP })
	floatReg("x_gain_n", func(p *PMC) *float64 { return &p.XGainN })
	floatReg("x_setpoint_location", func(p *PMC) *float64 { return &p.XSetpointLocation })
	floatReg("x_setpoint_speed", func(p *PMC) *float64 { return &p.XSetpointSpeed })

	floatReg("mi_capacity_ah", func(p *PMC) *float64 { return &p.MiCapacityAh })
	telemetry("mi_traveled", func(p *PMC) float64 { return p.miTraveled })
	telemetry("mi_consumed_wh", func(p *PMC) float64 { return p.miConsumedWh })
	telemetry("mi_consumed_ah", func(p *PMC) float64 { return p.miConsumedAh })
	telemetry("mi_reverted_wh", func(p *PMC) float64 { return p.miRevertedWh })
	telemetry("mi_reverted_ah", func(p *PMC) float64 { return p.miRevertedAh })
	telemetry("mi_fuel_gauge", func(p *PMC) float64 { return p.miFuelGauge })
}

// arrayReg registers n elements as name0 .. name{n-1}.
func arrayReg(name string, n int, ptr func(p *PMC, k int) *float64) {
	for k := range n {
		floatReg(fmt.Sprintf("%s%d", name, k), func(p *PMC) *float64 { return ptr(p, k) })
	}
}

// Registers lists every register in table order.
func Registers() []RegInfo {
	out := make([]RegInfo, len(regTable))
	for i, r := range regTable {
		out[i] = r.RegInfo
	}
	return out
}

// Reg reads a register by name.
func (p *PMC) Reg(name string) (float64, error) {
	i, ok := regIndex[name]
	if !ok {
		return 0, errors.Errorf("unknown register %q", name)
	}
	return regTable[i].get(p), nil
}

// SetReg writes a configuration register and rebuilds the derived
// constants. Configuration should be changed only while no procedure runs.
func (p *PMC) SetReg(name string, v float64) error {
	if err := p.setReg(name, v); err != nil {
		return err
	}
	p.QuickBuild()
	return nil
}

func (p *PMC) setReg(name string, v float64) error {
	i, ok := regIndex[name]
	if !ok {
		return errors.Errorf("unknown register %q", name)
	}
	r := regTable[i]
	if r.Mode != RegConfig {
		return errors.Errorf("register %q is read only", name)
	}
	return r.set(p, v)
}

// Snapshot returns the value of every register of the given mode.
func (p *PMC) Snapshot(mode RegMode) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range regTable {
		if r.Mode == mode {
			out[r.Name] = r.get(p)
		}
	}
	return out
}

// Restore writes a set of configuration registers. Every register is tried;
// the returned error combines all failures.
func (p *PMC) Restore(regs map[string]float64) error {
	names := make([]string, 0, len(regs))
	for name := range regs {
		names = append(names, name)
	}
	// Deterministic order so later writes win the same way every time.
	sort.Strings(names)

	var err error
	for _, name := range names {
		err = multierr.Append(err, p.setReg(name, regs[name]))
	}
	p.QuickBuild()
	return err
}
