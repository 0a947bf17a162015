// Package pm implements a field oriented control engine for permanent magnet
// synchronous machines. A PMC is advanced one PWM period at a time by Feedback
// and writes duty cycles to an Output. Nothing on the tick path allocates,
// blocks or logs.
package pm

import "math"

// Output receives the bridge commands issued by the controller.
type Output interface {
	// SetDC sets the duty cycle of each leg in ticks of [0, resolution].
	SetDC(a, b, c int)
	// SetZ releases the legs whose bits are set (ZA, ZB, ZC).
	SetZ(z int)
}

// Feedback is a raw sample delivered once per PWM period.
type Feedback struct {
	CurrentA float64
	CurrentB float64
	CurrentC float64

	VoltageU float64

	VoltageA float64
	VoltageB float64
	VoltageC float64

	AnalogSIN float64
	AnalogCOS float64

	// PulseHS is the Hall code, 1..6 valid.
	PulseHS int
	// PulseEP is the encoder tick count, wrapping at 16 bits for
	// incremental encoders or at EPPR for absolute ones.
	PulseEP int
}

// PMC is the controller record. Exported fields are configuration and may be
// changed between ticks, after which QuickBuild must run. Everything else is
// state owned by the tick path and is observable through the register table.
type PMC struct {
	freq       float64
	dT         float64
	resolution int
	out        Output

	DCMinimal   float64 // us
	DCClearance float64 // us
	DCSkip      float64 // us
	DCBootstrap float64 // ms
	DCClamped   float64 // s

	tsMinimal   int
	tsClearance int
	tsSkip      int
	tsBootstrap int
	tsClamped   int
	tsInverted  float64

	ConfigNOP          Topology
	ConfigIFB          CurrentFeedback
	ConfigTVM          bool
	ConfigSaliency     Saliency
	ConfigVSICircular  bool
	ConfigVSIPrecise   bool
	ConfigLuForced     bool
	ConfigLuEstimate   Estimator
	ConfigLuSensor     Sensor
	ConfigLuLocation   Location
	ConfigLuDrive      Drive
	ConfigHFIWave      HFIWave
	ConfigHFIPolarity  bool
	ConfigReluctance   bool
	ConfigWeakening    bool
	ConfigHoldingBrake bool
	ConfigSpeedLimited bool
	ConfigABIFrontend  ABIFrontend
	ConfigMileageInfo  bool

	fsmReq      State
	fsmState    State
	fsmPhase    int
	fsmErrno    Errno
	reqRejected int

	TmTransientSlow  float64 // ms
	TmTransientFast  float64
	TmVoltageHold    float64
	TmCurrentHold    float64
	TmCurrentRamp    float64
	TmInstantProbe   float64
	TmAverageProbe   float64
	TmAverageDrift   float64
	TmAverageInertia float64
	TmStartup        float64
	TmHaltPause      float64

	tmValue int
	tmEnd   int

	fbIA, fbIB, fbIC float64
	fbUA, fbUB, fbUC float64
	fbSIN, fbCOS     float64
	fbHS, fbEP       int
	fbU              float64
	quickIU          float64

	FaultVoltageTol  float64
	FaultCurrentTol  float64
	FaultAccuracyTol float64
	FaultTerminalTol float64
	FaultCurrentHalt float64
	FaultVoltageHalt float64

	// Affine calibration, value = [1]*raw + [0].
	AdIA, AdIB, AdIC [2]float64
	AdUS             [2]float64
	AdUA, AdUB, AdUC [2]float64

	ProbeCurrentHold    float64
	ProbeCurrentWeak    float64
	ProbeHoldAngle      float64
	ProbeCurrentSine    float64
	ProbeCurrentBias    float64
	ProbeFreqSine       float64
	ProbeSpeedHold      float64
	ProbeSpeedDetached  float64
	ProbeDampingCurrent float64
	ProbeDampingSpeed   float64
	ProbeSpeedTol       float64
	ProbeLocationTol    float64
	ProbeGainP          float64
	ProbeGainI          float64

	probe probeScratch

	vsiDC     float64
	vsiLpfDC  float64
	VsiGainLP float64
	VsiMaskXF int

	vsiX, vsiY    float64
	vsiDX, vsiDY  float64
	vsiAF, vsiBF  int
	vsiCF, vsiIF  int
	vsiSF, vsiUF  int
	vsiAZ, vsiBZ  int
	vsiCZ         int
	vsiAG, vsiBG  int
	vsiCG         int
	vsiSA, vsiSB  int
	vsiSC, vsiTIM int

	TvmUseable   bool
	TvmCleanZone float64
	TvmFIRA      [3]float64
	TvmFIRB      [3]float64
	TvmFIRC      [3]float64

	tvmA, tvmB, tvmC float64
	tvmDX, tvmDY     float64

	luMode       LuMode
	luF          [3]float64
	luWS         float64
	luIX, luIY   float64
	luID, luIQ   float64
	luRevol      int
	luRevob      int
	luTotalRevol int
	luLocation   float64
	luLastWS     float64
	luMqLoad     float64
	LuRate       float64
	LuGainMqLP   float64

	baseTIM int
	holdTIM int

	ForcedHoldD     float64
	ForcedMaximal   float64
	ForcedReverse   float64
	ForcedAccel     float64
	ForcedSlewRate  float64
	ForcedMaximalDC float64

	forcedF      [2]float64
	forcedWS     float64
	forcedTrackD float64

	DetachThresholdBASE float64
	DetachTripAP        float64
	DetachGainSF        float64

	detachTIM int

	fluxType Estimator
	fluxX    [2]float64
	fluxF    [2]float64
	fluxE    float64
	fluxWS   float64
	fluxZone Zone

	FluxTripAP float64
	FluxGainIN float64
	FluxGainLO float64
	FluxGainHI float64
	FluxGainSF float64
	FluxGainIF float64

	kalmanP         [15]float64
	kalmanA         [10]float64
	kalmanK         [10]float64
	kalmanBiasQ     float64
	kalmanLpfWS     float64
	kalmanPostponed bool
	KalmanGainQ     [5]float64
	KalmanGainR     float64

	zoneLpfWS          float64
	ZoneThresholdNOISE float64
	ZoneThresholdBASE  float64
	ZoneGainTH         float64
	ZoneGainLP         float64

	HFIFreq   float64
	HFISine   float64
	HFIGainDP float64

	hfiWave   [2]float64
	hfiPole   float64
	hfiInject bool
	hfiSeed   lfg

	HallUseable bool
	// HallST holds the unit vector of each Hall code, index 0 unused.
	HallST     [7][2]float64
	HallTripAP float64
	HallGainLO float64
	HallGainSF float64
	HallGainIF float64

	hallF   [2]float64
	hallWS  float64
	hallERN int

	AbiUseable bool
	AbiEPPR    int
	AbiGearZs  int
	AbiGearZq  int
	AbiTripAP  float64
	AbiGainLO  float64
	AbiGainSF  float64
	AbiGainIF  float64
	// AbiF0 is the frame at encoder zero. The incremental frontend takes
	// it from the lookup when tracking starts.
	AbiF0 [2]float64

	abiEnabled  bool
	abiBEP      int
	abiLEP      int
	abiUnwrap   int
	abiInterp   float64
	abiF        [2]float64
	abiWS       float64
	abiLocation float64

	SinCosUseable bool
	SinCosGearZs  int
	SinCosGearZq  int
	// SinCosFIR holds the offset pair then one coefficient pair for each
	// of c, s, cs, c^2, s^2, c^2s, s^2c, c^3, s^3.
	SinCosFIR [20]float64

	sincosSC       [3]float64
	sincosRevol    int
	sincosUnwrap   int
	sincosLocation float64
	sincosF        [2]float64

	ConstLambda float64
	ConstRs     float64
	ConstZp     int
	ConstJa     float64
	ConstImL1   float64
	ConstImL2   float64
	ConstImB    float64
	ConstImR    float64
	ConstLdS    float64

	quickIE   float64
	quickIEq  float64
	quickIL1  float64
	quickIL2  float64
	quickTiL1 float64
	quickTiL2 float64
	quickHFwS float64
	quickZiEP float64
	quickZiSQ float64

	kUMAX float64
	kEMAX float64
	kKWAT float64

	WattWPMaximal  float64
	WattWAMaximal  float64
	WattWPReverse  float64
	WattWAReverse  float64
	WattUDCMaximal float64
	WattUDCMinimal float64
	WattGainLP     float64

	wattLpfD          float64
	wattLpfQ          float64
	wattConsumptionWP float64
	wattConsumptionWA float64

	IMaximal         float64
	IReverse         float64
	IDerateOnHFI     float64
	IDerateOnPCB     float64
	ISlewRate        float64
	ITolerance       float64
	IGainP           float64
	IGainI           float64
	ISetpointCurrent float64

	iDerateOnWeakening float64
	iTrackD, iTrackQ   float64
	iIntegralD         float64
	iIntegralQ         float64

	WeakMaximal float64
	WeakGainEU  float64
	weakD       float64

	VMaximal float64
	VReverse float64

	SMaximal       float64
	SReverse       float64
	SAccel         float64
	SLinspan       float64
	STolerance     float64
	SGainP         float64
	SGainQ         float64
	SSetpointSpeed float64

	sTrack   float64
	sForward float64

	XLocationRange    [2]float64
	XLocationHome     float64
	XWeakZone         float64
	XTolerance        float64
	XGainP            float64
	XGainN            float64
	XSetpointLocation float64
	XSetpointSpeed    float64

	MiCapacityAh float64

	miTraveled   float64
	miConsumedWh float64
	miConsumedAh float64
	miRevertedWh float64
	miRevertedAh float64
	miFuelGauge  float64
	miRem        [4]float64
}

// probeScratch holds the accumulators of the outer FSM procedures.
type probeScratch struct {
	acc   [4]float64
	integ [2]float64
	bits  [7]int
	step  int
	hold  [2]float64
	last  [2]float64
	wave  [2]float64
	dw    float64
	amp   float64
	uBin  [2][2]dftBin
	iBin  [2][2]dftBin
}

// New creates a controller ticking at freqHz with a PWM resolution of
// resolution ticks. Defaults are applied and derived constants built.
func New(freqHz float64, resolution int, out Output) *PMC {
	p := &PMC{
		freq:       freqHz,
		dT:         1 / freqHz,
		resolution: resolution,
		out:        out,
	}
	p.Default()
	return p
}

// Default restores the basic and configuration defaults and rebuilds the
// derived constants. Machine constants become unknown.
func (p *PMC) Default() {
	p.Auto(AutoBasicDefault)
	p.Auto(AutoConfigDefault)
	p.QuickBuild()
}

// tsms converts milliseconds to a number of ticks.
func (p *PMC) tsms(ms float64) int {
	return int(p.freq * ms / 1000)
}

// Freq returns the tick rate in Hz.
func (p *PMC) Freq() float64 { return p.freq }

// Resolution returns the PWM resolution in ticks.
func (p *PMC) Resolution() int { return p.resolution }

// State returns the outer FSM state.
func (p *PMC) State() State { return p.fsmState }

// Phase returns the step of the current outer FSM procedure.
func (p *PMC) Phase() int { return p.fsmPhase }

// Errno returns the last reason the outer FSM gave up.
func (p *PMC) Errno() Errno { return p.fsmErrno }

// ReqRejected returns the number of requests refused by gating.
func (p *PMC) ReqRejected() int { return p.reqRejected }

// Mode returns the lookup FSM mode.
func (p *PMC) Mode() LuMode { return p.luMode }

// Zone returns the estimator confidence.
func (p *PMC) Zone() Zone { return p.fluxZone }

// Speed returns the electrical speed in rad/s.
func (p *PMC) Speed() float64 { return p.luWS }

// Location returns the electrical location in rad.
func (p *PMC) Location() float64 { return p.luLocation }

// Current returns the measured D and Q currents.
func (p *PMC) Current() (d, q float64) { return p.luID, p.luIQ }

// DCLink returns the measured DC link voltage.
func (p *PMC) DCLink() float64 { return p.fbU }

// Frame returns the authoritative electrical position as (cos, sin).
func (p *PMC) Frame() [2]float64 { return [2]float64{p.luF[0], p.luF[1]} }

// Busy reports whether a procedure other than idle is running.
func (p *PMC) Busy() bool { return p.fsmState != StateIdle || p.fsmReq != StateIdle }

// finite reports whether every value is a regular number.
func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
