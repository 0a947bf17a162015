package pm

import "math"

// QuickBuild recomputes every constant derived from configuration. It must
// run after configuration fields change.
func (p *PMC) QuickBuild() {
	if p.ConfigNOP == TopologyThreePhase {
		p.kUMAX = 2. / 3.
		p.kEMAX = 0.57735027
		p.kKWAT = 1.5
	} else {
		p.kUMAX = 1
		p.kEMAX = 0.70710678
		p.kKWAT = 1
	}

	ticks := func(us float64) int {
		return int(us * 1e-6 * p.freq * float64(p.resolution))
	}

	p.tsMinimal = ticks(p.DCMinimal)
	p.tsClearance = ticks(p.DCClearance)
	p.tsSkip = ticks(p.DCSkip)
	p.tsBootstrap = p.tsms(p.DCBootstrap)
	p.tsClamped = int(p.freq * p.DCClamped)
	p.tsInverted = 1 / float64(p.resolution)

	inv := func(x float64) float64 {
		if x > epsF {
			return 1 / x
		}
		return 0
	}

	p.quickIE = inv(p.ConstLambda)
	p.quickIEq = p.quickIE * p.quickIE
	p.quickIL1 = inv(p.ConstImL1)
	p.quickIL2 = inv(p.ConstImL2)
	p.quickTiL1 = p.dT * p.quickIL1
	p.quickTiL2 = p.dT * p.quickIL2

	p.quickHFwS = 2 * math.Pi * p.HFIFreq

	if p.AbiGearZq*p.AbiEPPR != 0 {
		p.quickZiEP = 2 * math.Pi * float64(p.ConstZp*p.AbiGearZs) / float64(p.AbiGearZq*p.AbiEPPR)
	} else {
		p.quickZiEP = 0
	}
	if p.SinCosGearZq != 0 {
		p.quickZiSQ = float64(p.ConstZp*p.SinCosGearZs) / float64(p.SinCosGearZq)
	} else {
		p.quickZiSQ = 0
	}

	if p.ConfigLuLocation == LocationABI && p.ConfigLuSensor == SensorABI {
		p.ConfigLuLocation = LocationInherited
	}
}

// Auto runs one of the auto-tuning procedures. The tuning procedures use
// the last measured DC link voltage.
func (p *PMC) Auto(req AutoReq) {
	switch req {
	case AutoBasicDefault:
		p.autoBasicDefault()
	case AutoConfigDefault:
		p.autoConfigDefault()
	case AutoProbeDefault:
		p.autoProbeDefault()
	case AutoMaximalCurrent:
		p.autoMaximalCurrent()
	case AutoProbeSpeedHold:
		p.autoProbeSpeedHold()
	case AutoZoneThreshold:
		p.autoZoneThreshold()
	case AutoForcedMaximal:
		p.autoForcedMaximal()
	case AutoForcedAccel:
		p.autoForcedAccel()
	case AutoLoopCurrent:
		p.autoLoopCurrent()
	case AutoLoopSpeed:
		p.autoLoopSpeed()
	}
}

func (p *PMC) autoBasicDefault() {
	p.DCMinimal = 0.2
	p.DCClearance = 5
	p.DCSkip = 2
	p.DCBootstrap = 100
	p.DCClamped = 1

	p.ConfigNOP = TopologyThreePhase
	p.ConfigIFB = FeedbackABCInline
	p.ConfigTVM = true

	p.FaultVoltageTol = 4
	p.FaultCurrentTol = 4
	p.FaultAccuracyTol = 0.1
	p.FaultTerminalTol = 0.09
	p.FaultCurrentHalt = 156
	p.FaultVoltageHalt = 57

	// Every sample is rejected until the first clearance pass.
	p.vsiAF = 1
	p.vsiBF = 1
	p.vsiCF = 1
	p.vsiIF = 1
	p.vsiSF = 1
	p.vsiUF = 1

	p.WattWPMaximal = 4000
	p.WattWAMaximal = 80
	p.WattWPReverse = 4000
	p.WattWAReverse = 80
	p.WattUDCMaximal = 52
	p.WattUDCMinimal = 7

	p.IMaximal = 120
	p.IReverse = p.IMaximal
	p.IDerateOnPCB = maxF

	p.hfiSeed.seed(24)
}

func (p *PMC) autoConfigDefault() {
	p.ConfigSaliency = SaliencyNegative
	p.ConfigVSICircular = false
	p.ConfigVSIPrecise = false
	p.ConfigLuForced = true
	p.ConfigLuEstimate = EstimatorOrtega
	p.ConfigLuSensor = SensorNone
	p.ConfigLuLocation = LocationInherited
	p.ConfigLuDrive = DriveSpeed
	p.ConfigHFIWave = HFINone
	p.ConfigHFIPolarity = false
	p.ConfigReluctance = false
	p.ConfigWeakening = false
	p.ConfigHoldingBrake = false
	p.ConfigSpeedLimited = true
	p.ConfigABIFrontend = ABIIncremental
	p.ConfigMileageInfo = true

	p.TmTransientSlow = 40
	p.TmTransientFast = 2
	p.TmVoltageHold = 100
	p.TmCurrentHold = 300
	p.TmCurrentRamp = 400
	p.TmInstantProbe = 2
	p.TmAverageProbe = 200
	p.TmAverageDrift = 100
	p.TmAverageInertia = 700
	p.TmStartup = 100
	p.TmHaltPause = 1000

	for _, ad := range []*[2]float64{&p.AdIA, &p.AdIB, &p.AdIC, &p.AdUS, &p.AdUA, &p.AdUB, &p.AdUC} {
		*ad = [2]float64{0, 1}
	}

	p.ProbeCurrentHold = 20
	p.ProbeCurrentWeak = 5
	p.ProbeHoldAngle = 0
	p.ProbeCurrentSine = 5
	p.ProbeCurrentBias = 0
	p.ProbeFreqSine = 1100
	p.ProbeSpeedHold = 900
	p.ProbeSpeedDetached = 50
	p.ProbeDampingCurrent = 1
	p.ProbeDampingSpeed = 2
	p.ProbeSpeedTol = 10
	p.ProbeLocationTol = 0.1
	p.ProbeGainP = 1e-2
	p.ProbeGainI = 1e-3

	p.VsiGainLP = 5e-3
	p.VsiMaskXF = MaskNone

	p.TvmUseable = false
	p.TvmCleanZone = 0.1
	p.TvmFIRA = [3]float64{}
	p.TvmFIRB = [3]float64{}
	p.TvmFIRC = [3]float64{}

	p.LuRate = 900
	p.LuGainMqLP = 4e-3

	p.ForcedHoldD = 20
	p.ForcedMaximal = 900
	p.ForcedReverse = p.ForcedMaximal
	p.ForcedAccel = 400
	p.ForcedSlewRate = 900
	p.ForcedMaximalDC = 0.7

	p.DetachThresholdBASE = 1
	p.DetachTripAP = 0.2
	p.DetachGainSF = 5e-2

	p.FluxTripAP = 0.2
	p.FluxGainIN = 5e-4
	p.FluxGainLO = 2e-6
	p.FluxGainHI = 5e-5
	p.FluxGainSF = 5e-2
	p.FluxGainIF = 0.5

	p.KalmanGainQ = [5]float64{5e-5, 5e-5, 5e-4, 5e1, 5e-5}
	p.KalmanGainR = 0.5

	p.ZoneThresholdNOISE = 50
	p.ZoneThresholdBASE = 80
	p.ZoneGainTH = 0.7
	p.ZoneGainLP = 5e-3

	p.HFIFreq = 2100
	p.HFISine = 5
	p.HFIGainDP = 4e-3

	p.HallUseable = false
	p.HallTripAP = 5e-3
	p.HallGainLO = 5e-4
	p.HallGainSF = 7e-3
	p.HallGainIF = 0.1

	p.AbiUseable = false
	p.AbiEPPR = 2400
	p.AbiGearZs = 1
	p.AbiGearZq = 1
	p.AbiTripAP = 5e-2
	p.AbiGainLO = 5e-3
	p.AbiGainSF = 5e-2
	p.AbiGainIF = 0.1
	p.AbiF0 = [2]float64{1, 0}

	p.SinCosUseable = false
	p.SinCosGearZs = 1
	p.SinCosGearZq = 1

	p.ConstLambda = 0
	p.ConstRs = 0
	p.ConstZp = 1
	p.ConstJa = 0
	p.ConstImL1 = 0
	p.ConstImL2 = 0
	p.ConstImB = 0
	p.ConstImR = 0

	p.WattGainLP = 5e-2

	p.IDerateOnHFI = 30
	p.ISlewRate = 7000
	p.ITolerance = 0
	p.IGainP = 0.2
	p.IGainI = 5e-3

	p.WeakMaximal = 30
	p.WeakGainEU = 5e-2

	p.VMaximal = 90
	p.VReverse = p.VMaximal

	p.SMaximal = 15000
	p.SReverse = p.SMaximal
	p.SAccel = 7000
	p.SLinspan = 100
	p.STolerance = 0
	p.SGainP = 4e-2
	p.SGainQ = 0.5

	p.XLocationRange = [2]float64{-600, 600}
	p.XLocationHome = 0
	p.XWeakZone = 1
	p.XTolerance = 0
	p.XGainP = 35
	p.XGainN = 5
}

func (p *PMC) autoProbeDefault() {
	p.ConfigSaliency = SaliencyNegative

	p.ProbeSpeedHold = 900
	p.LuGainMqLP = 4e-3

	p.ForcedMaximal = 900
	p.ForcedReverse = p.ForcedMaximal
	p.ForcedAccel = 400

	p.ZoneThresholdNOISE = 50
	p.ZoneThresholdBASE = 80

	p.ConstLambda = 0
	p.ConstRs = 0
	p.ConstJa = 0
	p.ConstImL1 = 0
	p.ConstImL2 = 0
	p.ConstImB = 0
	p.ConstImR = 0

	p.ISlewRate = 7000
	p.IGainP = 0.2
	p.IGainI = 5e-3

	p.SGainP = 4e-2
	p.SGainQ = 0.5
}

func (p *PMC) autoMaximalCurrent() {
	maximal := p.FaultCurrentHalt * 0.8

	if p.ConstRs > epsF {
		// DC link voltage across the winding.
		maximal = math.Min(maximal, p.kUMAX*p.fbU/p.ConstRs)
		// Resistive losses.
		maximal = math.Min(maximal, math.Sqrt(400/p.ConstRs))

		if maximal < p.IMaximal {
			p.IMaximal = math.Trunc(maximal)
			p.IReverse = p.IMaximal
		}
	} else {
		p.IMaximal = math.Trunc(maximal)
		p.IReverse = p.IMaximal
	}
}

func (p *PMC) autoProbeSpeedHold() {
	if p.ConstLambda <= epsF {
		return
	}
	hi := 0.7 * p.kEMAX * p.fbU / p.ConstLambda
	lo := 1.4 * (p.ZoneThresholdBASE + p.ZoneThresholdNOISE)

	if p.ProbeSpeedHold > hi {
		p.ProbeSpeedHold = hi
	}
	if p.ProbeSpeedHold < lo {
		p.ProbeSpeedHold = lo
	}
}

func (p *PMC) autoZoneThreshold() {
	if p.ConstRs <= epsF || p.ConstLambda <= epsF {
		return
	}

	// A wrongly large noise threshold is suppressed.
	hi := math.Min(0.4*p.ForcedMaximal, 10/p.ConstLambda)
	lo := 10.

	if p.ZoneThresholdNOISE > hi {
		p.ZoneThresholdNOISE = hi
	}
	if p.ZoneThresholdNOISE < lo {
		p.ZoneThresholdNOISE = lo
	}

	// Uncertainty due to resistance thermal drift.
	iru := 0.2 * p.IMaximal * p.ConstRs

	var dtu float64
	if p.TvmUseable {
		dtu = 0.1
	} else {
		// Voltage uncertainty on dead time.
		dtu = p.DCMinimal * 1e-6 * p.freq * p.fbU
	}

	p.ZoneThresholdBASE = (iru + dtu) / p.ConstLambda

	hi = 0.7*p.ForcedMaximal - p.ZoneThresholdNOISE

	if p.ZoneThresholdBASE > hi {
		p.ZoneThresholdBASE = hi
	}
	if p.ZoneThresholdBASE < lo {
		p.ZoneThresholdBASE = lo
	}
}

func (p *PMC) autoForcedMaximal() {
	if p.ConstLambda <= epsF {
		return
	}
	hi := 0.7 * p.kEMAX * p.fbU / p.ConstLambda
	lo := p.ProbeSpeedHold

	if p.ForcedMaximal > hi {
		p.ForcedMaximal = hi
	}
	if p.ForcedMaximal < lo {
		p.ForcedMaximal = lo
	}
}

func (p *PMC) autoForcedAccel() {
	if p.ConstJa > epsF {
		mQ := p.torque(p.ForcedHoldD, p.ForcedHoldD)
		p.ForcedAccel = 0.1 * mQ / p.ConstJa
	}
}

func (p *PMC) autoLoopCurrent() {
	if p.ConstImL1 <= epsF || p.ConstImL2 <= epsF {
		return
	}
	lm := math.Min(p.ConstImL1, p.ConstImL2)
	df := p.ProbeDampingCurrent

	// Gains placed from the discrete state-space model
	//
	//          [1-R*T/L-Kp*T/L  -Ki*T/L]
	// x(k+1) = [1                1     ] * x(k)
	kp := 0.5*lm*df*p.freq - p.ConstRs
	ki := 0.02 * lm * df * p.freq

	p.IGainP = math.Max(kp, 0)
	p.IGainI = ki
	p.ISlewRate = 0.05 * p.fbU / lm
}

func (p *PMC) autoLoopSpeed() {
	df := p.ProbeDampingSpeed

	if p.ZoneThresholdNOISE <= epsF {
		return
	}
	if p.ConstLambda > epsF && p.ConstJa > epsF {
		p.LuGainMqLP = df * p.ConstLambda * p.dT / p.ConstJa / p.ZoneThresholdNOISE
	}
	p.SGainP = df / p.ZoneThresholdNOISE
}
