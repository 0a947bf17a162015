package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/viam-modules/pmsm-foc/bench"
	"github.com/viam-modules/pmsm-foc/pm"
)

var (
	driftOffsets []float64
	disconnected bool
	guessL       float64
	spinRPM      float64
	spinSeconds  float64
	traceEvery   int
	probeE       bool
	regsFilter   string
	regsAll      bool
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Calibrate the current sensor zero offsets",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(newLogger())
		if err != nil {
			return err
		}
		for k := range min(len(driftOffsets), 3) {
			s.plant.Offset[k] = driftOffsets[k]
		}
		if err := s.run(pm.StateZeroDrift); err != nil {
			return err
		}
		printRegs(cmd.OutOrStdout(), s.ctrl, "ad_ia0", "ad_ib0", "ad_ic0", "const_fb_u")
		return s.finish()
	},
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the power stage self test",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(newLogger())
		if err != nil {
			return err
		}
		s.plant.Disconnected = disconnected
		s.plant.Fixed = true

		err = s.run(pm.StatePowerStageTest)
		fmt.Fprintf(cmd.OutOrStdout(), "power stage: %s\n", s.ctrl.Errno())
		return err
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure resistance and inductance with the rotor locked",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(newLogger())
		if err != nil {
			return err
		}
		s.plant.Fixed = true

		if err := s.run(pm.StateZeroDrift); err != nil {
			return err
		}
		if err := s.run(pm.StateProbeConstR); err != nil {
			return err
		}

		// The inductance probe sizes its excitation from a rough guess.
		if s.ctrl.ConstImL1 <= 0 || s.ctrl.ConstImL2 <= 0 {
			s.ctrl.ConstImL1 = guessL
			s.ctrl.ConstImL2 = guessL
			s.ctrl.QuickBuild()
		}
		if err := s.run(pm.StateProbeConstL); err != nil {
			return err
		}

		m := s.plant.Motor
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "constant\tprobed\tbench")
		fmt.Fprintf(w, "const_rs\t%.6g\t%.6g\n", s.ctrl.ConstRs, m.Rs)
		fmt.Fprintf(w, "const_im_l1\t%.6g\t%.6g\n", s.ctrl.ConstImL1, m.Ld)
		fmt.Fprintf(w, "const_im_l2\t%.6g\t%.6g\n", s.ctrl.ConstImL2, m.Lq)
		fmt.Fprintf(w, "const_im_b\t%.4g\t\n", s.ctrl.ConstImB)
		fmt.Fprintf(w, "const_im_r\t%.6g\t\n", s.ctrl.ConstImR)
		if err := w.Flush(); err != nil {
			return err
		}
		return s.finish()
	},
}

var spinupCmd = &cobra.Command{
	Use:   "spinup",
	Short: "Start the machine and hold a speed",
	Long: `spinup starts the lookup FSM, hands the machine to the speed loop and
records speed and currents. Without a snapshot the controller gets the
constants of the simulated machine.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		s, err := newSession(logger)
		if err != nil {
			return err
		}
		if loadPath == "" {
			s.trueConstants()
		}

		// Measures the DC link the tuning procedures rely on.
		if err := s.run(pm.StateZeroDrift); err != nil {
			return err
		}
		s.tune()

		if err := s.run(pm.StateLuInitiate); err != nil {
			return err
		}
		p := s.ctrl
		zp := p.ConstZp
		p.ConfigLuDrive = pm.DriveSpeed
		p.SSetpointSpeed = rpmToElectrical(spinRPM, zp)

		every := max(traceEvery, 1)
		tr := bench.NewTrace(p.Freq()/float64(every), "rpm", "bench_rpm", "id", "iq")
		ticks := int(spinSeconds * p.Freq())
		for k := range ticks {
			s.plant.Run(p, 1)
			if k%every == 0 {
				d, q := p.Current()
				tr.Add("rpm", electricalToRPM(p.Speed(), zp))
				tr.Add("bench_rpm", electricalToRPM(s.plant.Speed(), zp))
				tr.Add("id", d)
				tr.Add("iq", q)
			}
			if p.Errno() != pm.ErrOK {
				return errors.Wrapf(p.Errno(), "fault after %.3f s", float64(k)/p.Freq())
			}
		}
		logger.Infof("lookup %s, zone %s", p.Mode(), p.Zone())

		if probeE {
			if err := s.run(pm.StateProbeConstE); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "const_lambda %.6g (bench %.6g)\n", p.ConstLambda, s.plant.Motor.Lambda)
		}

		printStats(cmd.OutOrStdout(), tr)
		if hz := bench.Peak(tr.Series("iq"), tr.Freq); hz > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "strongest iq ripple at %.1f Hz\n", hz)
		}

		if plotPath != "" {
			if err := savePlot(tr, fmt.Sprintf("spin up to %g rpm", spinRPM), plotPath, tr.Names()...); err != nil {
				return err
			}
		}

		if err := s.run(pm.StateLuShutdown); err != nil {
			return err
		}
		return s.finish()
	},
}

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "Print the register table",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(newLogger())
		if err != nil {
			return err
		}
		var names []string
		for _, r := range pm.Registers() {
			if r.Mode != pm.RegConfig && !regsAll {
				continue
			}
			if strings.HasPrefix(r.Name, regsFilter) {
				names = append(names, r.Name)
			}
		}
		printRegs(cmd.OutOrStdout(), s.ctrl, names...)
		return nil
	},
}

func init() {
	driftCmd.Flags().Float64SliceVar(&driftOffsets, "offsets", nil, "Current sensor offsets of the bench (A,B,C)")
	selftestCmd.Flags().BoolVar(&disconnected, "disconnected", false, "Remove the machine from the bridge")
	probeCmd.Flags().Float64Var(&guessL, "guess-l", 50e-6, "Inductance guess when none is loaded (H)")
	spinupCmd.Flags().Float64Var(&spinRPM, "rpm", 1000, "Speed setpoint")
	spinupCmd.Flags().Float64Var(&spinSeconds, "duration", 1, "Simulated seconds to run")
	spinupCmd.Flags().IntVar(&traceEvery, "every", 10, "Record every n-th tick")
	spinupCmd.Flags().BoolVar(&probeE, "probe-e", false, "Probe the flux linkage once running")
	spinupCmd.Flags().StringVar(&plotPath, "plot", "", "Write a PNG plot of the run")
	regsCmd.Flags().StringVar(&regsFilter, "prefix", "", "Only registers starting with this prefix")
	regsCmd.Flags().BoolVar(&regsAll, "all", false, "Include telemetry registers")

	rootCmd.AddCommand(driftCmd, selftestCmd, probeCmd, spinupCmd, regsCmd)
}

func printRegs(out io.Writer, p *pm.PMC, names ...string) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		v, err := p.Reg(name)
		if err != nil {
			fmt.Fprintf(w, "%s\t%v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%.6g\n", name, v)
	}
	_ = w.Flush()
}

func printStats(out io.Writer, tr *bench.Trace) {
	names := append([]string(nil), tr.Names()...)
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "signal\tmin\tmax\tmean\trms")
	for _, name := range names {
		st := tr.Stats(name)
		if math.IsNaN(st.Mean) {
			continue
		}
		fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.4g\t%.4g\n", name, st.Min, st.Max, st.Mean, st.RMS)
	}
	_ = w.Flush()
}
