package main

import (
	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
)

var (
	pwmFreq       float64
	pwmResolution int
	polePairs     int
	loadPath      string
	savePath      string
	plotPath      string
	timeLimit     float64
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "pmcbench",
	Short: "Bench runner for the PMSM field oriented controller",
	Long: `pmcbench drives the controller against a simulated machine and inverter.

Register snapshots are CBOR files holding every configuration register. A
snapshot written by one command can be loaded by the next, so probed machine
constants carry over:

  pmcbench probe --save motor.cbor
  pmcbench spinup --load motor.cbor --rpm 2000 --plot spinup.png`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Float64Var(&pwmFreq, "freq", 30000, "PWM frequency (Hz)")
	rootCmd.PersistentFlags().IntVar(&pwmResolution, "resolution", 1000, "PWM resolution (ticks)")
	rootCmd.PersistentFlags().IntVar(&polePairs, "pole-pairs", 7, "Pole pairs of the simulated machine")
	rootCmd.PersistentFlags().StringVarP(&loadPath, "load", "l", "", "Load a register snapshot before running")
	rootCmd.PersistentFlags().StringVarP(&savePath, "save", "s", "", "Save a register snapshot after running")
	rootCmd.PersistentFlags().Float64Var(&timeLimit, "time-limit", 20, "Simulated seconds a procedure may take")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func newLogger() logging.Logger {
	logger := logging.NewLogger("pmcbench")
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}
