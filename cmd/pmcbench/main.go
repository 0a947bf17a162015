// Command pmcbench runs the control engine against the bench plant: current
// sensor calibration, the power stage self test, machine constant probing
// and a speed controlled spin up.
package main

import (
	"os"

	"go.viam.com/rdk/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.NewLogger("pmcbench").Error(err)
		os.Exit(1)
	}
}
