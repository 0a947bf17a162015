package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/pmsm-foc/bench"
	"github.com/viam-modules/pmsm-foc/pm"
)

func TestSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motor.cbor")

	src := pm.New(30000, 1000, bench.NewPlant(30000, 1000, bench.DefaultMotor()))
	src.ConstRs = 0.123
	src.ConfigTVM = false
	src.QuickBuild()
	test.That(t, saveSnapshot(path, src), test.ShouldBeNil)

	snap, err := loadSnapshot(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snap.Freq, test.ShouldEqual, 30000)
	test.That(t, snap.Resolution, test.ShouldEqual, 1000)

	dst := pm.New(30000, 1000, bench.NewPlant(30000, 1000, bench.DefaultMotor()))
	test.That(t, snap.apply(dst), test.ShouldBeNil)
	test.That(t, dst.ConstRs, test.ShouldEqual, 0.123)
	test.That(t, dst.ConfigTVM, test.ShouldBeFalse)
	test.That(t, dst.Snapshot(pm.RegConfig), test.ShouldResemble, src.Snapshot(pm.RegConfig))

	t.Run("other pwm rate", func(t *testing.T) {
		other := pm.New(20000, 1000, bench.NewPlant(20000, 1000, bench.DefaultMotor()))
		test.That(t, snap.apply(other), test.ShouldNotBeNil)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadSnapshot(filepath.Join(t.TempDir(), "none.cbor"))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestDriftCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift.cbor")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"drift", "--offsets", "0.25,0,0", "--save", path})
	test.That(t, rootCmd.Execute(), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "ad_ia0")
	test.That(t, out.String(), test.ShouldContainSubstring, "-0.25")

	snap, err := loadSnapshot(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snap.Registers["ad_ia0"], test.ShouldAlmostEqual, -0.25, 1e-9)
}

func TestSpeedConversion(t *testing.T) {
	w := rpmToElectrical(1500, 7)
	test.That(t, electricalToRPM(w, 7), test.ShouldAlmostEqual, 1500, 1e-9)
	test.That(t, electricalToRPM(w, 0), test.ShouldEqual, 0)
}
