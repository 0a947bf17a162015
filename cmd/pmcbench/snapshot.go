package main

import (
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/viam-modules/pmsm-foc/pm"
)

// snapshot is the file format of a register dump.
type snapshot struct {
	Freq       float64            `cbor:"freq"`
	Resolution int                `cbor:"resolution"`
	Registers  map[string]float64 `cbor:"registers"`
}

func takeSnapshot(p *pm.PMC) snapshot {
	return snapshot{
		Freq:       p.Freq(),
		Resolution: p.Resolution(),
		Registers:  p.Snapshot(pm.RegConfig),
	}
}

func saveSnapshot(path string, p *pm.PMC) error {
	data, err := cbor.Marshal(takeSnapshot(p))
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "writing %s", path)
}

func loadSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return &snap, nil
}

// apply restores the registers. Timing registers only make sense at the
// PWM rate they were taken at.
func (s *snapshot) apply(p *pm.PMC) error {
	if s.Freq != p.Freq() || s.Resolution != p.Resolution() {
		return errors.Errorf("snapshot taken at %g Hz / %d ticks, running at %g Hz / %d ticks",
			s.Freq, s.Resolution, p.Freq(), p.Resolution())
	}
	return p.Restore(s.Registers)
}
