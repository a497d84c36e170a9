package profile

import "github.com/nnemirovsky/goneva/pkg/obis"

// Scales holds the per-quantity-class multipliers for one meter family.
// Different models report different resolutions; the decoder output is
// normalized through these factors (energy in kWh, power in W, voltage
// in V, current in A, frequency in Hz).
type Scales struct {
	Energy    float64
	Voltage   float64
	Current   float64
	Power     float64
	Frequency float64
}

// Profile isolates per-model differences: the supported OBIS set, the
// command verb and the quantity scales. Selected once during handshake
// and immutable for the session lifetime.
type Profile struct {
	Name     string
	Phases   int
	ReadVerb byte
	Scales   Scales

	registry *obis.Registry
}

// Lookup resolves a code against the profile's supported set.
func (p *Profile) Lookup(c obis.Code) (obis.Entry, bool) {
	return p.registry.Lookup(c)
}

// ByName resolves a named quantity against the profile's supported set.
func (p *Profile) ByName(name string) (obis.Entry, bool) {
	return p.registry.ByName(name)
}

// Scale returns the multiplier for a quantity class, 1 for classes that
// are not scaled.
func (p *Profile) Scale(class obis.Class) float64 {
	switch class {
	case obis.ClassEnergy:
		return p.Scales.Energy
	case obis.ClassVoltage:
		return p.Scales.Voltage
	case obis.ClassCurrent:
		return p.Scales.Current
	case obis.ClassPower:
		return p.Scales.Power
	case obis.ClassFrequency:
		return p.Scales.Frequency
	default:
		return 1
	}
}
