package obis

// Code addresses one register inside the meter, in the dotted
// "GG.RR.KK*TT" notation used by Neva MT documentation.
type Code struct {
	Group    byte
	Register byte
	Kind     byte
	Tariff   byte
}

// WildTariff marks the tariff selector as "current billing set".
// Registry entries carrying it match any concrete selector.
const WildTariff byte = 0xFF

// Class selects the decoder and the profile scale applied to a payload.
type Class int

const (
	ClassText Class = iota
	ClassEnergy
	ClassVoltage
	ClassCurrent
	ClassPower
	ClassFrequency
	ClassTemperature
	ClassDate
	ClassTime
	ClassDateTime
	ClassStatus
	ClassSeasonSchedule
	ClassSpecialDaySchedule
	ClassTariffSchedule
	ClassPowerFactor
	ClassPowerFactorTagged
)

// Entry binds a code to a human readable quantity name and decoder class.
type Entry struct {
	Code  Code
	Name  string
	Class Class

	// AnyRegister widens the match to a whole register family, used for
	// the per-number tariff schedule codes (0A.NN.64).
	AnyRegister bool
}
