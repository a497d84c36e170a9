// Package profile maps the identification string obtained during the
// handshake to a meter model profile: supported OBIS codes, quantity
// scales and command variants. The session and the decoders stay
// model-agnostic; everything model-specific lives here.
package profile

import (
	"fmt"
	"strings"

	"github.com/nnemirovsky/goneva/pkg/obis"
)

// ErrUnknownModel is returned when no profile pattern matches the
// identification string and no default profile is allowed.
var ErrUnknownModel = fmt.Errorf("profile: unknown meter model")

// Quantity names shared between the registry, the session accessors and
// the CLI surface.
const (
	SerialNumber    = "serial_number"
	Address         = "address"
	Firmware        = "firmware"
	Date            = "date"
	Time            = "time"
	DateTime        = "datetime"
	Temperature     = "temperature"
	Status          = "status"
	Frequency       = "frequency"
	TotalEnergy     = "total_energy"
	EnergyPrevMonth = "energy_prev_month"
	EnergyPrevDay   = "energy_prev_day"
	SeasonSchedules = "season_schedules"
	SpecialDays     = "special_days_schedules"
	TariffSchedule  = "tariff_schedule"
	VoltageL1       = "voltage_l1"
	VoltageL2       = "voltage_l2"
	VoltageL3       = "voltage_l3"
	CurrentL1       = "current_l1"
	CurrentL2       = "current_l2"
	CurrentL3       = "current_l3"
	ActivePowerL1   = "active_power_l1"
	ActivePowerL2   = "active_power_l2"
	ActivePowerL3   = "active_power_l3"
	ActivePowerSum  = "active_power_sum"
	PowerFactorL1   = "power_factor_l1"
	PowerFactorL2   = "power_factor_l2"
	PowerFactorL3   = "power_factor_l3"
	PosReactiveL1   = "positive_reactive_power_l1"
	NegReactiveL1   = "negative_reactive_power_l1"
	PosReactiveL2   = "positive_reactive_power_l2"
	NegReactiveL2   = "negative_reactive_power_l2"
	PosReactiveL3   = "positive_reactive_power_l3"
	NegReactiveL3   = "negative_reactive_power_l3"
	PosReactiveSum  = "positive_reactive_power_sum"
	NegReactiveSum  = "negative_reactive_power_sum"
)

// Codes common to every Neva MT family.
func baseEntries() []obis.Entry {
	return []obis.Entry{
		{Code: obis.MustParse("60.01.00*FF"), Name: SerialNumber, Class: obis.ClassText},
		{Code: obis.MustParse("60.01.01*FF"), Name: Address, Class: obis.ClassText},
		{Code: obis.MustParse("60.01.04*FF"), Name: Firmware, Class: obis.ClassText},
		{Code: obis.MustParse("00.09.02*FF"), Name: Date, Class: obis.ClassDate},
		{Code: obis.MustParse("00.09.01*FF"), Name: Time, Class: obis.ClassTime},
		{Code: obis.MustParse("00.09.80*FF"), Name: DateTime, Class: obis.ClassDateTime},
		{Code: obis.MustParse("60.09.00*FF"), Name: Temperature, Class: obis.ClassTemperature},
		{Code: obis.MustParse("0E.07.01*FF"), Name: Frequency, Class: obis.ClassFrequency},
		{Code: obis.MustParse("0F.08.80*FF"), Name: TotalEnergy, Class: obis.ClassEnergy},
		{Code: obis.MustParse("0F.08.80*00"), Name: EnergyPrevMonth, Class: obis.ClassEnergy},
		{Code: obis.MustParse("0F.80.80*00"), Name: EnergyPrevDay, Class: obis.ClassEnergy},
		{Code: obis.MustParse("0D.00.00*FF"), Name: SeasonSchedules, Class: obis.ClassSeasonSchedule},
		{Code: obis.MustParse("0B.00.00*FF"), Name: SpecialDays, Class: obis.ClassSpecialDaySchedule},
		{Code: obis.MustParse("0A.00.64*FF"), Name: TariffSchedule, Class: obis.ClassTariffSchedule, AnyRegister: true},
		{Code: obis.MustParse("20.07.00*FF"), Name: VoltageL1, Class: obis.ClassVoltage},
		{Code: obis.MustParse("1F.07.00*FF"), Name: CurrentL1, Class: obis.ClassCurrent},
		{Code: obis.MustParse("24.07.00*FF"), Name: ActivePowerL1, Class: obis.ClassPower},
		{Code: obis.MustParse("10.07.00*FF"), Name: ActivePowerSum, Class: obis.ClassPower},
	}
}

// Codes present on three-phase meters only.
func threePhaseEntries() []obis.Entry {
	return []obis.Entry{
		{Code: obis.MustParse("34.07.00*FF"), Name: VoltageL2, Class: obis.ClassVoltage},
		{Code: obis.MustParse("48.07.00*FF"), Name: VoltageL3, Class: obis.ClassVoltage},
		{Code: obis.MustParse("33.07.00*FF"), Name: CurrentL2, Class: obis.ClassCurrent},
		{Code: obis.MustParse("47.07.00*FF"), Name: CurrentL3, Class: obis.ClassCurrent},
		{Code: obis.MustParse("38.07.00*FF"), Name: ActivePowerL2, Class: obis.ClassPower},
		{Code: obis.MustParse("4C.07.00*FF"), Name: ActivePowerL3, Class: obis.ClassPower},
	}
}

// Power factor codes, decoded either as a load-character tagged field
// (MT 3xx) or a bare ratio (MT 324).
func powerFactorEntries(class obis.Class) []obis.Entry {
	return []obis.Entry{
		{Code: obis.MustParse("21.07.FF*FF"), Name: PowerFactorL1, Class: class},
		{Code: obis.MustParse("35.07.FF*FF"), Name: PowerFactorL2, Class: class},
		{Code: obis.MustParse("49.07.FF*FF"), Name: PowerFactorL3, Class: class},
	}
}

// Reactive power registers of the R meter variants.
func reactivePowerEntries() []obis.Entry {
	return []obis.Entry{
		{Code: obis.MustParse("17.07.01*FF"), Name: PosReactiveL1, Class: obis.ClassPower},
		{Code: obis.MustParse("18.07.01*FF"), Name: NegReactiveL1, Class: obis.ClassPower},
		{Code: obis.MustParse("2B.07.01*FF"), Name: PosReactiveL2, Class: obis.ClassPower},
		{Code: obis.MustParse("2C.07.01*FF"), Name: NegReactiveL2, Class: obis.ClassPower},
		{Code: obis.MustParse("3F.07.01*FF"), Name: PosReactiveL3, Class: obis.ClassPower},
		{Code: obis.MustParse("40.07.01*FF"), Name: NegReactiveL3, Class: obis.ClassPower},
		{Code: obis.MustParse("03.07.01*FF"), Name: PosReactiveSum, Class: obis.ClassPower},
		{Code: obis.MustParse("04.07.01*FF"), Name: NegReactiveSum, Class: obis.ClassPower},
	}
}

func statusEntries() []obis.Entry {
	return []obis.Entry{
		{Code: obis.MustParse("60.05.00*FF"), Name: Status, Class: obis.ClassStatus},
	}
}

func merged(groups ...[]obis.Entry) []obis.Entry {
	var all []obis.Entry
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

var (
	// nevaMT1: single-phase MT 1xx. The power registers report kW, so the
	// power class is scaled up to W to match the three-phase families.
	nevaMT1 = &Profile{
		Name:     "NevaMT1",
		Phases:   1,
		ReadVerb: 'R',
		Scales:   Scales{Energy: 1, Voltage: 1, Current: 1, Power: 1000, Frequency: 1},
		registry: obis.NewRegistry(merged(baseEntries(),
			powerFactorEntries(obis.ClassPowerFactorTagged)[:1])),
	}

	// nevaMT3: three-phase MT 3xx.
	nevaMT3 = &Profile{
		Name:     "NevaMT3",
		Phases:   3,
		ReadVerb: 'R',
		Scales:   Scales{Energy: 1, Voltage: 1, Current: 1, Power: 1, Frequency: 1},
		registry: obis.NewRegistry(merged(baseEntries(), threePhaseEntries(),
			powerFactorEntries(obis.ClassPowerFactorTagged))),
	}

	// nevaMT3R: MT 3xx with the reactive power registers.
	nevaMT3R = &Profile{
		Name:     "NevaMT3R",
		Phases:   3,
		ReadVerb: 'R',
		Scales:   Scales{Energy: 1, Voltage: 1, Current: 1, Power: 1, Frequency: 1},
		registry: obis.NewRegistry(merged(baseEntries(), threePhaseEntries(),
			powerFactorEntries(obis.ClassPowerFactorTagged), reactivePowerEntries())),
	}

	// nevaMT324: MT 324 family, adds the status word register and reports
	// power factors as bare ratios.
	nevaMT324 = &Profile{
		Name:     "NevaMT324",
		Phases:   3,
		ReadVerb: 'R',
		Scales:   Scales{Energy: 1, Voltage: 1, Current: 1, Power: 1, Frequency: 1},
		registry: obis.NewRegistry(merged(baseEntries(), threePhaseEntries(),
			powerFactorEntries(obis.ClassPowerFactor), statusEntries())),
	}

	// nevaMT324R: MT 324 with the reactive power registers.
	nevaMT324R = &Profile{
		Name:     "NevaMT324R",
		Phases:   3,
		ReadVerb: 'R',
		Scales:   Scales{Energy: 1, Voltage: 1, Current: 1, Power: 1, Frequency: 1},
		registry: obis.NewRegistry(merged(baseEntries(), threePhaseEntries(),
			powerFactorEntries(obis.ClassPowerFactor), statusEntries(), reactivePowerEntries())),
	}
)

// patterns is a closed table matched against the identification string,
// first match wins. More specific prefixes come first.
var patterns = []struct {
	prefix  string
	profile *Profile
}{
	{"NEVAMT324", nevaMT324},
	{"NEVAMT3", nevaMT3},
	{"NEVAMT1", nevaMT1},
}

// Select picks the profile for an identification string. A name passed as
// hint ("NevaMT1", "NevaMT3", "NevaMT3R", "NevaMT324", "NevaMT324R")
// bypasses the pattern match. The identification string does not disclose
// reactive power support, so the R variants are hint-only.
func Select(identifier, hint string) (*Profile, error) {
	if hint != "" {
		for _, p := range []*Profile{nevaMT1, nevaMT3, nevaMT3R, nevaMT324, nevaMT324R} {
			if strings.EqualFold(p.Name, hint) {
				return p, nil
			}
		}
		return nil, fmt.Errorf("%w: no profile named %q", ErrUnknownModel, hint)
	}
	for _, m := range patterns {
		if strings.HasPrefix(identifier, m.prefix) {
			return m.profile, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, identifier)
}

// Default is the documented fallback profile for unmatched identifiers.
func Default() *Profile {
	return nevaMT3
}

// modelNames maps the model part of the identifier (six characters after
// the NEVAMT prefix) to the marketing model name.
var modelNames = map[string]string{
	"113.23": "NEVA MT 113 AS OP",
	"114.25": "NEVA MT 114 AS E4PC",
	"123.23": "NEVA MT 123 AS OP",
	"124.24": "NEVA MT 124 AS O",
	"314.13": "NEVA MT 314 AR E4S",
	"323.11": "NEVA MT 323 AR E4S",
	"324.11": "NEVA MT 324 AR E4S",
	"324.25": "NEVA MT 324 AO S",
}

// ModelName resolves the human readable model from the identifier, or
// the identifier itself when unknown.
func ModelName(identifier string) string {
	if strings.HasPrefix(identifier, "NEVAMT") && len(identifier) >= 12 {
		if name, ok := modelNames[identifier[6:12]]; ok {
			return name
		}
	}
	return identifier
}
