package session

import (
	"errors"
	"sort"
	"time"

	"github.com/nnemirovsky/goneva/pkg/meter"
	"github.com/nnemirovsky/goneva/pkg/obis"
	"github.com/nnemirovsky/goneva/pkg/profile"
)

// Typed accessors over the generic Read. Multi-phase quantities issue
// one read per phase in the profile's field order; phases absent from a
// single-phase profile report zero.

// TotalEnergy reads cumulative active energy (total, T1..T4) [kWh].
func (s *Session) TotalEnergy() (meter.ActiveEnergy, error) {
	return s.energy(profile.TotalEnergy)
}

// EnergyPrevMonth reads cumulative active energy at the start of the
// current month [kWh].
func (s *Session) EnergyPrevMonth() (meter.ActiveEnergy, error) {
	return s.energy(profile.EnergyPrevMonth)
}

// EnergyPrevDay reads cumulative active energy at the start of the
// current day [kWh].
func (s *Session) EnergyPrevDay() (meter.ActiveEnergy, error) {
	return s.energy(profile.EnergyPrevDay)
}

// EnergyLastMonth computes active energy consumed since the start of the
// current month: the cumulative register minus its start-of-month
// snapshot, tariff-wise.
func (s *Session) EnergyLastMonth() (meter.ActiveEnergy, error) {
	total, err := s.energy(profile.TotalEnergy)
	if err != nil {
		return meter.ActiveEnergy{}, err
	}
	prev, err := s.energy(profile.EnergyPrevMonth)
	if err != nil {
		return meter.ActiveEnergy{}, err
	}
	return total.Sub(prev), nil
}

// EnergyLastDay computes active energy consumed since the start of the
// current day.
func (s *Session) EnergyLastDay() (meter.ActiveEnergy, error) {
	total, err := s.energy(profile.TotalEnergy)
	if err != nil {
		return meter.ActiveEnergy{}, err
	}
	prev, err := s.energy(profile.EnergyPrevDay)
	if err != nil {
		return meter.ActiveEnergy{}, err
	}
	return total.Sub(prev), nil
}

func (s *Session) energy(name string) (meter.ActiveEnergy, error) {
	v, err := s.ReadNamed(name)
	if err != nil {
		return meter.ActiveEnergy{}, err
	}
	return v.(meter.ActiveEnergy), nil
}

// Voltage reads the instantaneous per-phase voltages [V].
func (s *Session) Voltage() (meter.Voltage, error) {
	vals, err := s.phases(profile.VoltageL1, profile.VoltageL2, profile.VoltageL3)
	if err != nil {
		return meter.Voltage{}, err
	}
	return meter.Voltage{L1: vals[0], L2: vals[1], L3: vals[2]}, nil
}

// Current reads the instantaneous per-phase currents [A].
func (s *Session) Current() (meter.Current, error) {
	vals, err := s.phases(profile.CurrentL1, profile.CurrentL2, profile.CurrentL3)
	if err != nil {
		return meter.Current{}, err
	}
	return meter.Current{L1: vals[0], L2: vals[1], L3: vals[2]}, nil
}

// ActivePower reads per-phase active power plus the meter's sum
// register [W].
func (s *Session) ActivePower() (meter.ActivePower, error) {
	vals, err := s.phases(profile.ActivePowerL1, profile.ActivePowerL2, profile.ActivePowerL3)
	if err != nil {
		return meter.ActivePower{}, err
	}
	sum, err := s.ReadNamed(profile.ActivePowerSum)
	if err != nil {
		return meter.ActivePower{}, err
	}
	return meter.ActivePower{L1: vals[0], L2: vals[1], L3: vals[2], Total: sum.(float64)}, nil
}

// PowerFactor reads the per-phase power factors. MT 3xx values carry a
// load-character prefix, MT 324 values are bare ratios; phases absent
// from a single-phase profile stay empty.
func (s *Session) PowerFactor() (meter.PowerFactor, error) {
	var out meter.PowerFactor
	dst := [3]*string{&out.L1, &out.L2, &out.L3}
	names := [3]string{profile.PowerFactorL1, profile.PowerFactorL2, profile.PowerFactorL3}
	for i, name := range names {
		v, err := s.ReadNamed(name)
		if err != nil {
			if errors.Is(err, ErrUnsupportedCode) {
				continue
			}
			return meter.PowerFactor{}, err
		}
		*dst[i] = v.(string)
	}
	return out, nil
}

// ReactivePower reads the positive and negative reactive power registers
// of R-variant profiles [var].
func (s *Session) ReactivePower() (meter.ReactivePower, error) {
	var out meter.ReactivePower
	reads := []struct {
		name string
		dst  *float64
	}{
		{profile.PosReactiveL1, &out.PositiveL1},
		{profile.NegReactiveL1, &out.NegativeL1},
		{profile.PosReactiveL2, &out.PositiveL2},
		{profile.NegReactiveL2, &out.NegativeL2},
		{profile.PosReactiveL3, &out.PositiveL3},
		{profile.NegReactiveL3, &out.NegativeL3},
		{profile.PosReactiveSum, &out.PositiveTotal},
		{profile.NegReactiveSum, &out.NegativeTotal},
	}
	for _, r := range reads {
		v, err := s.ReadNamed(r.name)
		if err != nil {
			return meter.ReactivePower{}, err
		}
		*r.dst = v.(float64)
	}
	return out, nil
}

// phases reads up to three per-phase registers in order, substituting
// zero for registers the profile does not expose.
func (s *Session) phases(names ...string) ([3]float64, error) {
	var vals [3]float64
	for i, name := range names {
		v, err := s.ReadNamed(name)
		if err != nil {
			if errors.Is(err, ErrUnsupportedCode) {
				continue
			}
			return vals, err
		}
		vals[i] = v.(float64)
	}
	return vals, nil
}

// SeasonSchedules reads the season schedule table. An empty response is
// a valid empty table.
func (s *Session) SeasonSchedules() ([]meter.SeasonSchedule, error) {
	v, err := s.ReadNamed(profile.SeasonSchedules)
	if err != nil {
		return nil, err
	}
	return v.([]meter.SeasonSchedule), nil
}

// SpecialDaySchedules reads the special day table.
func (s *Session) SpecialDaySchedules() ([]meter.SpecialDaySchedule, error) {
	v, err := s.ReadNamed(profile.SpecialDays)
	if err != nil {
		return nil, err
	}
	return v.([]meter.SpecialDaySchedule), nil
}

// TariffSchedules reads every tariff schedule referenced by previously
// read season and special day schedules, schedule 1 when none were
// referenced yet. Empty schedules are dropped.
func (s *Session) TariffSchedules() ([]meter.TariffSchedule, error) {
	nums := make([]int, 0, len(s.usedSkd))
	for n := range s.usedSkd {
		if n > 0 {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		nums = append(nums, 1)
	}
	sort.Ints(nums)

	var out []meter.TariffSchedule
	for _, n := range nums {
		code := obis.Code{Group: 0x0A, Register: byte(n), Kind: 0x64, Tariff: obis.WildTariff}
		v, err := s.Read(code)
		if err != nil {
			return nil, err
		}
		if skd := v.(meter.TariffSchedule); len(skd.Parts) > 0 {
			out = append(out, skd)
		}
	}
	return out, nil
}

// Frequency reads the supply frequency [Hz].
func (s *Session) Frequency() (float64, error) {
	v, err := s.ReadNamed(profile.Frequency)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Temperature reads the meter temperature [°C].
func (s *Session) Temperature() (int, error) {
	v, err := s.ReadNamed(profile.Temperature)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Status reads the decoded status word. Only MT 324 profiles expose it.
func (s *Session) Status() (meter.StatusFlags, error) {
	v, err := s.ReadNamed(profile.Status)
	if err != nil {
		return nil, err
	}
	return v.(meter.StatusFlags), nil
}

// DateTime reads the meter's current date and time.
func (s *Session) DateTime() (time.Time, error) {
	v, err := s.ReadNamed(profile.DateTime)
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}
