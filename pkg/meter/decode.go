// Package meter decodes data-message payloads into typed quantity records.
// Decoders are pure: they take the value fields of an already
// checksum-verified response plus the profile scale and never touch I/O.
package meter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformedValue   = fmt.Errorf("meter: malformed value")
	ErrScheduleOverflow = fmt.Errorf("meter: too many schedule entries")
	ErrScheduleOrdering = fmt.Errorf("meter: schedule parts out of order")
)

// Protocol ceilings for schedule responses.
const (
	MaxSeasonSchedules = 12
	MaxSpecialDays     = 32
)

// Float decodes a single fixed-point decimal field and applies the
// profile scale for its quantity class.
func Float(field string, scale float64) (float64, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedValue, field)
	}
	return v * scale, nil
}

// Energy decodes the five-field active energy payload
// (total, T1, T2, T3, T4).
func Energy(fields []string, scale float64) (ActiveEnergy, error) {
	if len(fields) != 5 {
		return ActiveEnergy{}, fmt.Errorf("%w: want 5 energy fields, got %d", ErrMalformedValue, len(fields))
	}
	var vals [5]float64
	for i, f := range fields {
		v, err := Float(f, scale)
		if err != nil {
			return ActiveEnergy{}, err
		}
		vals[i] = v
	}
	return ActiveEnergy{Total: vals[0], T1: vals[1], T2: vals[2], T3: vals[3], T4: vals[4]}, nil
}

// SeasonSchedules decodes season schedule entries. Each field is ten
// digits MMDDWWSSUU; all-zero fields are padding. An empty payload is a
// valid empty schedule.
func SeasonSchedules(fields []string) ([]SeasonSchedule, error) {
	entries, err := scheduleEntries(fields, 5, MaxSeasonSchedules)
	if err != nil {
		return nil, err
	}
	out := make([]SeasonSchedule, 0, len(entries))
	for _, e := range entries {
		out = append(out, SeasonSchedule{
			Month:       e[0],
			Day:         e[1],
			WeekdaySkd:  e[2],
			SaturdaySkd: e[3],
			SundaySkd:   e[4],
		})
	}
	return out, nil
}

// SpecialDaySchedules decodes special day entries, six digits MMDDNN per
// field, at most MaxSpecialDays of them.
func SpecialDaySchedules(fields []string) ([]SpecialDaySchedule, error) {
	entries, err := scheduleEntries(fields, 3, MaxSpecialDays)
	if err != nil {
		return nil, err
	}
	out := make([]SpecialDaySchedule, 0, len(entries))
	for _, e := range entries {
		out = append(out, SpecialDaySchedule{Month: e[0], Day: e[1], Skd: e[2]})
	}
	return out, nil
}

// TariffScheduleParts decodes one tariff schedule, six digits HHMMTT per
// field. Parts must be in non-decreasing time order; consumers rely on
// sorted transitions.
func TariffScheduleParts(fields []string) (TariffSchedule, error) {
	entries, err := scheduleEntries(fields, 3, len(fields))
	if err != nil {
		return TariffSchedule{}, err
	}
	skd := TariffSchedule{}
	prev := -1
	for _, e := range entries {
		hour, minute, tariff := e[0], e[1], e[2]
		if hour > 23 || minute > 59 {
			return TariffSchedule{}, fmt.Errorf("%w: time %02d:%02d", ErrMalformedValue, hour, minute)
		}
		at := hour*60 + minute
		if at < prev {
			return TariffSchedule{}, fmt.Errorf("%w: %02d:%02d after later part", ErrScheduleOrdering, hour, minute)
		}
		prev = at
		skd.Parts = append(skd.Parts, TariffSchedulePart{Hour: hour, Minute: minute, Tariff: tariff})
	}
	return skd, nil
}

// scheduleEntries splits digit-pair fields into integer tuples of pairs
// values each, dropping all-zero padding entries and enforcing the
// protocol ceiling on real entries.
func scheduleEntries(fields []string, pairs, limit int) ([][]int, error) {
	var out [][]int
	for _, f := range fields {
		if f == "" || strings.Trim(f, "0") == "" {
			continue
		}
		if len(f) != pairs*2 {
			return nil, fmt.Errorf("%w: schedule field %q, want %d digits", ErrMalformedValue, f, pairs*2)
		}
		entry := make([]int, pairs)
		for i := 0; i < pairs; i++ {
			v, err := strconv.Atoi(f[i*2 : i*2+2])
			if err != nil {
				return nil, fmt.Errorf("%w: schedule field %q", ErrMalformedValue, f)
			}
			entry[i] = v
		}
		out = append(out, entry)
		if len(out) > limit {
			return nil, fmt.Errorf("%w: more than %d entries", ErrScheduleOverflow, limit)
		}
	}
	return out, nil
}

// Status decodes the 16-bit status word of MT 324 meters into named flags.
// Bit 7 of the word is reserved and skipped, matching the meter manual.
func Status(field string) (StatusFlags, error) {
	names := []string{
		"bodyIsOpen", "terminalCoverIsRemoved", "loadIsConnected", "loadIsDisconnected",
		"failedToChangeRelayStatus", "influenceOfMagneticField", "wrongWired",
		"dataMemoryICWorkError", "paramMemoryWorkError", "powerICError",
		"clockOrCalendarFailure", "batteryDischarge",
		"triggerOfButtonOfProgrammingPermission", "dataMemoryFailure", "paramMemoryFailure",
	}
	word, err := strconv.ParseUint(field, 16, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: status word %q", ErrMalformedValue, field)
	}
	flags := make(StatusFlags, len(names))
	for i, name := range names {
		bit := i
		if i >= 7 {
			bit = i + 1
		}
		flags[name] = word&(1<<(15-bit)) != 0
	}
	return flags, nil
}

// PowerFactorRatio decodes the bare power factor ratio MT 324 meters
// report, normalized through a float round trip.
func PowerFactorRatio(field string) (string, error) {
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return "", fmt.Errorf("%w: power factor %q", ErrMalformedValue, field)
	}
	return strconv.FormatFloat(v, 'g', -1, 64), nil
}

// PowerFactorTagged decodes the MT 3xx power factor field: the first
// digit selects the load character (0 capacitive, 1 inductive), the rest
// is the ratio.
func PowerFactorTagged(field string) (string, error) {
	if len(field) < 2 || field[0] < '0' || field[0] > '2' {
		return "", fmt.Errorf("%w: power factor %q", ErrMalformedValue, field)
	}
	chr := [...]string{"C", "L", "?"}[field[0]-'0']
	ratio, err := PowerFactorRatio(field[1:])
	if err != nil {
		return "", err
	}
	return chr + ratio, nil
}

// Temperature decodes the meter temperature field; a leading '1' marks a
// negative reading.
func Temperature(field string) (int, error) {
	if field == "" {
		return 0, fmt.Errorf("%w: empty temperature", ErrMalformedValue)
	}
	neg := field[0] == '1'
	v, err := strconv.Atoi(field[1:])
	if err != nil {
		return 0, fmt.Errorf("%w: temperature %q", ErrMalformedValue, field)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// Date decodes a YYMMDD field.
func Date(field string) (time.Time, error) {
	t, err := time.Parse("060102", field)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedValue, field)
	}
	return t, nil
}

// Clock decodes an HHMMSS field.
func Clock(field string) (time.Time, error) {
	t, err := time.Parse("150405", field)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformedValue, field)
	}
	return t, nil
}

// DateTime decodes a YYMMDDHHMMSS field.
func DateTime(field string) (time.Time, error) {
	t, err := time.Parse("060102150405", field)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: datetime %q", ErrMalformedValue, field)
	}
	return t, nil
}
