package meter

import "math"

// Quantity records decoded from data responses. All values are fresh,
// immutable snapshots; JSON tags serve the nevamon live API.

// ActiveEnergy is cumulative active energy: total plus the per-tariff
// accumulators T1..T4 [kWh].
type ActiveEnergy struct {
	Total float64 `json:"total"`
	T1    float64 `json:"t1"`
	T2    float64 `json:"t2"`
	T3    float64 `json:"t3"`
	T4    float64 `json:"t4"`
}

// Sub returns the tariff-wise difference e - o, rounded to the two
// decimal places the energy registers report.
func (e ActiveEnergy) Sub(o ActiveEnergy) ActiveEnergy {
	r := func(x float64) float64 { return math.Round(x*100) / 100 }
	return ActiveEnergy{
		Total: r(e.Total - o.Total),
		T1:    r(e.T1 - o.T1),
		T2:    r(e.T2 - o.T2),
		T3:    r(e.T3 - o.T3),
		T4:    r(e.T4 - o.T4),
	}
}

// Voltage holds instantaneous per-phase voltages [V].
type Voltage struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
}

// Current holds instantaneous per-phase currents [A].
type Current struct {
	L1 float64 `json:"l1"`
	L2 float64 `json:"l2"`
	L3 float64 `json:"l3"`
}

// ActivePower holds instantaneous per-phase active power and the meter's
// own sum register [W].
type ActivePower struct {
	L1    float64 `json:"l1"`
	L2    float64 `json:"l2"`
	L3    float64 `json:"l3"`
	Total float64 `json:"total"`
}

// PowerFactor holds per-phase power factors. MT 3xx meters report a
// load-character prefixed ratio ("C0.85" capacitive, "L0.92" inductive);
// MT 324 reports the bare ratio.
type PowerFactor struct {
	L1 string `json:"l1"`
	L2 string `json:"l2"`
	L3 string `json:"l3"`
}

// ReactivePower holds the positive and negative reactive power registers
// of R-variant meters, per phase plus the meter's sum registers [var].
type ReactivePower struct {
	PositiveL1    float64 `json:"positive_l1"`
	NegativeL1    float64 `json:"negative_l1"`
	PositiveL2    float64 `json:"positive_l2"`
	NegativeL2    float64 `json:"negative_l2"`
	PositiveL3    float64 `json:"positive_l3"`
	NegativeL3    float64 `json:"negative_l3"`
	PositiveTotal float64 `json:"positive_total"`
	NegativeTotal float64 `json:"negative_total"`
}

// SeasonSchedule maps an effective date to the tariff schedule numbers
// used on weekdays, Saturdays and Sundays from that date on.
type SeasonSchedule struct {
	Month       int `json:"month"`
	Day         int `json:"day"`
	WeekdaySkd  int `json:"weekday_skd_num"`
	SaturdaySkd int `json:"sat_skd_num"`
	SundaySkd   int `json:"sun_skd_num"`
}

// SpecialDaySchedule overrides the season schedule on a single date.
type SpecialDaySchedule struct {
	Month int `json:"month"`
	Day   int `json:"day"`
	Skd   int `json:"skd_num"`
}

// TariffSchedulePart marks the time of day from which a tariff applies.
type TariffSchedulePart struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Tariff int `json:"t_num"`
}

// TariffSchedule is an ordered sequence of tariff transitions for one day.
type TariffSchedule struct {
	Parts []TariffSchedulePart `json:"parts"`
}

// StatusFlags is the decoded meter status word.
type StatusFlags map[string]bool
