package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnemirovsky/goneva/pkg/obis"
)

func TestSelect(t *testing.T) {
	p, err := Select("NEVAMT324.1106", "")
	require.NoError(t, err)
	assert.Equal(t, "NevaMT324", p.Name)
	assert.Equal(t, 3, p.Phases)

	p, err = Select("NEVAMT314.1302", "")
	require.NoError(t, err)
	assert.Equal(t, "NevaMT3", p.Name)

	p, err = Select("NEVAMT123.2302", "")
	require.NoError(t, err)
	assert.Equal(t, "NevaMT1", p.Name)
	assert.Equal(t, 1, p.Phases)
}

func TestSelectUnknown(t *testing.T) {
	_, err := Select("EM72000656621", "")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSelectHint(t *testing.T) {
	p, err := Select("EM72000656621", "NevaMT3")
	require.NoError(t, err)
	assert.Equal(t, "NevaMT3", p.Name)

	_, err = Select("EM72000656621", "NevaMT9")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "NevaMT3", Default().Name)
}

func TestSupportedCodes(t *testing.T) {
	single, err := Select("NEVAMT124.2405", "")
	require.NoError(t, err)
	three, err := Select("NEVAMT324.1106", "")
	require.NoError(t, err)

	l2 := obis.MustParse("34.07.00*FF")
	_, ok := single.Lookup(l2)
	assert.False(t, ok, "single-phase profile must not expose L2 voltage")
	_, ok = three.Lookup(l2)
	assert.True(t, ok)

	// Status word is MT 324 only.
	status := obis.MustParse("60.05.00*FF")
	_, ok = three.Lookup(status)
	assert.True(t, ok)
	mt3, err := Select("NEVAMT314.1302", "")
	require.NoError(t, err)
	_, ok = mt3.Lookup(status)
	assert.False(t, ok)
}

func TestPowerFactorForms(t *testing.T) {
	l1 := obis.MustParse("21.07.FF*FF")

	three, err := Select("NEVAMT314.1302", "")
	require.NoError(t, err)
	e, ok := three.Lookup(l1)
	require.True(t, ok)
	assert.Equal(t, obis.ClassPowerFactorTagged, e.Class)

	mt324, err := Select("NEVAMT324.1106", "")
	require.NoError(t, err)
	e, ok = mt324.Lookup(l1)
	require.True(t, ok)
	assert.Equal(t, obis.ClassPowerFactor, e.Class)

	single, err := Select("NEVAMT124.2405", "")
	require.NoError(t, err)
	_, ok = single.Lookup(l1)
	assert.True(t, ok)
	_, ok = single.Lookup(obis.MustParse("35.07.FF*FF"))
	assert.False(t, ok, "single-phase profile must not expose L2 power factor")
}

// The identification string does not disclose reactive power support, so
// the R profiles are reachable through the hint only.
func TestReactivePowerHintOnly(t *testing.T) {
	posL1 := obis.MustParse("17.07.01*FF")

	mt3, err := Select("NEVAMT314.1302", "")
	require.NoError(t, err)
	_, ok := mt3.Lookup(posL1)
	assert.False(t, ok)

	mt3r, err := Select("NEVAMT314.1302", "NevaMT3R")
	require.NoError(t, err)
	_, ok = mt3r.Lookup(posL1)
	assert.True(t, ok)
	_, ok = mt3r.ByName(NegReactiveSum)
	assert.True(t, ok)

	mt324r, err := Select("NEVAMT324.1106", "NevaMT324R")
	require.NoError(t, err)
	_, ok = mt324r.Lookup(posL1)
	assert.True(t, ok)
	_, ok = mt324r.Lookup(obis.MustParse("60.05.00*FF"))
	assert.True(t, ok)
}

func TestScales(t *testing.T) {
	single, err := Select("NEVAMT124.2405", "")
	require.NoError(t, err)
	assert.Equal(t, float64(1000), single.Scale(obis.ClassPower))
	assert.Equal(t, float64(1), single.Scale(obis.ClassEnergy))
	assert.Equal(t, float64(1), single.Scale(obis.ClassText))
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "NEVA MT 324 AR E4S", ModelName("NEVAMT324.1106"))
	assert.Equal(t, "NEVA MT 123 AS OP", ModelName("NEVAMT123.2302"))
	assert.Equal(t, "EM72000656621", ModelName("EM72000656621"))
}
