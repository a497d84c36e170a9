package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnemirovsky/goneva/pkg/frame"
	"github.com/nnemirovsky/goneva/pkg/meter"
	"github.com/nnemirovsky/goneva/pkg/obis"
)

// fakePort scripts a meter: each write pops the next canned response
// into the receive buffer. An exhausted script reads as silence, which
// exercises the timeout paths.
type fakePort struct {
	mu        sync.Mutex
	responses [][]byte
	rx        []byte
	writes    [][]byte
	speeds    []uint
	closed    int
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	if len(f.responses) > 0 {
		f.rx = append(f.rx, f.responses[0]...)
		f.responses = f.responses[1:]
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	if len(f.rx) == 0 {
		f.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakePort) SetSpeed(baud uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speeds = append(f.speeds, baud)
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func testOptions() Options {
	return Options{Timeout: 30 * time.Millisecond}
}

// handshakeScript is the canned exchange for a successful MT 324
// connect: identification, password challenge, mode entry ACK.
func handshakeScript() [][]byte {
	return [][]byte{
		[]byte("/TPC5NEVAMT324.1106\r\n"),
		[]byte("\x01P0\x02(00000000)\x03`"),
		{frame.ACK},
	}
}

func established(t *testing.T, extra ...[]byte) (*Session, *fakePort) {
	t.Helper()
	port := &fakePort{responses: append(handshakeScript(), extra...)}
	sess, err := Establish(port, testOptions())
	require.NoError(t, err)
	return sess, port
}

func TestEstablish(t *testing.T) {
	sess, port := established(t)

	assert.Equal(t, Ready, sess.State())
	assert.Equal(t, "NevaMT324", sess.Profile().Name)
	assert.Equal(t, "NEVA MT 324 AR E4S", sess.ModelName())

	require.Len(t, port.writes, 3)
	assert.Equal(t, []byte("/?!\r\n"), port.writes[0])
	assert.Equal(t, []byte("\x06051\r\n"), port.writes[1])
	assert.Equal(t, []byte("\x01P1\x02(00000000)\x03a"), port.writes[2])
	assert.Equal(t, []uint{9600}, port.speeds)
}

func TestEstablishWithBusAddress(t *testing.T) {
	opts := testOptions()
	opts.Address = "00153398"
	port := &fakePort{responses: handshakeScript()}
	_, err := Establish(port, opts)
	require.NoError(t, err)
	assert.Equal(t, []byte("/?00153398!\r\n"), port.writes[0])
}

func TestHandshakeTimeout(t *testing.T) {
	port := &fakePort{}
	_, err := Establish(port, testOptions())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)

	// One identification request per retry, transport closed exactly once.
	assert.Len(t, port.writes, defaultRetries)
	assert.Equal(t, 1, port.closed)
}

func TestUnknownModel(t *testing.T) {
	port := &fakePort{responses: [][]byte{[]byte("/SAT5EM72000656621\r\n")}}
	_, err := Establish(port, testOptions())
	assert.Error(t, err)
	assert.Equal(t, 1, port.closed)
}

func TestFallbackProfile(t *testing.T) {
	script := handshakeScript()
	script[0] = []byte("/SAT5EM72000656621\r\n")
	opts := testOptions()
	opts.FallbackProfile = true
	sess, err := Establish(&fakePort{responses: script}, opts)
	require.NoError(t, err)
	assert.Equal(t, "NevaMT3", sess.Profile().Name)
}

func TestModeEntryNAK(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		[]byte("/TPC5NEVAMT324.1106\r\n"),
		[]byte("\x01P0\x02(00000000)\x03`"),
		{frame.NAK},
		{frame.NAK},
		{frame.NAK},
	}}
	_, err := Establish(port, testOptions())
	assert.ErrorIs(t, err, ErrModeEntryTimeout)
	assert.Equal(t, 1, port.closed)
}

// A silent meter after the speed switch gets the option message re-sent
// before the handshake gives up.
func TestModeEntryChallengeRetried(t *testing.T) {
	port := &fakePort{responses: [][]byte{
		[]byte("/TPC5NEVAMT324.1106\r\n"),
		{},
		[]byte("\x01P0\x02(00000000)\x03`"),
		{frame.ACK},
	}}
	sess, err := Establish(port, testOptions())
	require.NoError(t, err)
	assert.Equal(t, Ready, sess.State())

	require.Len(t, port.writes, 4)
	assert.Equal(t, []byte("\x06051\r\n"), port.writes[1])
	assert.Equal(t, []byte("\x06051\r\n"), port.writes[2])
}

func TestModeEntryChallengeNeverArrives(t *testing.T) {
	port := &fakePort{responses: [][]byte{[]byte("/TPC5NEVAMT324.1106\r\n")}}
	_, err := Establish(port, testOptions())
	assert.ErrorIs(t, err, ErrModeEntryTimeout)

	// The identification request plus one option message per attempt.
	assert.Len(t, port.writes, 1+defaultRetries)
	assert.Equal(t, 1, port.closed)
}

func TestReadTotalEnergy(t *testing.T) {
	fields := []string{"016484.51", "012896.28", "003588.23", "000000.00", "000000.00"}
	sess, port := established(t, frame.MakeData("0F0880FF", fields))

	got, err := sess.TotalEnergy()
	require.NoError(t, err)
	assert.Equal(t, meter.ActiveEnergy{Total: 16484.51, T1: 12896.28, T2: 3588.23}, got)

	assert.Equal(t, []byte("\x01R1\x020F0880FF()\x03\x15"), port.writes[3])
	assert.Equal(t, Ready, sess.State())
}

func TestReadUnsupportedCodeDoesNoIO(t *testing.T) {
	sess, port := established(t)
	writesBefore := len(port.writes)

	_, err := sess.Read(obis.MustParse("99.99.99*FF"))
	assert.ErrorIs(t, err, ErrUnsupportedCode)
	assert.Len(t, port.writes, writesBefore)
	assert.Equal(t, Ready, sess.State())
}

func TestReadRetriesOnChecksum(t *testing.T) {
	good := frame.MakeData("20070000", []string{"0229.31"})
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	sess, port := established(t, bad, good)
	v, err := sess.Read(obis.MustParse("20.07.00*FF"))
	require.NoError(t, err)
	assert.InDelta(t, 229.31, v.(float64), 1e-9)

	// Handshake takes three writes; the read took two attempts.
	assert.Len(t, port.writes, 5)
	assert.Equal(t, Ready, sess.State())
}

func TestReadFailsAfterRetries(t *testing.T) {
	sess, port := established(t, []byte{frame.NAK}, []byte{frame.NAK}, []byte{frame.NAK})

	_, err := sess.Read(obis.MustParse("20.07.00*FF"))
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, obis.MustParse("20.07.00*FF"), readErr.Code)

	assert.Len(t, port.writes, 6)
	assert.Equal(t, Ready, sess.State())
	assert.Equal(t, 0, port.closed)
}

func TestReadTimeoutLeavesSessionReady(t *testing.T) {
	sess, _ := established(t)

	_, err := sess.Read(obis.MustParse("20.07.00*FF"))
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, Ready, sess.State())

	// The session is still usable after a failed read.
	require.NoError(t, sess.Close())
	assert.Equal(t, Closed, sess.State())
}

func TestDecodeErrorNotRetried(t *testing.T) {
	sess, port := established(t, frame.MakeData("20070000", []string{"not-a-number"}))

	_, err := sess.Read(obis.MustParse("20.07.00*FF"))
	assert.ErrorIs(t, err, meter.ErrMalformedValue)
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.NotEmpty(t, readErr.Payload)

	// One handshake plus exactly one command: malformed payloads are
	// not re-requested.
	assert.Len(t, port.writes, 4)
}

func TestEmptySpecialDays(t *testing.T) {
	sess, _ := established(t, frame.MakeData("0B0000FF", nil))

	days, err := sess.SpecialDaySchedules()
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestTariffSchedulesFollowSeasonReferences(t *testing.T) {
	sess, _ := established(t,
		frame.MakeData("0D0000FF", []string{"0101010102"}),
		frame.MakeData("0A0164FF", []string{"070001", "230002"}),
		frame.MakeData("0A0264FF", []string{"000000"}),
	)

	seasons, err := sess.SeasonSchedules()
	require.NoError(t, err)
	require.Len(t, seasons, 1)

	// Season referenced schedules 1 and 2; schedule 2 is empty and
	// dropped.
	skds, err := sess.TariffSchedules()
	require.NoError(t, err)
	require.Len(t, skds, 1)
	assert.Equal(t, []meter.TariffSchedulePart{
		{Hour: 7, Minute: 0, Tariff: 1},
		{Hour: 23, Minute: 0, Tariff: 2},
	}, skds[0].Parts)
}

func TestEnergyLastMonth(t *testing.T) {
	sess, _ := established(t,
		frame.MakeData("0F0880FF", []string{"016484.51", "012896.28", "003588.23", "000000.00", "000000.00"}),
		frame.MakeData("0F088000", []string{"016400.10", "012850.00", "003550.10", "000000.00", "000000.00"}),
	)

	got, err := sess.EnergyLastMonth()
	require.NoError(t, err)
	assert.Equal(t, meter.ActiveEnergy{Total: 84.41, T1: 46.28, T2: 38.13}, got)
}

func TestPowerFactorTaggedPhases(t *testing.T) {
	opts := testOptions()
	opts.ModelHint = "NevaMT3"
	port := &fakePort{responses: append(handshakeScript(),
		frame.MakeData("2107FFFF", []string{"00.85"}),
		frame.MakeData("3507FFFF", []string{"10.92"}),
		frame.MakeData("4907FFFF", []string{"00.99"}),
	)}
	sess, err := Establish(port, opts)
	require.NoError(t, err)

	pf, err := sess.PowerFactor()
	require.NoError(t, err)
	assert.Equal(t, meter.PowerFactor{L1: "C0.85", L2: "L0.92", L3: "C0.99"}, pf)
}

func TestPowerFactorBareRatio(t *testing.T) {
	sess, _ := established(t,
		frame.MakeData("2107FFFF", []string{"0.85"}),
		frame.MakeData("3507FFFF", []string{"0.92"}),
		frame.MakeData("4907FFFF", []string{"0.99"}),
	)

	pf, err := sess.PowerFactor()
	require.NoError(t, err)
	assert.Equal(t, meter.PowerFactor{L1: "0.85", L2: "0.92", L3: "0.99"}, pf)
}

func TestReactivePower(t *testing.T) {
	opts := testOptions()
	opts.ModelHint = "NevaMT3R"
	port := &fakePort{responses: append(handshakeScript(),
		frame.MakeData("170701FF", []string{"0011.1"}),
		frame.MakeData("180701FF", []string{"0022.2"}),
		frame.MakeData("2B0701FF", []string{"0033.3"}),
		frame.MakeData("2C0701FF", []string{"0044.4"}),
		frame.MakeData("3F0701FF", []string{"0055.5"}),
		frame.MakeData("400701FF", []string{"0066.6"}),
		frame.MakeData("030701FF", []string{"0077.7"}),
		frame.MakeData("040701FF", []string{"0088.8"}),
	)}
	sess, err := Establish(port, opts)
	require.NoError(t, err)

	rp, err := sess.ReactivePower()
	require.NoError(t, err)
	assert.Equal(t, meter.ReactivePower{
		PositiveL1: 11.1, NegativeL1: 22.2,
		PositiveL2: 33.3, NegativeL2: 44.4,
		PositiveL3: 55.5, NegativeL3: 66.6,
		PositiveTotal: 77.7, NegativeTotal: 88.8,
	}, rp)
}

func TestReactivePowerNeedsRProfile(t *testing.T) {
	sess, _ := established(t)
	_, err := sess.ReactivePower()
	assert.ErrorIs(t, err, ErrUnsupportedCode)
}

func TestSinglePhaseVoltageZeroFill(t *testing.T) {
	script := handshakeScript()
	script[0] = []byte("/TPC5NEVAMT124.2405\r\n")
	port := &fakePort{responses: append(script, frame.MakeData("20070000", []string{"0231.11"}))}
	sess, err := Establish(port, testOptions())
	require.NoError(t, err)

	v, err := sess.Voltage()
	require.NoError(t, err)
	assert.InDelta(t, 231.11, v.L1, 1e-9)
	assert.Zero(t, v.L2)
	assert.Zero(t, v.L3)
}

func TestCloseIsIdempotent(t *testing.T) {
	sess, port := established(t)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, port.closed)

	_, err := sess.Read(obis.MustParse("20.07.00*FF"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseSendsEndMessage(t *testing.T) {
	sess, port := established(t)
	require.NoError(t, sess.Close())
	assert.Equal(t, []byte("\x01B0\x03q"), port.writes[len(port.writes)-1])
}
