package questcast

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForDevice(t *testing.T, devices chan Device, match func(Device) bool) Device {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case device := <-devices:
			if match(device) {
				return device
			}
		case <-deadline:
			t.Fatal("device update didn't arrive in time")
			return noDevice
		}
	}
}

func nextCastEvent(t *testing.T, events chan CastEvent) CastEvent {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(time.Second):
		t.Fatal("no cast event")
		return CastEvent{}
	}
}

func TestSessionPollsUntilStopped(t *testing.T) {
	fa := &fakeADB{listing: listingAuthorized}
	qc := newTestQuestCast(fa)
	qc.config.RefreshIntervalMs = 50
	s := qc.session

	devices := s.SubscribeToDeviceUpdates()

	s.Start()

	device := waitForDevice(t, devices, func(d Device) bool { return d.IsAuthorized() })
	assert.True(t, device.IsUSB())

	// later listings show up without anyone asking
	fa.mu.Lock()
	fa.listing = listingWireless
	fa.mu.Unlock()

	device = waitForDevice(t, devices, func(d Device) bool { return d.IsWifi() })
	assert.Equal(t, "192.168.1.34:5555", device.Serial)

	s.Stop()

	fa.mu.Lock()
	polled := fa.listCalls
	fa.mu.Unlock()

	time.Sleep(150 * time.Millisecond)

	fa.mu.Lock()
	assert.Equal(t, polled, fa.listCalls, "polling continued after Stop")
	fa.mu.Unlock()
}

func TestLastWifiSerialSurvivesUSBOnlyListings(t *testing.T) {
	fa := &fakeADB{listing: listingWireless}
	qc := newTestQuestCast(fa)
	s := qc.session

	s.refresh()
	assert.Equal(t, "192.168.1.34:5555", s.lastWifiSerial)

	// the Wi-Fi row can drop out of a listing while the connection is only
	// momentarily down; the remembered serial must not go with it
	fa.mu.Lock()
	fa.listing = listingAuthorized
	fa.mu.Unlock()

	s.refresh()

	assert.True(t, s.current.IsUSB())
	assert.Equal(t, "192.168.1.34:5555", s.lastWifiSerial)
}

func TestDemoteTearsDownWireless(t *testing.T) {
	fa := &fakeADB{
		listing:                listingWireless,
		listingAfterDisconnect: listingAuthorized,
	}
	qc := newTestQuestCast(fa)
	s := qc.session

	s.refresh()
	require.True(t, s.current.IsWifi())
	require.Equal(t, "192.168.1.34:5555", s.lastWifiSerial)

	s.Demote()
	runNextOp(t, s)

	assert.Equal(t, []string{"192.168.1.34:5555"}, fa.disconnects)
	assert.Equal(t, 1, fa.usbCalls)
	assert.Empty(t, s.lastWifiSerial)
	assert.True(t, s.current.IsUSB())
}

func TestDemoteAbandonsInFlightPromotion(t *testing.T) {
	fa := &fakeADB{
		listing:                listingUnauthorized,
		listingAfterDisconnect: listingUnauthorized,
	}
	qc := newTestQuestCast(fa)
	s := qc.session

	s.BeginPromotion()
	runNextOp(t, s)
	require.NotNil(t, s.promo)

	s.Demote()
	runNextOp(t, s)

	assert.Nil(t, s.promo)
	assert.Equal(t, 1, fa.usbCalls)
}

func castArgvScript(t *testing.T) (string, string) {
	t.Helper()

	outPath := filepath.Join(t.TempDir(), "argv.txt")
	script := writeScript(t, fmt.Sprintf("printf '%%s\\n' \"$@\" > %q", outPath))

	return script, outPath
}

func readArgvFile(t *testing.T, outPath string) []string {
	t.Helper()

	require.Eventually(t, func() bool {
		_, err := os.Stat(outPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "mirroring process never wrote its argv")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCastTargetsWifiSerial(t *testing.T) {
	skipWithoutShell(t)

	fa := &fakeADB{listing: listingWireless}
	qc := newTestQuestCast(fa)
	s := qc.session

	script, outPath := castArgvScript(t)
	qc.caster.path = script

	events := s.SubscribeToCastEvents()

	s.refresh()
	s.Cast()
	runNextOp(t, s)

	require.NoError(t, nextCastEvent(t, events).Err)

	argv := readArgvFile(t, outPath)
	assert.Equal(t, []string{
		"-s", "192.168.1.34:5555",
		"--render-driver", "opengl",
		"--crop", "1600:900:2017:510",
		"-b", "4M",
		"--max-size", "1024",
		"--video-codec", "h264",
		"--video-encoder", "OMX.qcom.video.encoder.avc",
		"--no-audio",
		"-n",
	}, argv)
}

func TestCastFallsBackToRememberedSerial(t *testing.T) {
	skipWithoutShell(t)

	fa := &fakeADB{listing: listingAuthorized}
	qc := newTestQuestCast(fa)
	s := qc.session

	script, outPath := castArgvScript(t)
	qc.caster.path = script

	events := s.SubscribeToCastEvents()

	s.refresh()
	s.lastWifiSerial = "10.0.0.7:5555"

	s.Cast()
	runNextOp(t, s)

	require.NoError(t, nextCastEvent(t, events).Err)

	argv := readArgvFile(t, outPath)
	require.GreaterOrEqual(t, len(argv), 2)
	assert.Equal(t, []string{"-s", "10.0.0.7:5555"}, argv[:2])
}

func TestCastRefusedWhenUnauthorized(t *testing.T) {
	fa := &fakeADB{listing: listingUnauthorized}
	qc := newTestQuestCast(fa)
	qc.caster.path = "scrcpy"
	s := qc.session

	events := s.SubscribeToCastEvents()

	s.refresh()
	s.Cast()
	runNextOp(t, s)

	require.ErrorIs(t, nextCastEvent(t, events).Err, ErrNotAuthorized)
}

func TestCastRefusedWithoutDevice(t *testing.T) {
	fa := &fakeADB{listing: deviceListHeader + "\n"}
	qc := newTestQuestCast(fa)
	qc.caster.path = "scrcpy"
	s := qc.session

	events := s.SubscribeToCastEvents()

	s.refresh()
	s.Cast()
	runNextOp(t, s)

	require.ErrorIs(t, nextCastEvent(t, events).Err, ErrNotConnected)
}
