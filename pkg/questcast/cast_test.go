package questcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultMirrorConfig() MirrorConfig {
	return MirrorConfig{
		RenderDriver: defaultRenderDriver,
		Crop:         defaultCrop,
		Bitrate:      defaultBitrate,
		MaxSize:      defaultMaxSize,
		VideoCodec:   defaultVideoCodec,
		VideoEncoder: defaultVideoEncoder,
		NoAudio:      defaultNoAudio,
		NoControl:    defaultNoControl,
	}
}

func TestBuildMirrorArgs(t *testing.T) {
	base := []string{
		"--render-driver", "opengl",
		"--crop", "1600:900:2017:510",
		"-b", "4M",
		"--max-size", "1024",
		"--video-codec", "h264",
		"--video-encoder", "OMX.qcom.video.encoder.avc",
		"--no-audio",
		"-n",
	}

	t.Run("with serial", func(t *testing.T) {
		args := buildMirrorArgs("192.168.1.34:5555", defaultMirrorConfig())
		assert.Equal(t, append([]string{"-s", "192.168.1.34:5555"}, base...), args)
	})

	t.Run("without serial", func(t *testing.T) {
		args := buildMirrorArgs("", defaultMirrorConfig())
		assert.Equal(t, base, args)
	})

	t.Run("audio and control enabled", func(t *testing.T) {
		mirror := defaultMirrorConfig()
		mirror.NoAudio = false
		mirror.NoControl = false

		args := buildMirrorArgs("serial", mirror)
		assert.Equal(t, "OMX.qcom.video.encoder.avc", args[len(args)-1])
		assert.NotContains(t, args, "--no-audio")
		assert.NotContains(t, args, "-n")
	})
}

func TestLaunchRefusals(t *testing.T) {
	usbAuthorized := Device{Transport: TransportUSB, State: StateAuthorized, Serial: "1WMHH812345678"}
	usbUnauthorized := Device{Transport: TransportUSB, State: StateUnauthorized, Serial: "1WMHH812345678"}
	usbOffline := Device{Transport: TransportUSB, State: StateOffline, Serial: "1WMHH812345678"}

	for _, tt := range []struct {
		name       string
		device     Device
		wifiSerial string
		path       string
		wantErr    error
	}{
		{
			name:    "unauthorized device",
			device:  usbUnauthorized,
			path:    "scrcpy",
			wantErr: ErrNotAuthorized,
		},
		{
			name:    "nothing attached",
			device:  noDevice,
			path:    "scrcpy",
			wantErr: ErrNotConnected,
		},
		{
			name:    "offline device",
			device:  usbOffline,
			path:    "scrcpy",
			wantErr: ErrNotConnected,
		},
		{
			name:    "executable missing",
			device:  usbAuthorized,
			path:    "",
			wantErr: ErrMirrorNotFound,
		},
		{
			// a live Wi-Fi serial skips the readiness checks, so the only
			// thing left to refuse on is the executable
			name:       "wifi serial outranks device state",
			device:     usbUnauthorized,
			wifiSerial: "192.168.1.34:5555",
			path:       "",
			wantErr:    ErrMirrorNotFound,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			qc := newTestQuestCast(&fakeADB{})
			qc.caster.path = tt.path

			err := qc.caster.Launch(tt.device, tt.wifiSerial)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLaunchStartsDetachedProcess(t *testing.T) {
	skipWithoutShell(t)

	qc := newTestQuestCast(&fakeADB{})
	script, outPath := castArgvScript(t)
	qc.caster.path = script

	device := Device{Transport: TransportUSB, State: StateAuthorized, Serial: "1WMHH812345678"}
	require.NoError(t, qc.caster.Launch(device, ""))

	argv := readArgvFile(t, outPath)
	require.GreaterOrEqual(t, len(argv), 2)
	assert.Equal(t, []string{"-s", "1WMHH812345678"}, argv[:2])
}

func TestLaunchReportsUnresolvableExecutable(t *testing.T) {
	skipWithoutShell(t)

	// an empty PATH makes the bare name unresolvable no matter the machine
	t.Setenv("PATH", t.TempDir())

	qc := newTestQuestCast(&fakeADB{})
	qc.caster.path = "definitely-not-a-mirroring-tool"

	device := Device{Transport: TransportUSB, State: StateAuthorized, Serial: "1WMHH812345678"}
	err := qc.caster.Launch(device, "")

	require.ErrorIs(t, err, ErrMirrorNotFound)
}

func TestLaunchUsesWifiSerialOverDeviceSerial(t *testing.T) {
	skipWithoutShell(t)

	qc := newTestQuestCast(&fakeADB{})
	script, outPath := castArgvScript(t)
	qc.caster.path = script

	device := Device{Transport: TransportUSB, State: StateAuthorized, Serial: "1WMHH812345678"}
	require.NoError(t, qc.caster.Launch(device, "192.168.1.34:5555"))

	argv := readArgvFile(t, outPath)
	require.GreaterOrEqual(t, len(argv), 2)
	assert.Equal(t, []string{"-s", "192.168.1.34:5555"}, argv[:2])
}
