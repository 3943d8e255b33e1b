package questcast

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (rn *recordingNotifier) Notify(title string, message string) {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	rn.titles = append(rn.titles, title)
}

func (rn *recordingNotifier) recorded() []string {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	return append([]string(nil), rn.titles...)
}

func testLocalizer() *i18n.Localizer {
	return i18n.NewLocalizer(i18n.NewBundle(language.English), "en")
}

func newTestConfig(t *testing.T, contents string) (*CanonicalConfig, *recordingNotifier) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}

	notifier := &recordingNotifier{}

	config, err := NewConfig(zap.NewNop().Sugar(), notifier, path)
	require.NoError(t, err)

	return config, notifier
}

func TestConfigDefaultsWhenFileMissing(t *testing.T) {
	config, notifier := newTestConfig(t, "")

	require.NoError(t, config.Load(testLocalizer()))

	assert.Equal(t, defaultRefreshIntervalMs, config.RefreshIntervalMs)
	assert.Equal(t, defaultADBTimeoutMs, config.ADBTimeoutMs)
	assert.Equal(t, defaultWirelessPort, config.WirelessPort)
	assert.EqualValues(t, defaultAuthWaitMaxRetries, config.AuthWaitMaxRetries)
	assert.Equal(t, defaultExecutablePath, config.ADBPath)
	assert.Equal(t, defaultExecutablePath, config.MirrorPath)
	assert.Equal(t, defaultLanguage, config.Language)

	assert.Equal(t, MirrorConfig{
		RenderDriver: defaultRenderDriver,
		Crop:         defaultCrop,
		Bitrate:      defaultBitrate,
		MaxSize:      defaultMaxSize,
		VideoCodec:   defaultVideoCodec,
		VideoEncoder: defaultVideoEncoder,
		NoAudio:      defaultNoAudio,
		NoControl:    defaultNoControl,
	}, config.Mirror)

	assert.Empty(t, notifier.recorded())
}

func TestConfigLoadsUserValues(t *testing.T) {
	config, _ := newTestConfig(t, `
refresh_interval_ms: 1000
adb_timeout_ms: 2000
wireless_port: "4444"
auth_wait_max_retries: 30
adb_path: /opt/platform-tools/adb
scrcpy_path: /opt/scrcpy/scrcpy
language: he
mirror:
  render_driver: software
  crop: 1000:800:0:0
  bitrate: 8M
  max_size: 1600
  video_codec: h265
  video_encoder: OMX.test.encoder
  no_audio: false
  no_control: false
`)

	require.NoError(t, config.Load(testLocalizer()))

	assert.Equal(t, 1000, config.RefreshIntervalMs)
	assert.Equal(t, 2000, config.ADBTimeoutMs)
	assert.Equal(t, "4444", config.WirelessPort)
	assert.EqualValues(t, 30, config.AuthWaitMaxRetries)
	assert.Equal(t, "/opt/platform-tools/adb", config.ADBPath)
	assert.Equal(t, "/opt/scrcpy/scrcpy", config.MirrorPath)
	assert.Equal(t, "he", config.Language)

	assert.Equal(t, MirrorConfig{
		RenderDriver: "software",
		Crop:         "1000:800:0:0",
		Bitrate:      "8M",
		MaxSize:      1600,
		VideoCodec:   "h265",
		VideoEncoder: "OMX.test.encoder",
		NoAudio:      false,
		NoControl:    false,
	}, config.Mirror)

	assert.Equal(t, time.Second, config.RefreshInterval())
}

func TestConfigInvalidValuesFallBackPerKey(t *testing.T) {
	config, _ := newTestConfig(t, `
refresh_interval_ms: 100
adb_timeout_ms: 99999
wireless_port: "12"
adb_path: /opt/adb
mirror:
  render_driver: vulkan
  crop: 1600x900
  bitrate: 4G
  max_size: 100
  video_codec: vp9
  video_encoder: OMX.custom.encoder
  no_audio: false
`)

	require.NoError(t, config.Load(testLocalizer()))

	// every malformed value falls back on its own
	assert.Equal(t, defaultRefreshIntervalMs, config.RefreshIntervalMs)
	assert.Equal(t, defaultADBTimeoutMs, config.ADBTimeoutMs)
	assert.Equal(t, defaultWirelessPort, config.WirelessPort)
	assert.Equal(t, defaultRenderDriver, config.Mirror.RenderDriver)
	assert.Equal(t, defaultCrop, config.Mirror.Crop)
	assert.Equal(t, defaultBitrate, config.Mirror.Bitrate)
	assert.Equal(t, defaultMaxSize, config.Mirror.MaxSize)
	assert.Equal(t, defaultVideoCodec, config.Mirror.VideoCodec)

	// while valid neighbors stay untouched
	assert.Equal(t, "/opt/adb", config.ADBPath)
	assert.Equal(t, "OMX.custom.encoder", config.Mirror.VideoEncoder)
	assert.False(t, config.Mirror.NoAudio, "explicit false must not be clobbered by the default")
}

func TestConfigMalformedYAML(t *testing.T) {
	config, notifier := newTestConfig(t, "mirror: [\n")

	err := config.Load(testLocalizer())
	require.Error(t, err)

	titles := notifier.recorded()
	require.Len(t, titles, 1)
	assert.Equal(t, "Invalid configuration!", titles[0])
}

func TestConfigReloadOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh_interval_ms: 1000\n"), 0o644))

	notifier := &recordingNotifier{}
	config, err := NewConfig(zap.NewNop().Sugar(), notifier, path)
	require.NoError(t, err)
	require.NoError(t, config.Load(testLocalizer()))
	require.Equal(t, 1000, config.RefreshIntervalMs)

	reloaded := config.SubscribeToChanges()

	go config.WatchConfigFileChanges(testLocalizer())
	defer config.StopWatchingConfigFile()

	// the watcher ignores events arriving right after it starts; wait out
	// that window before touching the file
	time.Sleep(600 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("refresh_interval_ms: 3000\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("config reload never happened")
	}

	assert.Equal(t, 3000, config.RefreshIntervalMs)
	assert.Contains(t, notifier.recorded(), "Configuration reloaded!")
}
