package questcast

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/loginvr/questcast/pkg/notify"
	"github.com/loginvr/questcast/pkg/questcast/util"
)

// MirrorConfig holds the parameters handed to the external mirroring process
type MirrorConfig struct {
	RenderDriver string
	Crop         string
	Bitrate      string
	MaxSize      int
	VideoCodec   string
	VideoEncoder string
	NoAudio      bool
	NoControl    bool
}

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for the user's configuration file
type CanonicalConfig struct {
	RefreshIntervalMs  int
	ADBTimeoutMs       int
	WirelessPort       string
	AuthWaitMaxRetries uint64
	ADBPath            string
	MirrorPath         string
	Language           string

	Mirror MirrorConfig

	logger   *zap.SugaredLogger
	notifier notify.Notifier

	userConfigPath     string
	stopWatcherChannel chan bool
	reloadConsumers    []chan bool
	userConfig         *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"
	configType         = "yaml"

	configKeyRefreshIntervalMs  = "refresh_interval_ms"
	configKeyADBTimeoutMs       = "adb_timeout_ms"
	configKeyWirelessPort       = "wireless_port"
	configKeyAuthWaitMaxRetries = "auth_wait_max_retries"
	configKeyADBPath            = "adb_path"
	configKeyMirrorPath         = "scrcpy_path"
	configKeyLanguage           = "language"
	configKeyRenderDriver       = "mirror.render_driver"
	configKeyCrop               = "mirror.crop"
	configKeyBitrate            = "mirror.bitrate"
	configKeyMaxSize            = "mirror.max_size"
	configKeyVideoCodec         = "mirror.video_codec"
	configKeyVideoEncoder       = "mirror.video_encoder"
	configKeyNoAudio            = "mirror.no_audio"
	configKeyNoControl          = "mirror.no_control"

	defaultRefreshIntervalMs  = 2000
	defaultADBTimeoutMs       = 4000
	defaultWirelessPort       = "5555"
	defaultAuthWaitMaxRetries = 0
	defaultExecutablePath     = "auto"
	defaultLanguage           = "auto"

	defaultRenderDriver = "opengl"
	defaultCrop         = "1600:900:2017:510"
	defaultBitrate      = "4M"
	defaultMaxSize      = 1024
	defaultVideoCodec   = "h264"
	defaultVideoEncoder = "OMX.qcom.video.encoder.avc"
	defaultNoAudio      = true
	defaultNoControl    = true

	minRefreshIntervalMs = 500
	maxRefreshIntervalMs = 10000
	minADBTimeoutMs      = 1000
	maxADBTimeoutMs      = 30000
	minMaxSize           = 240
	maxMaxSize           = 2160
)

var (
	wirelessPortPattern = regexp.MustCompile(`^\d{4,5}$`)
	cropPattern         = regexp.MustCompile(`^\d+:\d+:\d+:\d+$`)
	bitratePattern      = regexp.MustCompile(`^\d+[KM]?$`)

	validRenderDrivers = []string{"opengl", "software", "direct3d"}
	validVideoCodecs   = []string{"h264", "h265", "av1"}
)

// NewConfig creates a config instance for the questcast object and sets up
// the viper instance for the user's config file
func NewConfig(logger *zap.SugaredLogger, notifier notify.Notifier, configPath string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	if configPath == "" {
		configPath = userConfigFilepath
	}

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		userConfigPath:     configPath,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(configPath)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyRefreshIntervalMs, defaultRefreshIntervalMs)
	userConfig.SetDefault(configKeyADBTimeoutMs, defaultADBTimeoutMs)
	userConfig.SetDefault(configKeyWirelessPort, defaultWirelessPort)
	userConfig.SetDefault(configKeyAuthWaitMaxRetries, defaultAuthWaitMaxRetries)
	userConfig.SetDefault(configKeyADBPath, defaultExecutablePath)
	userConfig.SetDefault(configKeyMirrorPath, defaultExecutablePath)
	userConfig.SetDefault(configKeyLanguage, defaultLanguage)
	userConfig.SetDefault(configKeyRenderDriver, defaultRenderDriver)
	userConfig.SetDefault(configKeyCrop, defaultCrop)
	userConfig.SetDefault(configKeyBitrate, defaultBitrate)
	userConfig.SetDefault(configKeyMaxSize, defaultMaxSize)
	userConfig.SetDefault(configKeyVideoCodec, defaultVideoCodec)
	userConfig.SetDefault(configKeyVideoEncoder, defaultVideoEncoder)
	userConfig.SetDefault(configKeyNoAudio, defaultNoAudio)
	userConfig.SetDefault(configKeyNoControl, defaultNoControl)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config file from disk and runs the validation pass. A
// missing file is fine since defaults cover every key, but a file that exists
// and fails to parse is an error the user has to fix
func (cc *CanonicalConfig) Load(localizer *i18n.Localizer) error {
	cc.logger.Debugw("Loading config", "path", cc.userConfigPath)

	if !util.FileExists(cc.userConfigPath) {
		cc.logger.Infow("No config file found, using defaults", "path", cc.userConfigPath)
	} else if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-related, give the user a hint
		if strings.Contains(err.Error(), "yaml:") {
			title := localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "InvalidConfigNotificationTitle",
					Other: "Invalid configuration!",
				},
			})
			description := localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "InvalidConfigNotificationDescription",
					Other: "Please make sure {{.Path}} is valid YAML",
				},
				TemplateData: map[string]interface{}{
					"Path": cc.userConfigPath,
				},
			})

			cc.notifier.Notify(title, description)
		} else {
			title := localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "ConfigLoadErrorNotificationTitle",
					Other: "Error loading configuration!",
				},
			})
			description := localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "ConfigLoadErrorNotificationDescription",
					Other: "Please check the logs for more details",
				},
			})

			cc.notifier.Notify(title, description)
		}

		return fmt.Errorf("read user config: %w", err)
	}

	cc.populateFromViper()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"refreshIntervalMs", cc.RefreshIntervalMs,
		"adbTimeoutMs", cc.ADBTimeoutMs,
		"wirelessPort", cc.WirelessPort,
		"authWaitMaxRetries", cc.AuthWaitMaxRetries,
		"adbPath", cc.ADBPath,
		"scrcpyPath", cc.MirrorPath,
		"language", cc.Language,
		"mirror", cc.Mirror)

	return nil
}

func (cc *CanonicalConfig) populateFromViper() {
	cc.RefreshIntervalMs = cc.userConfig.GetInt(configKeyRefreshIntervalMs)
	cc.ADBTimeoutMs = cc.userConfig.GetInt(configKeyADBTimeoutMs)
	cc.WirelessPort = cc.userConfig.GetString(configKeyWirelessPort)
	cc.AuthWaitMaxRetries = cc.userConfig.GetUint64(configKeyAuthWaitMaxRetries)
	cc.ADBPath = cc.userConfig.GetString(configKeyADBPath)
	cc.MirrorPath = cc.userConfig.GetString(configKeyMirrorPath)
	cc.Language = cc.userConfig.GetString(configKeyLanguage)

	cc.Mirror = MirrorConfig{
		RenderDriver: cc.userConfig.GetString(configKeyRenderDriver),
		Crop:         cc.userConfig.GetString(configKeyCrop),
		Bitrate:      cc.userConfig.GetString(configKeyBitrate),
		MaxSize:      cc.userConfig.GetInt(configKeyMaxSize),
		VideoCodec:   cc.userConfig.GetString(configKeyVideoCodec),
		VideoEncoder: cc.userConfig.GetString(configKeyVideoEncoder),
		NoAudio:      cc.userConfig.GetBool(configKeyNoAudio),
		NoControl:    cc.userConfig.GetBool(configKeyNoControl),
	}

	cc.validate()
}

// validate is the single validation pass over everything populateFromViper
// read: out-of-range or malformed values fall back to their defaults with a
// warning naming the key, they never stop the program
func (cc *CanonicalConfig) validate() {
	if cc.RefreshIntervalMs < minRefreshIntervalMs || cc.RefreshIntervalMs > maxRefreshIntervalMs {
		cc.warnInvalid(configKeyRefreshIntervalMs, cc.RefreshIntervalMs, defaultRefreshIntervalMs)
		cc.RefreshIntervalMs = defaultRefreshIntervalMs
	}

	if cc.ADBTimeoutMs < minADBTimeoutMs || cc.ADBTimeoutMs > maxADBTimeoutMs {
		cc.warnInvalid(configKeyADBTimeoutMs, cc.ADBTimeoutMs, defaultADBTimeoutMs)
		cc.ADBTimeoutMs = defaultADBTimeoutMs
	}

	if !wirelessPortPattern.MatchString(cc.WirelessPort) {
		cc.warnInvalid(configKeyWirelessPort, cc.WirelessPort, defaultWirelessPort)
		cc.WirelessPort = defaultWirelessPort
	}

	if !funk.ContainsString(validRenderDrivers, cc.Mirror.RenderDriver) {
		cc.warnInvalid(configKeyRenderDriver, cc.Mirror.RenderDriver, defaultRenderDriver)
		cc.Mirror.RenderDriver = defaultRenderDriver
	}

	if !cropPattern.MatchString(cc.Mirror.Crop) {
		cc.warnInvalid(configKeyCrop, cc.Mirror.Crop, defaultCrop)
		cc.Mirror.Crop = defaultCrop
	}

	if !bitratePattern.MatchString(cc.Mirror.Bitrate) {
		cc.warnInvalid(configKeyBitrate, cc.Mirror.Bitrate, defaultBitrate)
		cc.Mirror.Bitrate = defaultBitrate
	}

	if cc.Mirror.MaxSize < minMaxSize || cc.Mirror.MaxSize > maxMaxSize {
		cc.warnInvalid(configKeyMaxSize, cc.Mirror.MaxSize, defaultMaxSize)
		cc.Mirror.MaxSize = defaultMaxSize
	}

	if !funk.ContainsString(validVideoCodecs, cc.Mirror.VideoCodec) {
		cc.warnInvalid(configKeyVideoCodec, cc.Mirror.VideoCodec, defaultVideoCodec)
		cc.Mirror.VideoCodec = defaultVideoCodec
	}
}

func (cc *CanonicalConfig) warnInvalid(key string, value interface{}, fallback interface{}) {
	cc.logger.Warnw("Invalid config value, using default",
		"key", key,
		"value", value,
		"default", fallback)
}

// RefreshInterval returns the poll interval as a duration
func (cc *CanonicalConfig) RefreshInterval() time.Duration {
	return time.Duration(cc.RefreshIntervalMs) * time.Millisecond
}

// SubscribeToChanges allows external components to receive updates whenever
// the config is successfully reloaded from disk
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges(localizer *i18n.Localizer) {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.userConfigPath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		now := time.Now()

		// editors fire several events per save, only react to one of them
		if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

			// wait a bit to let the editor actually flush the new contents
			<-time.After(delayBetweenEventAndReload)

			cc.logger.Infow("Config file modified, reloading", "event", event.Name)

			if err := cc.Load(localizer); err != nil {
				cc.logger.Warnw("Failed to reload config file", "error", err)
			} else {
				cc.logger.Info("Reloaded config successfully")

				title := localizer.MustLocalize(&i18n.LocalizeConfig{
					DefaultMessage: &i18n.Message{
						ID:    "ConfigReloadedNotificationTitle",
						Other: "Configuration reloaded!",
					},
				})
				description := localizer.MustLocalize(&i18n.LocalizeConfig{
					DefaultMessage: &i18n.Message{
						ID:    "ConfigReloadedNotificationDescription",
						Other: "Your changes have been applied",
					},
				})

				cc.notifier.Notify(title, description)

				cc.onConfigReloaded()
			}

			lastAttemptedReload = now
		}
	})

	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
}

// StopWatchingConfigFile signals the filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}
