// Package questcast provides a desktop helper that watches for a Meta Quest
// headset over adb, promotes its connection from USB to Wi-Fi on demand, and
// launches an external mirroring process against it.
package questcast

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/jeandeaual/go-locale"
	"github.com/loginvr/questcast/pkg/notify"
	"github.com/loginvr/questcast/pkg/questcast/icon"
	"github.com/loginvr/questcast/pkg/questcast/util"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
)

const (

	// when this is set to anything, questcast won't use a tray icon
	envNoTray = "QUESTCAST_NO_TRAY_ICON"
)

// QuestCast is the main entity managing access to all sub-components
type QuestCast struct {
	logger    *zap.SugaredLogger
	notifier  notify.Notifier
	config    *CanonicalConfig
	adb       *ADBBridge
	caster    *CastLauncher
	session   *connectionSession
	bundle    *i18n.Bundle
	localizer *i18n.Localizer

	stopChannel chan bool
	version     string
	verbose     bool
}

//go:embed lang/active.*.toml
var langFS embed.FS

// NewQuestCast creates a QuestCast instance
func NewQuestCast(logger *zap.SugaredLogger, verbose bool, configPath string) (*QuestCast, error) {
	logger = logger.Named("questcast")

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	_, err := bundle.LoadMessageFileFS(langFS, "lang/active.he.toml")

	if err != nil {
		logger.Errorw("Failed to open he message file", "error", err)
		return nil, fmt.Errorf("load message file: %w", err)
	}

	notifier, err := notify.NewToastNotifier(logger, icon.QuestLogo)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	qc := &QuestCast{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		stopChannel: make(chan bool),
		verbose:     verbose,
		bundle:      bundle,
	}

	adb, err := NewADBBridge(qc, logger)
	if err != nil {
		logger.Errorw("Failed to create ADBBridge", "error", err)
		return nil, fmt.Errorf("create new ADBBridge: %w", err)
	}

	qc.adb = adb

	caster, err := NewCastLauncher(qc, logger)
	if err != nil {
		logger.Errorw("Failed to create CastLauncher", "error", err)
		return nil, fmt.Errorf("create new CastLauncher: %w", err)
	}

	qc.caster = caster

	session, err := newConnectionSession(qc, logger)
	if err != nil {
		logger.Errorw("Failed to create connectionSession", "error", err)
		return nil, fmt.Errorf("create new connectionSession: %w", err)
	}

	qc.session = session

	logger.Debug("Created questcast instance")

	return qc, nil
}

// Initialize sets up components and starts to run in the background
func (qc *QuestCast) Initialize() error {
	qc.logger.Debug("Initializing")

	// create temp initialLocalizer because we don't know the language yet
	initialLocalizer := qc.GetSystemLocalizer()

	// load the config for the first time
	if err := qc.config.Load(initialLocalizer); err != nil {
		qc.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	qc.updateLocalizer()

	// resolve the external tools and warm up the adb server
	qc.adb.initialize()
	qc.caster.initialize()
	qc.checkDependencies()

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {

		qc.logger.Debugw("Running without tray icon", "reason", "envvar set")

		// run in main thread while waiting on ctrl+C
		qc.setupInterruptHandler()
		qc.run()

	} else {
		qc.setupInterruptHandler()
		qc.initializeTray(qc.run)
	}

	return nil
}

// GetSystemLocalizer returns a localizer for the system language, falling
// back to English when the locale can't be determined
func (qc *QuestCast) GetSystemLocalizer() *i18n.Localizer {
	lang, err := locale.GetLanguage()
	if err != nil {
		qc.logger.Warnw("Failed to get system locale, falling back to English", "error", err)
		lang = "en"
	}

	return i18n.NewLocalizer(qc.bundle, lang, "en")
}

func (qc *QuestCast) updateLocalizer() {
	lang := qc.config.Language
	if lang == "auto" || lang == "" {
		var err error
		lang, err = locale.GetLanguage()

		if err != nil {
			qc.logger.Warnw("Failed to get system locale, falling back to English", "error", err)
			lang = "en"
		}
	}

	qc.logger.Infof("Selected language: %s", lang)
	qc.localizer = i18n.NewLocalizer(qc.bundle, lang, "en")
}

// checkDependencies makes sure both external tools resolved, and tells the
// user what to install when they didn't. The helper keeps running either way,
// status polling is still useful with adb alone
func (qc *QuestCast) checkDependencies() {
	missing := []string{}

	if !qc.adb.available() {
		missing = append(missing, "adb")
	}

	if !qc.caster.available() {
		missing = append(missing, "scrcpy")
	}

	if len(missing) == 0 {
		return
	}

	qc.logger.Warnw("Missing external tools", "missing", missing)

	title := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{
			ID:    "MissingToolsNotificationTitle",
			Other: "Missing tools: {{.Tools}}",
		},
		TemplateData: map[string]interface{}{
			"Tools": strings.Join(missing, ", "),
		},
	})

	qc.notifier.Notify(title, util.InstallHint())
}

// SetVersion causes questcast to add a version string to its tray menu if
// called before Initialize
func (qc *QuestCast) SetVersion(version string) {
	qc.version = version
}

// Verbose returns a boolean indicating whether questcast is running in verbose mode
func (qc *QuestCast) Verbose() bool {
	return qc.verbose
}

func (qc *QuestCast) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		qc.logger.Debugw("Interrupted", "signal", signal)
		qc.signalStop()
	}()
}

func (qc *QuestCast) run() {
	qc.logger.Info("Run loop starting")

	// watch the config file for changes
	go qc.config.WatchConfigFileChanges(qc.localizer)

	// start watching for the headset
	qc.session.Start()

	// wait until stopped (gracefully)
	<-qc.stopChannel
	qc.logger.Debug("Stop channel signaled, terminating")

	if err := qc.stop(); err != nil {
		qc.logger.Warnw("Failed to stop questcast", "error", err)
		os.Exit(1)
	}
	// exit with 0
	os.Exit(0)
}

func (qc *QuestCast) signalStop() {
	qc.logger.Debug("Signalling stop channel")
	qc.stopChannel <- true
}

func (qc *QuestCast) stop() error {
	qc.logger.Info("Stopping")

	qc.config.StopWatchingConfigFile()
	qc.session.Stop()

	qc.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = qc.logger.Sync()

	return nil
}
