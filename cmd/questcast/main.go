package main

import (
	"flag"
	"fmt"

	"github.com/loginvr/questcast/pkg/questcast"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	configPath string
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging adb interactions)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.Parse()
}

func main() {

	// first we need a logger
	logger, err := questcast.NewLogger(buildType)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	// create the questcast instance
	qc, err := questcast.NewQuestCast(logger, verbose, configPath)
	if err != nil {
		named.Fatalw("Failed to create questcast object", "error", err)
	}

	// if we got here, we can add the version string to the tray menu
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := versionTag
		if identifier == "" {
			identifier = fmt.Sprintf("commit %s", gitCommit)
		}

		versionString := fmt.Sprintf("Version %s-%s", identifier, buildType)
		qc.SetVersion(versionString)
	}

	if err = qc.Initialize(); err != nil {
		named.Fatalw("Failed to initialize questcast", "error", err)
	}
}
