package questcast

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/loginvr/questcast/pkg/questcast/util"
)

// CastLauncher spawns the external mirroring process (scrcpy) against a
// resolved target serial. The child is fire-and-forget: it isn't awaited and
// its output isn't consumed, closing the mirror window is entirely up to the
// user
type CastLauncher struct {
	qc     *QuestCast
	logger *zap.SugaredLogger

	lock sync.RWMutex
	path string
}

// NewCastLauncher creates a CastLauncher instance. The mirroring executable
// itself is resolved later, during initialization and on config reloads
func NewCastLauncher(qc *QuestCast, logger *zap.SugaredLogger) (*CastLauncher, error) {
	logger = logger.Named("cast")

	cl := &CastLauncher{
		qc:     qc,
		logger: logger,
	}

	logger.Debug("Created cast launcher instance")

	cl.setupOnConfigReload()

	return cl, nil
}

func (cl *CastLauncher) initialize() {
	cl.resolvePath()
}

func (cl *CastLauncher) resolvePath() {
	path, err := util.FindExecutable("scrcpy", cl.qc.config.MirrorPath)
	if err != nil {
		cl.logger.Warnw("Mirroring executable not found, casting won't work until it is installed", "error", err)
		path = ""
	}

	cl.lock.Lock()
	cl.path = path
	cl.lock.Unlock()

	cl.logger.Debugw("Resolved mirroring executable", "path", path)
}

// available reports whether the mirroring executable was actually found
func (cl *CastLauncher) available() bool {
	cl.lock.RLock()
	defer cl.lock.RUnlock()

	return cl.path != ""
}

func (cl *CastLauncher) setupOnConfigReload() {
	configReloadedChannel := cl.qc.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			cl.resolvePath()
		}
	}()
}

// Launch starts mirroring for the given device. preferredWifiSerial, when
// nonempty, wins over the polled record and skips the readiness checks
// entirely: a live Wi-Fi session is better evidence than a possibly stale
// poll. Without one the device must be authorized, and the two refusal kinds
// tell the display layer which hint to show
func (cl *CastLauncher) Launch(device Device, preferredWifiSerial string) error {
	if preferredWifiSerial == "" {
		if device.State == StateUnauthorized {
			return ErrNotAuthorized
		}

		if !device.IsAuthorized() {
			return ErrNotConnected
		}
	}

	target := preferredWifiSerial
	if target == "" {
		target = device.Serial
	}

	cl.lock.RLock()
	path := cl.path
	cl.lock.RUnlock()

	if path == "" {
		return ErrMirrorNotFound
	}

	cl.warnIfAlreadyMirroring(path)

	args := buildMirrorArgs(target, cl.qc.config.Mirror)

	cl.logger.Infow("Starting mirroring process",
		"path", path,
		"args", args)

	command := exec.Command(path, args...)
	command.Dir = filepath.Dir(path)
	command.SysProcAttr = util.DetachedProcAttr()

	if err := command.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: %v", ErrMirrorNotFound, err)
		}

		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	cl.logger.Infow("Mirroring process started", "pid", command.Process.Pid)

	// fire-and-forget, but still reap the child if it exits before we do
	go func() {
		_ = command.Wait()
	}()

	return nil
}

// buildMirrorArgs assembles the scrcpy argument list from the mirroring
// configuration. The crop string is passed through verbatim as a single token
func buildMirrorArgs(serial string, mirror MirrorConfig) []string {
	args := []string{}

	if serial != "" {
		args = append(args, "-s", serial)
	}

	args = append(args,
		"--render-driver", mirror.RenderDriver,
		"--crop", mirror.Crop,
		"-b", mirror.Bitrate,
		"--max-size", strconv.Itoa(mirror.MaxSize),
		"--video-codec", mirror.VideoCodec,
		"--video-encoder", mirror.VideoEncoder,
	)

	if mirror.NoAudio {
		args = append(args, "--no-audio")
	}

	if mirror.NoControl {
		args = append(args, "-n")
	}

	return args
}

// warnIfAlreadyMirroring logs when a mirroring process is already up.
// Multiple instances are allowed, this just explains the second window
func (cl *CastLauncher) warnIfAlreadyMirroring(path string) {
	running, err := util.ProcessRunning(filepath.Base(path))
	if err != nil || !running {
		return
	}

	cl.logger.Info("A mirroring process is already running, starting another")
}
