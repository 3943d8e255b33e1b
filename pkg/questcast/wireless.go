package questcast

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// promotionState tracks where a wireless promotion sequence stands
type promotionState int

const (
	promoWaitingForAuthorization promotionState = iota
	promoDiscoveringIP
	promoEnablingWireless
	promoConnecting
	promoConnected
	promoFailed
)

func (ps promotionState) String() string {
	switch ps {
	case promoWaitingForAuthorization:
		return "waiting for authorization"
	case promoDiscoveringIP:
		return "discovering IP"
	case promoEnablingWireless:
		return "enabling wireless"
	case promoConnecting:
		return "connecting"
	case promoConnected:
		return "connected"
	case promoFailed:
		return "failed"
	}

	return "unknown"
}

// PromotionEvent reports promotion progress to display consumers
type PromotionEvent struct {
	State  promotionState
	Addr   string
	Detail string
	Err    error
}

// CastEvent reports the outcome of a cast request. A nil Err means the
// mirroring process was spawned
type CastEvent struct {
	Err error
}

// connectOutcomeClassifier decides whether the connect command's free-form
// output means success. adb has no structured contract here, so the rule is
// swappable without touching the sequence itself
type connectOutcomeClassifier func(output string) bool

var connectSuccessMarkers = []string{"connected", "already connected"}

func defaultConnectOutcome(output string) bool {
	lowered := strings.ToLower(output)

	for _, marker := range connectSuccessMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}

	return false
}

const defaultSettleDelay = 1000 * time.Millisecond

// promotion is one run of the USB to Wi-Fi upgrade sequence. It is owned by
// the session goroutine: poll ticks feed it device observations while it
// waits for authorization, and advance walks the remaining steps in order.
// Once a step has been reached it runs to completion, only the settle delay
// yields to shutdown
type promotion struct {
	id      uint64
	session *connectionSession
	logger  *zap.SugaredLogger

	state  promotionState
	policy backoff.BackOff

	outcome     connectOutcomeClassifier
	settleDelay time.Duration

	addr string
	err  error
}

func newPromotion(s *connectionSession, id uint64) *promotion {

	// authorization checks ride the poll ticks, so the policy's interval
	// matches them; its job is really the retry budget. Zero max retries
	// means wait forever
	var policy backoff.BackOff = backoff.NewConstantBackOff(s.qc.config.RefreshInterval())
	if maxRetries := s.qc.config.AuthWaitMaxRetries; maxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, maxRetries)
	}

	return &promotion{
		id:          id,
		session:     s,
		logger:      s.logger.Named("promotion"),
		state:       promoWaitingForAuthorization,
		policy:      policy,
		outcome:     defaultConnectOutcome,
		settleDelay: defaultSettleDelay,
	}
}

func (p *promotion) done() bool {
	return p.state == promoConnected || p.state == promoFailed
}

// observe feeds a fresh device record into the sequence. While waiting for
// authorization it either keeps waiting, gives up when the retry budget runs
// out, or advances through the rest of the steps synchronously
func (p *promotion) observe(device Device) {
	if p.state != promoWaitingForAuthorization {
		return
	}

	if !device.IsAuthorized() {
		if p.policy.NextBackOff() == backoff.Stop {
			p.fail(fmt.Errorf("%w: device stayed in state %q", ErrAuthorizeTimeout, device.State))
			return
		}

		p.logger.Debugw("Device not authorized yet, waiting",
			"id", p.id,
			"device", device.String())

		return
	}

	p.advance(device)
}

// advance runs the post-authorization steps: discover the headset's Wi-Fi IP
// over the cable, flip the device to TCP/IP mode, give its daemon a moment to
// come back up, then connect
func (p *promotion) advance(device Device) {
	adb := p.session.qc.adb
	port := p.session.qc.config.WirelessPort

	p.logger.Infow("Device authorized, promoting to wireless",
		"id", p.id,
		"device", device.String())

	p.setState(promoDiscoveringIP)

	ip, err := adb.WifiIP()
	if err != nil {
		p.fail(err)
		return
	}

	p.logger.Infow("Found device Wi-Fi IP", "id", p.id, "ip", ip)

	p.setState(promoEnablingWireless)

	if err := adb.EnableWireless(port); err != nil {
		p.fail(err)
		return
	}

	// the device-side daemon needs a moment before it accepts connections
	if interrupted := p.session.sleep(p.settleDelay); interrupted {
		return
	}

	p.setState(promoConnecting)

	addr := ip + ":" + port

	output, err := adb.Connect(addr)
	if err != nil {
		p.fail(fmt.Errorf("%w: %v", ErrWirelessConnect, err))
		return
	}

	if !p.outcome(output) {
		p.fail(fmt.Errorf("%w: %s", ErrWirelessConnect, strings.TrimSpace(output)))
		return
	}

	p.succeed(addr, strings.TrimSpace(output))
}

func (p *promotion) setState(state promotionState) {
	p.state = state

	p.logger.Debugw("Promotion state changed", "id", p.id, "state", state)
	p.emitState()
}

func (p *promotion) emitState() {
	p.session.publishPromotion(PromotionEvent{State: p.state})
}

func (p *promotion) succeed(addr string, detail string) {
	p.state = promoConnected
	p.addr = addr

	// remember the wireless serial so casts keep targeting it even with the
	// cable still attached
	p.session.lastWifiSerial = addr

	p.logger.Infow("Promotion complete",
		"id", p.id,
		"addr", addr,
		"output", detail)

	p.session.publishPromotion(PromotionEvent{State: promoConnected, Addr: addr, Detail: detail})

	// show the wireless row immediately instead of waiting out the tick
	p.session.refresh()
}

func (p *promotion) fail(err error) {
	p.state = promoFailed
	p.err = err

	p.logger.Warnw("Promotion failed", "id", p.id, "error", err)

	p.session.publishPromotion(PromotionEvent{State: promoFailed, Err: err})
}
