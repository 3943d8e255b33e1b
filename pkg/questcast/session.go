package questcast

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// connectionSession is the single source of truth for what the display shows.
// One goroutine owns every mutable field below: poll ticks, user-triggered
// sequences and config reactions all run serialized through the same loop, so
// the current record can never be torn between a poll and a promotion step
type connectionSession struct {
	qc     *QuestCast
	logger *zap.SugaredLogger

	current        Device
	lastWifiSerial string
	promo          *promotion
	promoSeq       uint64

	interval time.Duration
	ticker   *time.Ticker

	ops         chan func()
	stopChannel chan struct{}
	wg          sync.WaitGroup

	deviceConsumers    []chan Device
	promotionConsumers []chan PromotionEvent
	castConsumers      []chan CastEvent
}

func newConnectionSession(qc *QuestCast, logger *zap.SugaredLogger) (*connectionSession, error) {
	logger = logger.Named("session")

	s := &connectionSession{
		qc:      qc,
		logger:  logger,
		current: noDevice,
		ops:     make(chan func(), 8),
	}

	logger.Debug("Created connection session instance")

	s.setupOnConfigReload()

	return s, nil
}

// SubscribeToDeviceUpdates returns a channel that receives the canonical
// device record after every refresh. Slow consumers miss intermediate records
// and catch up on the next tick
func (s *connectionSession) SubscribeToDeviceUpdates() chan Device {
	c := make(chan Device, 1)
	s.deviceConsumers = append(s.deviceConsumers, c)

	return c
}

// SubscribeToPromotionEvents returns a channel that receives wireless
// promotion progress
func (s *connectionSession) SubscribeToPromotionEvents() chan PromotionEvent {
	c := make(chan PromotionEvent, 16)
	s.promotionConsumers = append(s.promotionConsumers, c)

	return c
}

// SubscribeToCastEvents returns a channel that receives the outcome of cast
// requests
func (s *connectionSession) SubscribeToCastEvents() chan CastEvent {
	c := make(chan CastEvent, 4)
	s.castConsumers = append(s.castConsumers, c)

	return c
}

// Start begins the status polling loop
func (s *connectionSession) Start() {
	s.stopChannel = make(chan struct{})
	s.interval = s.qc.config.RefreshInterval()

	s.logger.Infow("Starting to poll device status", "interval", s.interval)

	s.wg.Add(1)
	go s.run()
}

// Stop ends the polling loop and waits for the in-flight operation to finish.
// An external command already running is never aborted midway, so this can
// take up to that command's timeout
func (s *connectionSession) Stop() {
	if s.stopChannel == nil {
		return
	}

	close(s.stopChannel)
	s.wg.Wait()

	s.logger.Info("Stopped polling device status")
}

func (s *connectionSession) run() {
	defer s.wg.Done()

	// first status right away, the display shouldn't sit empty for a tick
	s.refresh()

	s.ticker = time.NewTicker(s.interval)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.stopChannel:
			s.logger.Debug("Session loop stopping")
			return

		case <-s.ticker.C:
			s.refresh()

		case op := <-s.ops:
			op()
		}
	}
}

// enqueue hands an operation to the session goroutine. Ops run between polls,
// in order, one at a time
func (s *connectionSession) enqueue(op func()) {
	select {
	case s.ops <- op:
	case <-s.stopChannel:
	}
}

// refresh performs one poll: list, classify, store, publish. Failures never
// escape, a failed listing degrades to the "nothing attached" record and the
// next tick supersedes it
func (s *connectionSession) refresh() {
	device := s.qc.adb.DetectDevice()

	s.setCurrent(device)

	if s.promo != nil {
		s.promo.observe(device)
	}
}

// setCurrent replaces the canonical record and maintains the last-known Wi-Fi
// serial: remembered on every Wi-Fi sighting, never cleared by a poll (only
// an explicit disconnect clears it)
func (s *connectionSession) setCurrent(device Device) {
	if device != s.current {
		s.logger.Debugw("Device status changed", "device", device.String())
	}

	s.current = device

	if device.IsWifi() && device.Serial != "" && device.Serial != s.lastWifiSerial {
		s.logger.Debugw("Remembering Wi-Fi serial", "serial", device.Serial)
		s.lastWifiSerial = device.Serial
	}

	s.publishDevice(device)
}

// BeginPromotion starts the USB to Wi-Fi upgrade sequence. It returns
// immediately; progress lands on the promotion events channel. A sequence
// already in flight is left alone
func (s *connectionSession) BeginPromotion() {
	s.enqueue(func() {
		if s.promo != nil && !s.promo.done() {
			s.logger.Info("Promotion already in progress, ignoring request")
			return
		}

		s.promoSeq++
		s.promo = newPromotion(s, s.promoSeq)

		s.logger.Infow("Starting wireless promotion", "id", s.promo.id)
		s.promo.emitState()

		// first authorization check happens right away rather than on the
		// next tick
		s.refresh()
	})
}

// CancelPromotion abandons the in-flight sequence. Device-side changes
// already made (like TCP/IP listening mode) are not rolled back
func (s *connectionSession) CancelPromotion() {
	s.enqueue(func() {
		if s.promo == nil || s.promo.done() {
			return
		}

		s.logger.Infow("Promotion cancelled",
			"id", s.promo.id,
			"state", s.promo.state)

		s.promo = nil
	})
}

// Demote tears down the Wi-Fi connection and drops the device back to USB
// control. Both steps are best effort; the listing right after tells the
// truth either way
func (s *connectionSession) Demote() {
	s.enqueue(func() {
		if s.promo != nil && !s.promo.done() {
			s.logger.Info("Abandoning in-flight promotion for disconnect")
			s.promo = nil
		}

		if s.current.IsWifi() && s.current.Serial != "" {
			s.qc.adb.Disconnect(s.current.Serial)
		}

		s.qc.adb.USBMode()

		s.lastWifiSerial = ""
		s.logger.Info("Wireless teardown finished, device back on USB")

		s.refresh()
	})
}

// Cast launches the mirroring process for the current device. A fresh Wi-Fi
// serial wins over the polled record, the remembered one covers listings that
// momentarily dropped the Wi-Fi row
func (s *connectionSession) Cast() {
	s.enqueue(func() {
		wifiSerial := s.qc.adb.FindWifiSerial()
		if wifiSerial == "" {
			wifiSerial = s.lastWifiSerial
		}

		err := s.qc.caster.Launch(s.current, wifiSerial)
		if err != nil {
			s.logger.Warnw("Cast request failed", "error", err)
		}

		s.publishCast(CastEvent{Err: err})
	})
}

// sleep blocks the session loop for d unless shutdown begins first; it
// reports whether it was interrupted
func (s *connectionSession) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return false
	case <-s.stopChannel:
		return true
	}
}

func (s *connectionSession) setupOnConfigReload() {
	configReloadedChannel := s.qc.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			s.enqueue(func() {
				interval := s.qc.config.RefreshInterval()

				if interval != s.interval {
					s.logger.Infow("Refresh interval changed, restarting ticker", "interval", interval)

					s.interval = interval
					s.ticker.Reset(interval)
				}
			})
		}
	}()
}

// publish helpers never block the session goroutine: a consumer that hasn't
// drained its channel misses the event instead of stalling polls

func (s *connectionSession) publishDevice(device Device) {
	for _, consumer := range s.deviceConsumers {
		select {
		case consumer <- device:
		default:
		}
	}
}

func (s *connectionSession) publishPromotion(event PromotionEvent) {
	for _, consumer := range s.promotionConsumers {
		select {
		case consumer <- event:
		default:
		}
	}
}

func (s *connectionSession) publishCast(event CastEvent) {
	for _, consumer := range s.castConsumers {
		select {
		case consumer <- event:
		default:
		}
	}
}
