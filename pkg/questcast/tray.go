package questcast

import (
	"errors"

	"github.com/getlantern/systray"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/loginvr/questcast/pkg/questcast/icon"
	"github.com/loginvr/questcast/pkg/questcast/util"
)

func (qc *QuestCast) initializeTray(onDone func()) {
	logger := qc.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.QuestLogo, icon.QuestLogo)
		systray.SetTitle("questcast")
		systray.SetTooltip("questcast")

		statusTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusLookingTitle",
				Other: "Looking for a headset...",
			},
		})
		status := systray.AddMenuItem(statusTitle, "")
		status.SetIcon(icon.StatusRed)
		status.Disable()

		systray.AddSeparator()

		castTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "CastTitle",
				Other: "Cast screen",
			},
		})
		castDescription := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "CastDescription",
				Other: "Open the mirroring window for the connected headset",
			},
		})
		cast := systray.AddMenuItem(castTitle, castDescription)

		wirelessConnectTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessConnectTitle",
				Other: "Connect wirelessly",
			},
		})
		wirelessCancelTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessCancelTitle",
				Other: "Cancel wireless connection",
			},
		})
		wirelessDisconnectTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessDisconnectTitle",
				Other: "Disconnect wireless",
			},
		})
		wirelessDescription := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessDescription",
				Other: "Switch the headset between USB and Wi-Fi debugging",
			},
		})
		wireless := systray.AddMenuItem(wirelessConnectTitle, wirelessDescription)
		wireless.Disable()

		instructionsTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "InstructionsTitle",
				Other: "Show instructions",
			},
		})
		instructions := systray.AddMenuItem(instructionsTitle, "")

		configTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "EditConfigTitle",
				Other: "Edit configuration",
			},
		})
		configDescription := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "EditConfigDescription",
				Other: "Open config file with your text editor",
			},
		})
		editConfig := systray.AddMenuItem(configTitle, configDescription)
		editConfig.SetIcon(icon.EditConfig)

		if qc.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(qc.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()

		quitTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "QuitTitle",
				Other: "Quit",
			},
		})
		quitDescription := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "QuitDescription",
				Other: "Stop questcast and quit",
			},
		})
		quit := systray.AddMenuItem(quitTitle, quitDescription)

		deviceUpdates := qc.session.SubscribeToDeviceUpdates()
		promotionEvents := qc.session.SubscribeToPromotionEvents()
		castEvents := qc.session.SubscribeToCastEvents()

		// wait on things to happen
		go func() {
			currentDevice := noDevice
			promoting := false

			applyWireless := func() {
				switch {
				case promoting:
					wireless.SetTitle(wirelessCancelTitle)
					wireless.Enable()
				case currentDevice.IsWifi():
					wireless.SetTitle(wirelessDisconnectTitle)
					wireless.Enable()
				case currentDevice.IsUSB() && currentDevice.IsAuthorized():
					wireless.SetTitle(wirelessConnectTitle)
					wireless.Enable()
				default:
					wireless.SetTitle(wirelessConnectTitle)
					wireless.Disable()
				}
			}

			for {
				select {

				// headset status changed
				case device := <-deviceUpdates:
					currentDevice = device
					qc.applyTrayStatus(status, device)
					applyWireless()

				// wireless promotion progressed
				case event := <-promotionEvents:
					promoting = event.State != promoConnected && event.State != promoFailed
					qc.applyPromotionStatus(status, event)
					qc.notifyPromotionEvent(event)
					applyWireless()

				// cast request finished
				case event := <-castEvents:
					if event.Err != nil {
						qc.notifyCastError(event.Err)
					}

				// cast screen
				case <-cast.ClickedCh:
					logger.Info("Cast menu item clicked")

					qc.session.Cast()

				// wireless toggle
				case <-wireless.ClickedCh:
					logger.Info("Wireless menu item clicked")

					switch {
					case promoting:
						qc.session.CancelPromotion()
						promoting = false
						applyWireless()
					case currentDevice.IsWifi():
						qc.session.Demote()
					default:
						qc.session.BeginPromotion()
					}

				// instructions
				case <-instructions.ClickedCh:
					logger.Info("Instructions menu item clicked")

					qc.notifyInstructions()

				// edit config
				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := util.OpenExternal(logger, qc.config.userConfigPath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					qc.signalStop()
				}
			}
		}()

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (qc *QuestCast) stopTray() {
	qc.logger.Debug("Quitting tray")
	systray.Quit()
}

// applyTrayStatus reflects the canonical device record in the tray: the icon
// color gives the state away at a glance, the status line spells it out
func (qc *QuestCast) applyTrayStatus(status *systray.MenuItem, device Device) {
	var statusIcon []byte
	var title string

	switch {
	case device.IsWifi() && device.IsConnected():
		statusIcon = icon.StatusGreen
		title = qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusWirelessTitle",
				Other: "Headset connected wirelessly",
			},
		})
	case device.IsAuthorized():
		statusIcon = icon.StatusGreen
		title = qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusConnectedTitle",
				Other: "Headset connected over USB",
			},
		})
	case device.State == StateUnauthorized:
		statusIcon = icon.StatusYellow
		title = qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusUnauthorizedTitle",
				Other: "Approve access in the headset (Always Allow)",
			},
		})
	default:
		statusIcon = icon.StatusRed
		title = qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusMissingTitle",
				Other: "Make sure the headset is on and plugged in",
			},
		})
	}

	systray.SetIcon(statusIcon)
	status.SetIcon(statusIcon)
	status.SetTitle(title)
}

// applyPromotionStatus shows sequence progress on the status line while a
// promotion is in flight. Terminal states leave the line to the next poll
func (qc *QuestCast) applyPromotionStatus(status *systray.MenuItem, event PromotionEvent) {
	switch event.State {
	case promoWaitingForAuthorization:
		status.SetTitle(qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusWaitingForAuthTitle",
				Other: "Waiting for the headset to be authorized...",
			},
		}))
	case promoDiscoveringIP, promoEnablingWireless, promoConnecting:
		status.SetTitle(qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "StatusPromotingTitle",
				Other: "Connecting wirelessly...",
			},
		}))
	}
}

func (qc *QuestCast) notifyPromotionEvent(event PromotionEvent) {
	wirelessTitle := qc.localizer.MustLocalize(&i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{
			ID:    "WirelessNotificationTitle",
			Other: "Wireless connection",
		},
	})

	switch event.State {
	case promoWaitingForAuthorization:
		qc.notifier.Notify(wirelessTitle, qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessWaitingNotification",
				Other: "Plug the headset in with the cable and approve access (Always Allow)",
			},
		}))

	case promoConnected:
		qc.notifier.Notify(wirelessTitle, qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessConnectedNotification",
				Other: "Connected at {{.Addr}}. You can now unplug the cable",
			},
			TemplateData: map[string]interface{}{
				"Addr": event.Addr,
			},
		}))

	case promoFailed:
		qc.notifier.Notify(wirelessTitle, qc.promotionFailureMessage(event.Err))
	}
}

func (qc *QuestCast) promotionFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrIPDiscovery):
		return qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessNoIPNotification",
				Other: "Could not find the headset's Wi-Fi IP",
			},
		})
	case errors.Is(err, ErrAuthorizeTimeout):
		return qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessAuthTimeoutNotification",
				Other: "The headset was never authorized, try again",
			},
		})
	default:
		return qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "WirelessFailedNotification",
				Other: "Wireless connection failed, check the logs for details",
			},
		})
	}
}

func (qc *QuestCast) notifyCastError(err error) {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		qc.notifier.Notify(
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastNotAuthorizedNotificationTitle",
					Other: "No access to the headset",
				},
			}),
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastNotAuthorizedNotificationDescription",
					Other: "The headset was detected but access wasn't approved. Put it on and choose Always Allow",
				},
			}))

	case errors.Is(err, ErrNotConnected):
		qc.notifier.Notify(
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastNotConnectedNotificationTitle",
					Other: "Headset not connected",
				},
			}),
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastNotConnectedNotificationDescription",
					Other: "Make sure the headset is plugged in and developer mode is enabled",
				},
			}))

	case errors.Is(err, ErrMirrorNotFound):
		qc.notifier.Notify(
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastMirrorMissingNotificationTitle",
					Other: "scrcpy not found",
				},
			}),
			util.InstallHint())

	default:
		qc.notifier.Notify(
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastFailedNotificationTitle",
					Other: "Failed to start casting",
				},
			}),
			qc.localizer.MustLocalize(&i18n.LocalizeConfig{
				DefaultMessage: &i18n.Message{
					ID:    "CastFailedNotificationDescription",
					Other: "Check the logs for more details",
				},
			}))
	}
}

func (qc *QuestCast) notifyInstructions() {
	qc.notifier.Notify(
		qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "InstructionsNotificationTitle",
				Other: "How to cast",
			},
		}),
		qc.localizer.MustLocalize(&i18n.LocalizeConfig{
			DefaultMessage: &i18n.Message{
				ID:    "InstructionsNotificationDescription",
				Other: "1. Turn the headset on and plug it into the computer\n2. Put it on and approve access (Always Allow)\n3. Use \"Connect wirelessly\" to go cable-free\n4. \"Cast screen\" opens the mirroring window",
			},
		}))
}
