package icon

import _ "embed"

// QuestLogo is the main questcast tray icon
//
//go:embed assets/questcast.ico
var QuestLogo []byte

// StatusGreen marks a ready headset, wireless or authorized over USB
//
//go:embed assets/status-green.ico
var StatusGreen []byte

// StatusYellow marks a headset that's detected but not yet authorized
//
//go:embed assets/status-yellow.ico
var StatusYellow []byte

// StatusRed marks that no usable headset was detected
//
//go:embed assets/status-red.ico
var StatusRed []byte

// EditConfig is the cog icon in the edit config menu option
//
//go:embed assets/edit-config.ico
var EditConfig []byte
