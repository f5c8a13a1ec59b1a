package settings

import "errors"

// ErrSettingsNotFound is returned when the settings row is missing.
var ErrSettingsNotFound = errors.New("app settings not found")
