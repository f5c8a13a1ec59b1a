package domain

import "time"

// TelegramSettings controls channel polling.
type TelegramSettings struct {
	Enabled  bool `json:"enabled"`
	UseProxy bool `json:"use_proxy"`
}

// AppSettings is the process-wide configuration document.
type AppSettings struct {
	Telegram  TelegramSettings `json:"telegram"`
	UpdatedBy string           `json:"updated_by,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}
