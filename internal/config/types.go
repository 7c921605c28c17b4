package config

type Config struct {
	Telegram    TelegramConfig     `json:"telegram"`
	Logging     LoggingConfig      `json:"logging"`
	Storage     StorageConfig      `json:"storage"`
	Cycle       CycleConfig        `json:"cycle"`
	Dispatch    DispatchConfig     `json:"dispatch,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the snapshot store backing the registry.
//
// Driver values:
//   - "file": whole-document JSON snapshot, atomically replaced on every write
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CycleConfig controls the daily submission round.
//
// The trigger fires at a uniformly random instant inside [begin_hour,
// end_hour) on the following calendar day. Window and Grace are Go duration
// strings; the grace interval is the trailing part of the window during which
// late participants get a reminder.
//
// These values are read once at startup; editing them requires a restart.
type CycleConfig struct {
	BeginHour int    `json:"begin_hour"`
	EndHour   int    `json:"end_hour"`
	Window    string `json:"window"`
	Grace     string `json:"grace"`
	Timezone  string `json:"timezone,omitempty"`
}

// DispatchConfig bounds the outbound send rate (Telegram flood control).
type DispatchConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// MaintenanceConfig controls the cron-driven housekeeping job
// (snapshot backups + stale destination report).
type MaintenanceConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"` // cron expression, default "0 4 * * *"
	BackupDir string `json:"backup_dir,omitempty"`
	Keep      int    `json:"keep,omitempty"`
	// StaleAfter is a Go duration string; destinations that received nothing
	// for longer than this are reported.
	StaleAfter string `json:"stale_after,omitempty"`
}
