package config

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Logging    LoggingConfig     `json:"logging"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	Threadlets []ThreadletConfig `json:"threadlets" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile configures the rotating JSON log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/history.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
	Retention   string `json:"retention,omitempty" validate:"omitempty,duration"`
}

// ThreadletConfig declares one scheduler and its items.
type ThreadletConfig struct {
	Name       string `json:"name" validate:"required"`
	StartDelay string `json:"start_delay,omitempty" validate:"omitempty,duration"`

	// FaultRate is how many faults per second a single tasklet may log;
	// 0 keeps the default, a negative value disables throttling.
	FaultRate  float64 `json:"fault_rate,omitempty"`
	FaultBurst int     `json:"fault_burst,omitempty" validate:"gte=0"`

	// Bridge turns bus events under this prefix into signals.
	Bridge string `json:"bridge,omitempty"`

	// LogEvents logs every delivered event at info level.
	LogEvents bool `json:"log_events,omitempty"`

	Tasklets []TaskletConfig `json:"tasklets,omitempty" validate:"dive"`
	Events   []EventConfig   `json:"events,omitempty" validate:"dive"`
}

// Tasklet actions.
const (
	ActionSignal  = "signal"
	ActionPublish = "publish"
	ActionStop    = "stop"
	ActionLog     = "log"
	ActionSuspend = "suspend"
	ActionResume  = "resume"
)

// TaskletConfig declares a tasklet whose handler performs a fixed action.
//
//   - signal:  inject Signal (default: the tasklet name) into threadlet Target
//     (default: the owning threadlet)
//   - publish: publish a bus event of type Target
//   - stop:    stop threadlet Target (default: the owning threadlet)
//   - log:     log the tasklet attrs
//   - suspend/resume: suspend or resume item Target on the owning threadlet
type TaskletConfig struct {
	Name      string `json:"name" validate:"required"`
	Schedule  string `json:"schedule,omitempty" validate:"omitempty,schedule"`
	Delay     string `json:"delay,omitempty" validate:"omitempty,duration"`
	Suspended bool   `json:"suspended,omitempty"`
	// Spread offsets the first run of an interval schedule by a stable
	// per-item amount when no delay is given.
	Spread bool           `json:"spread,omitempty"`
	Action string         `json:"action" validate:"required,oneof=signal publish stop log suspend resume"`
	Target string         `json:"target,omitempty" validate:"required_if=Action publish,required_if=Action suspend,required_if=Action resume"`
	Signal string         `json:"signal,omitempty"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

// EventConfig declares a named event, armed at start.
type EventConfig struct {
	Name      string         `json:"name" validate:"required"`
	Schedule  string         `json:"schedule,omitempty" validate:"omitempty,schedule"`
	Delay     string         `json:"delay,omitempty" validate:"omitempty,duration"`
	Suspended bool           `json:"suspended,omitempty"`
	Spread    bool           `json:"spread,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}
