package config

// Config is the root of the YAML config file.
//
// Required settings are checked by Validate(); the process refuses to start
// when any of them is missing or malformed.
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Holidays  HolidaysConfig  `yaml:"holidays"`
	Generator GeneratorConfig `yaml:"generator"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Storage   StorageConfig   `yaml:"storage"`
	Web       WebConfig       `yaml:"web"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DiscordConfig struct {
	Token           string `yaml:"token"`
	GuildID         string `yaml:"guild_id"`
	StaffRoleID     string `yaml:"staff_role_id"`
	BirthdayRoleID  string `yaml:"birthday_role_id"`
	BirthdayChannel string `yaml:"birthday_channel_id"`
	WishesChannel   string `yaml:"wishes_channel_id"`
	AlertsChannel   string `yaml:"staff_alerts_channel_id"`
	// Outbound message rate limit (messages per second). 0 means default.
	SendRatePerSec int `yaml:"send_rate_per_sec"`
}

type HolidaysConfig struct {
	APIKey  string `yaml:"api_key"`
	Country string `yaml:"country"`
	BaseURL string `yaml:"base_url"` // override for tests; default Calendarific
	// ApprovalMode routes generated holiday wishes to the staff alerts
	// channel as a preview instead of posting them publicly.
	ApprovalMode bool `yaml:"approval_mode"`
}

type GeneratorConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"` // override for tests
}

type ScheduleConfig struct {
	// PostTime is the local time-of-day of the daily run, "HH:MM".
	PostTime string `yaml:"post_time"`
	// Timezone is an IANA zone name, e.g. "Asia/Kolkata".
	Timezone string `yaml:"timezone"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	AdminPassword string `yaml:"admin_password"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level   string            `yaml:"level"`
	Console bool              `yaml:"console"`
	File    LoggingFileConfig `yaml:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}
