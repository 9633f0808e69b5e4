package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Discord OAuth application credentials. Discord login is disabled
	// when the client id is empty.
	DiscordClientID     string
	DiscordClientSecret string
	// DiscordRedirectURL is the absolute callback URL registered with the
	// provider, e.g. https://plot.example.com/authorize/discord.
	DiscordRedirectURL string

	// WhitelistRaw lists the guild/role gate as "guild[:role]" entries,
	// comma-separated.
	WhitelistRaw string

	// BasicLoginDigest is the argon2id digest for the fallback password
	// login. Empty disables basic login.
	BasicLoginDigest string

	CookieSecure bool
	TrustProxy   bool
	SessionTTL   time.Duration

	// WebSocket gateway policy.
	WSOriginRequired bool
	WSOrigins        []string
	WSSendQueueSize  int
	WSWriteTimeout   time.Duration
	WSIdleTimeout    time.Duration

	// Device sink (direct-drive variant). Disabled unless a serial port
	// is configured.
	DeviceSerialPort string
	DeviceBaud       int
	DeviceAckTimeout time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PLOT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PLOT_LOG_LEVEL", "info"),
		LogPretty: EnvBool("PLOT_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("PLOT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PLOT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PLOT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PLOT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PLOT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DiscordClientID:     EnvString("PLOT_DISCORD_CLIENT_ID", ""),
		DiscordClientSecret: EnvString("PLOT_DISCORD_CLIENT_SECRET", ""),
		DiscordRedirectURL:  EnvString("PLOT_DISCORD_REDIRECT_URL", ""),

		WhitelistRaw: EnvString("PLOT_DISCORD_WHITELIST", ""),

		BasicLoginDigest: EnvString("PLOT_BASIC_LOGIN_DIGEST", ""),

		CookieSecure: EnvBool("PLOT_COOKIE_SECURE", false),
		TrustProxy:   EnvBool("PLOT_TRUST_PROXY", false),
		SessionTTL:   EnvDuration("PLOT_SESSION_TTL", 24*time.Hour),

		WSOriginRequired: EnvBool("PLOT_WS_ORIGIN_REQUIRED", true),
		WSOrigins:        EnvStringList("PLOT_WS_ORIGINS", nil),
		WSSendQueueSize:  EnvInt("PLOT_WS_SEND_QUEUE", 64),
		WSWriteTimeout:   EnvDuration("PLOT_WS_WRITE_TIMEOUT", 5*time.Second),
		WSIdleTimeout:    EnvDuration("PLOT_WS_IDLE_TIMEOUT", 120*time.Second),

		DeviceSerialPort: EnvString("PLOT_DEVICE_SERIAL_PORT", ""),
		DeviceBaud:       EnvInt("PLOT_DEVICE_BAUD", 115200),
		DeviceAckTimeout: EnvDuration("PLOT_DEVICE_ACK_TIMEOUT", 30*time.Second),
	}
}
