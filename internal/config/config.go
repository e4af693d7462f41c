package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	CatalogPath    string        `mapstructure:"CATALOG_PATH"`

	// Language model providers.
	AssistantBaseURL  string        `mapstructure:"ASSISTANT_BASE_URL"`
	AssistantModel    string        `mapstructure:"ASSISTANT_MODEL"`
	AssistantAPIKey   string        `mapstructure:"ASSISTANT_API_KEY"`
	AssistantMaxTok   int           `mapstructure:"ASSISTANT_MAX_TOKENS"`
	AssistantTemp     float64       `mapstructure:"ASSISTANT_TEMPERATURE"`
	FallbackProvider  string        `mapstructure:"FALLBACK_PROVIDER"`
	FallbackModel     string        `mapstructure:"FALLBACK_MODEL"`
	FallbackAPIKey    string        `mapstructure:"FALLBACK_API_KEY"`
	FallbackBaseURL   string        `mapstructure:"FALLBACK_BASE_URL"`
	TranscribeModel   string        `mapstructure:"TRANSCRIBE_MODEL"`
	ModelTimeout      time.Duration `mapstructure:"MODEL_TIMEOUT"`
	ModelRetryBackoff time.Duration `mapstructure:"MODEL_RETRY_BACKOFF"`
	MaxIterations     int           `mapstructure:"AGENT_MAX_ITERATIONS"`
	HistoryLimit      int           `mapstructure:"HISTORY_LIMIT"`

	// Geocoding.
	YandexGeocoderKey  string        `mapstructure:"YANDEX_GEOCODER_KEY"`
	YandexGeocoderURL  string        `mapstructure:"YANDEX_GEOCODER_URL"`
	NominatimURL       string        `mapstructure:"NOMINATIM_URL"`
	NominatimUserAgent string        `mapstructure:"NOMINATIM_USER_AGENT"`
	GeocodeTimeout     time.Duration `mapstructure:"GEOCODE_TIMEOUT"`

	// 1C proxy.
	OneCProxyURL   string        `mapstructure:"ONEC_PROXY_URL"`
	OneCOrderPath  string        `mapstructure:"ONEC_ORDER_PATH"`
	OneCWSPath     string        `mapstructure:"ONEC_WS_PATH"`
	OneCModifyPath string        `mapstructure:"ONEC_MODIFY_PATH"`
	OneCLogin      string        `mapstructure:"ONEC_LOGIN"`
	OneCPassword   string        `mapstructure:"ONEC_PASSWORD"`
	OneCToken      string        `mapstructure:"ONEC_TOKEN"`
	OneCTimeout    time.Duration `mapstructure:"ONEC_TIMEOUT"`
	OneCRetries    int           `mapstructure:"ONEC_RETRIES"`

	// Throttling.
	DailyTicketCap int           `mapstructure:"DAILY_TICKET_CAP"`
	FloodRPS       float64       `mapstructure:"FLOOD_RPS"`
	FloodBurst     int           `mapstructure:"FLOOD_BURST"`
	FloodMute      time.Duration `mapstructure:"FLOOD_MUTE"`
	BanDuration    time.Duration `mapstructure:"BAN_DURATION"`

	// Tracing.
	OTELEnabled     bool    `mapstructure:"OTEL_ENABLED"`
	OTELEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string  `mapstructure:"OTEL_SERVICE_NAME"`
	OTELSampleRatio float64 `mapstructure:"OTEL_TRACES_SAMPLER_ARG"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// unsetKeys have no default but must still be visible to Unmarshal
// when they only come from the environment.
var unsetKeys = []string{
	"DATABASE_URL", "ADMIN_KEY", "CATALOG_PATH",
	"ASSISTANT_API_KEY", "FALLBACK_API_KEY", "FALLBACK_BASE_URL",
	"YANDEX_GEOCODER_KEY",
	"ONEC_PROXY_URL", "ONEC_ORDER_PATH", "ONEC_WS_PATH", "ONEC_MODIFY_PATH",
	"ONEC_LOGIN", "ONEC_PASSWORD", "ONEC_TOKEN",
}

func setDefaults(v *viper.Viper) {
	for _, k := range unsetKeys {
		v.SetDefault(k, "")
	}
	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("REQUEST_TIMEOUT", "90s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("ASSISTANT_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("ASSISTANT_MODEL", "gpt-4o-mini")
	v.SetDefault("ASSISTANT_MAX_TOKENS", 1024)
	v.SetDefault("ASSISTANT_TEMPERATURE", 0.2)
	v.SetDefault("FALLBACK_PROVIDER", "anthropic")
	v.SetDefault("FALLBACK_MODEL", "claude-3-5-haiku-latest")
	v.SetDefault("TRANSCRIBE_MODEL", "whisper-1")
	v.SetDefault("MODEL_TIMEOUT", "45s")
	v.SetDefault("MODEL_RETRY_BACKOFF", "1s")
	v.SetDefault("AGENT_MAX_ITERATIONS", 20)
	v.SetDefault("HISTORY_LIMIT", 40)

	v.SetDefault("YANDEX_GEOCODER_URL", "https://geocode-maps.yandex.ru/1.x/")
	v.SetDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("NOMINATIM_USER_AGENT", "servicedesk-bot")
	v.SetDefault("GEOCODE_TIMEOUT", "10s")

	v.SetDefault("ONEC_TIMEOUT", "20s")
	v.SetDefault("ONEC_RETRIES", 2)

	v.SetDefault("DAILY_TICKET_CAP", 3)
	v.SetDefault("FLOOD_RPS", 0.5)
	v.SetDefault("FLOOD_BURST", 10)
	v.SetDefault("FLOOD_MUTE", "30m")
	v.SetDefault("BAN_DURATION", "24h")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_SERVICE_NAME", "servicedesk-bot")
	v.SetDefault("OTEL_TRACES_SAMPLER_ARG", 1.0)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("DATA_DIR must not be empty")
	}
	if c.MaxIterations <= 0 {
		return errors.New("AGENT_MAX_ITERATIONS must be > 0")
	}
	if c.DailyTicketCap <= 0 {
		return errors.New("DAILY_TICKET_CAP must be > 0")
	}
	if c.OneCRetries < 0 {
		return errors.New("ONEC_RETRIES must be >= 0")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}
