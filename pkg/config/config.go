package config

import (
	"os"
	"reflect"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/voxbridge/voxbridge/pkg/logger"
)

// Config holds process-wide configuration, populated from the environment.
type Config struct {
	ServerName string `env:"SERVER_NAME"`
	Addr       string `env:"ADDR"`
	Mode       string `env:"MODE"`
	DBDriver   string `env:"DB_DRIVER"`
	DSN        string `env:"DSN"`
	Log        logger.LogConfig

	APIPrefix     string `env:"API_PREFIX"`
	MetricsPrefix string `env:"METRICS_PREFIX"`

	// Conversation model
	LLMApiKey  string `env:"LLM_API_KEY"`
	LLMBaseURL string `env:"LLM_BASE_URL"`
	LLMModel   string `env:"LLM_MODEL"`

	// Session policy
	WatchdogTimeout  time.Duration `env:"WATCHDOG_TIMEOUT"`
	GatherRetries    int           `env:"GATHER_RETRIES"`
	MinConfidence    float64       `env:"MIN_CONFIDENCE"`
	ToolLoopLimit    int           `env:"TOOL_LOOP_LIMIT"`
	DefaultVoice     string        `env:"DEFAULT_VOICE"`
	DefaultLanguage  string        `env:"DEFAULT_LANGUAGE"`
	TelephonyWSToken string        `env:"TELEPHONY_WS_TOKEN"`
}

// GlobalConfig is the loaded process configuration.
var GlobalConfig = &Config{}

// Load reads .env (if present) and populates GlobalConfig from the
// environment, applying defaults for anything unset.
func Load() error {
	_ = godotenv.Load()

	loadEnv(reflect.ValueOf(GlobalConfig).Elem())

	applyDefaults(GlobalConfig)
	return nil
}

func applyDefaults(c *Config) {
	if c.ServerName == "" {
		c.ServerName = "voxbridge"
	}
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
	}
	if c.DSN == "" {
		c.DSN = "voxbridge.db"
	}
	if c.APIPrefix == "" {
		c.APIPrefix = "/api"
	}
	if c.MetricsPrefix == "" {
		c.MetricsPrefix = "/metrics"
	}
	if c.LLMModel == "" {
		c.LLMModel = "gpt-4o"
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 15 * time.Second
	}
	if c.GatherRetries <= 0 {
		c.GatherRetries = 2
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.ToolLoopLimit <= 0 {
		c.ToolLoopLimit = 10
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en-GB"
	}
}

// loadEnv walks a struct and fills fields carrying an `env` tag from the
// process environment. Nested structs without a tag are walked recursively.
func loadEnv(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if field.Kind() == reflect.Struct && tag == "" {
			if field.CanAddr() && field.Type() != reflect.TypeOf(time.Time{}) {
				loadEnv(field)
			}
			continue
		}
		if tag == "" {
			continue
		}
		raw, ok := os.LookupEnv(tag)
		if !ok || raw == "" {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(raw)
		case reflect.Bool:
			field.SetBool(cast.ToBool(raw))
		case reflect.Float64:
			field.SetFloat(cast.ToFloat64(raw))
		case reflect.Int, reflect.Int64:
			if field.Type() == reflect.TypeOf(time.Duration(0)) {
				field.SetInt(int64(cast.ToDuration(raw)))
			} else {
				field.SetInt(cast.ToInt64(raw))
			}
		}
	}
}
