package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port               int      `mapstructure:"port"`
		CorsAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
		CorsAllowedMethods []string `mapstructure:"cors_allowed_methods"`
		CorsAllowedHeaders []string `mapstructure:"cors_allowed_headers"`
	} `mapstructure:"server"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
	} `mapstructure:"database"`

	// OTP policy knobs. Passed into the rate limiter, request handler and
	// delivery chain at construction time so business logic never reads the
	// environment directly.
	OTP struct {
		CodeLength            int  `mapstructure:"code_length"`
		TTLSeconds            int  `mapstructure:"ttl_seconds"`
		ResendCooldownSeconds int  `mapstructure:"resend_cooldown_seconds"`
		MaxRequests           int  `mapstructure:"max_requests"`
		WindowSeconds         int  `mapstructure:"window_seconds"`
		MaxAttempts           int  `mapstructure:"max_attempts"`
		FailOpenOnStoreError  bool `mapstructure:"fail_open_on_store_error"`
	} `mapstructure:"otp"`

	SMS struct {
		AccountSID          string `mapstructure:"account_sid"`
		AuthToken           string `mapstructure:"auth_token"`
		MessagingServiceSID string `mapstructure:"messaging_service_sid"`
		SenderID            string `mapstructure:"sender_id"`   // alphanumeric sender identity
		FromNumber          string `mapstructure:"from_number"` // numeric sender
		ForceNumericSender  bool   `mapstructure:"force_numeric_sender"`
		ForceFallback       bool   `mapstructure:"force_fallback"`
		TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"sms"`

	Webhook struct {
		PaymentSecret string `mapstructure:"payment_secret"`
	} `mapstructure:"webhook"`
}

func Load() *Config {
	// Load .env file if exists (ignore error in production)
	godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile("configs/config.yaml")

	// Auto bind environment variables
	v.AutomaticEnv()

	// Set sensible defaults (binary works without config file)
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "verify_db")
	v.SetDefault("otp.code_length", 6)
	v.SetDefault("otp.ttl_seconds", 300)
	v.SetDefault("otp.resend_cooldown_seconds", 60)
	v.SetDefault("otp.max_requests", 3)
	v.SetDefault("otp.window_seconds", 600)
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.fail_open_on_store_error", true)
	v.SetDefault("sms.timeout_seconds", 15)

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		log.Printf("[Config] No config file found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("config unmarshal error: %v", err)
	}

	// Override database settings from DB_* environment variables
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Database.Port = n
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if pass := os.Getenv("DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}

	// SMS provider credentials come from the environment
	if sid := os.Getenv("SMS_ACCOUNT_SID"); sid != "" {
		cfg.SMS.AccountSID = sid
	}
	if token := os.Getenv("SMS_AUTH_TOKEN"); token != "" {
		cfg.SMS.AuthToken = token
	}
	if mss := os.Getenv("SMS_MESSAGING_SERVICE_SID"); mss != "" {
		cfg.SMS.MessagingServiceSID = mss
	}
	if sender := os.Getenv("SMS_SENDER_ID"); sender != "" {
		cfg.SMS.SenderID = sender
	}
	if from := os.Getenv("SMS_FROM_NUMBER"); from != "" {
		cfg.SMS.FromNumber = from
	}
	if os.Getenv("SMS_FORCE_FALLBACK") == "true" {
		cfg.SMS.ForceFallback = true
	}

	if secret := os.Getenv("PAYMENT_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.PaymentSecret = secret
	}

	return &cfg
}
