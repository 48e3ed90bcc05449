package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Provider ProviderConfig
	Billing  BillingConfig
	Realtime RealtimeConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base URL used to build
	// provider-facing callback URLs (e.g. https://api.example.com).
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// ProviderConfig configures the telephony provider account and the
// short-lived session credentials handed to calling clients.
type ProviderConfig struct {
	AccountSID string
	AuthToken  string

	// CredentialSigningKey signs client session credentials.
	// It is distinct from the API auth secret on purpose.
	CredentialSigningKey string
	CredentialTTL        time.Duration
}

// BillingConfig configures rate resolution for placed calls.
// Rates are decimal strings in major units per minute (e.g. "0.020").
type BillingConfig struct {
	Currency string

	// MarkupMultiplier is applied to the provider base rate.
	MarkupMultiplier string

	// MinimumRatePerMinute floors the marked-up rate.
	MinimumRatePerMinute string

	// DefaultRatePerMinute is used when rate lookup fails.
	DefaultRatePerMinute string

	// DefaultCallerID is the system fallback when neither the request
	// nor the user configuration names one.
	DefaultCallerID string
}

type RealtimeConfig struct {
	// PingInterval between server keepalive pings on the event channel.
	PingInterval time.Duration
	// WriteTimeout bounds a single event write to a client.
	WriteTimeout time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Provider.AccountSID = strings.TrimSpace(os.Getenv("PROVIDER_ACCOUNT_SID"))
	c.Provider.AuthToken = os.Getenv("PROVIDER_AUTH_TOKEN")
	c.Provider.CredentialSigningKey = os.Getenv("PROVIDER_CREDENTIAL_KEY")
	c.Provider.CredentialTTL = mustDuration("PROVIDER_CREDENTIAL_TTL")

	c.Billing.Currency = strings.TrimSpace(os.Getenv("BILLING_CURRENCY"))
	c.Billing.MarkupMultiplier = strings.TrimSpace(os.Getenv("BILLING_MARKUP_MULTIPLIER"))
	c.Billing.MinimumRatePerMinute = strings.TrimSpace(os.Getenv("BILLING_MIN_RATE"))
	c.Billing.DefaultRatePerMinute = strings.TrimSpace(os.Getenv("BILLING_DEFAULT_RATE"))
	c.Billing.DefaultCallerID = strings.TrimSpace(os.Getenv("BILLING_DEFAULT_CALLER_ID"))

	c.Realtime.PingInterval = mustDuration("REALTIME_PING_INTERVAL")
	c.Realtime.WriteTimeout = mustDuration("REALTIME_WRITE_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.IsProduction() && c.App.PublicBaseURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_BASE_URL is required in production (status callbacks)"))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Provider.AccountSID == "" {
		errs = append(errs, errors.New("PROVIDER_ACCOUNT_SID is required"))
	}
	if c.Provider.AuthToken == "" {
		errs = append(errs, errors.New("PROVIDER_AUTH_TOKEN is required"))
	}
	if c.Provider.CredentialSigningKey == "" {
		errs = append(errs, errors.New("PROVIDER_CREDENTIAL_KEY is required"))
	}
	if c.Provider.CredentialSigningKey != "" && c.Provider.CredentialSigningKey == c.Auth.JWTSecret {
		errs = append(errs, errors.New("PROVIDER_CREDENTIAL_KEY must differ from JWT_SECRET"))
	}
	if c.Provider.CredentialTTL <= 0 {
		// Session credentials are short-lived; clients refresh before expiry.
		c.Provider.CredentialTTL = time.Hour
	}

	if c.Billing.Currency == "" {
		c.Billing.Currency = "USD"
	}
	if c.Billing.MarkupMultiplier == "" {
		c.Billing.MarkupMultiplier = "1.5"
	}
	if c.Billing.MinimumRatePerMinute == "" {
		c.Billing.MinimumRatePerMinute = "0.010"
	}
	if c.Billing.DefaultRatePerMinute == "" {
		c.Billing.DefaultRatePerMinute = "0.100"
	}
	if c.Billing.DefaultCallerID == "" {
		errs = append(errs, errors.New("BILLING_DEFAULT_CALLER_ID is required"))
	}

	if c.Realtime.PingInterval <= 0 {
		c.Realtime.PingInterval = 30 * time.Second
	}
	if c.Realtime.WriteTimeout <= 0 {
		c.Realtime.WriteTimeout = 10 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// StatusCallbackURL is the provider-facing webhook target for call status.
func (c Config) StatusCallbackURL() string {
	return c.App.PublicBaseURL + "/calls/status-callback"
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
