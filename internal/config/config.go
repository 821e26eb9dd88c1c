package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the billing process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	PBX     PBXConfig
	Billing BillingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for hosted-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	// ServiceTokenSecret signs HS256 service tokens for the ops API.
	ServiceTokenSecret string
	ServiceTokenIssuer string
	ServiceTokenTTL    time.Duration
}

// PBXConfig points at the external telephony control plane
// (a FreePBX/Asterisk-style gateway reachable over HTTP).
type PBXConfig struct {
	BaseURL        string
	APIToken       string
	RequestTimeout time.Duration
}

// BillingConfig carries the billing-policy knobs. These feed a
// billing.SettingsSource so new sessions pick up operator changes
// without a restart.
type BillingConfig struct {
	// DefaultIncrement is an "initial/subsequent" policy string, e.g. "60/60".
	DefaultIncrement string

	TickInterval time.Duration
	SessionTTL   time.Duration

	// GracePeriodSeconds: wait-and-recheck window before terminating a
	// call for insufficient balance. 0 disables the grace re-check.
	GracePeriodSeconds int

	// LowBalanceThreshold is a decimal string (account currency units).
	LowBalanceThreshold string

	AutoTerminate bool

	MaxBillingRetries int

	// SweepSchedule is a cron spec for the batch billing sweep.
	SweepSchedule string
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

	c.Auth.ServiceTokenSecret = os.Getenv("SERVICE_TOKEN_SECRET")
	c.Auth.ServiceTokenIssuer = strings.TrimSpace(os.Getenv("SERVICE_TOKEN_ISSUER"))
	c.Auth.ServiceTokenTTL = optDuration("SERVICE_TOKEN_TTL")

	c.PBX.BaseURL = strings.TrimSpace(os.Getenv("PBX_BASE_URL"))
	c.PBX.APIToken = os.Getenv("PBX_API_TOKEN")
	c.PBX.RequestTimeout = optDuration("PBX_REQUEST_TIMEOUT")

	c.Billing.DefaultIncrement = strings.TrimSpace(os.Getenv("BILLING_DEFAULT_INCREMENT"))
	c.Billing.TickInterval = optDuration("BILLING_TICK_INTERVAL")
	c.Billing.SessionTTL = optDuration("BILLING_SESSION_TTL")
	c.Billing.GracePeriodSeconds = optInt("BILLING_GRACE_SECONDS")
	c.Billing.LowBalanceThreshold = strings.TrimSpace(os.Getenv("BILLING_LOW_BALANCE_THRESHOLD"))
	c.Billing.AutoTerminate = optBool("BILLING_AUTO_TERMINATE", true)
	c.Billing.MaxBillingRetries = optInt("BILLING_MAX_RETRIES")
	c.Billing.SweepSchedule = strings.TrimSpace(os.Getenv("BILLING_SWEEP_SCHEDULE"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required settings and fills environment-appropriate
// defaults. Pointer receiver so defaults survive the call.
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

	if c.Auth.ServiceTokenSecret == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN_SECRET is required"))
	}
	if c.IsProduction() && c.Auth.ServiceTokenIssuer == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN_ISSUER is required in production"))
	}

	if c.PBX.BaseURL == "" {
		errs = append(errs, errors.New("PBX_BASE_URL is required"))
	}

	// Empty means the billing engine's built-in default (60/60).
	if c.Billing.DefaultIncrement != "" && !looksLikeIncrement(c.Billing.DefaultIncrement) {
		errs = append(errs, fmt.Errorf("BILLING_DEFAULT_INCREMENT must look like \"initial/subsequent\", got %q", c.Billing.DefaultIncrement))
	}
	if c.Billing.GracePeriodSeconds < 0 {
		errs = append(errs, errors.New("BILLING_GRACE_SECONDS must be >= 0"))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func optDuration(key string) time.Duration {
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

// looksLikeIncrement is a syntax precheck only; full validation happens in
// the rates policy parser.
func looksLikeIncrement(v string) bool {
	parts := strings.Split(v, "/")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return false
		}
	}
	return true
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
