package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces all terminal environment variables.
const EnvPrefix = "TILLPOINT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App       AppConfig
	LocalDB   LocalDBConfig
	CloudDB   CloudDBConfig
	Admin     AdminConfig
	Payments  PaymentsConfig
	Transport TransportConfig
	Sync      SyncConfig
	Security  SecurityConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TILLPOINT_APP_ENV" default:"dev"`
	TerminalID   string `envconfig:"TILLPOINT_TERMINAL_ID" required:"true"`
	VenueID      string `envconfig:"TILLPOINT_VENUE_ID"`
	LogLevel     string `envconfig:"TILLPOINT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TILLPOINT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// LocalDBConfig points at the embedded store that must survive offline
// operation and restarts.
type LocalDBConfig struct {
	Path            string        `envconfig:"TILLPOINT_LOCAL_DB_PATH" default:"tillpoint.db"`
	BusyTimeout     time.Duration `envconfig:"TILLPOINT_LOCAL_DB_BUSY_TIMEOUT" default:"5s"`
	AutoMigrate     bool          `envconfig:"TILLPOINT_LOCAL_DB_AUTO_MIGRATE" default:"true"`
	MaxOpenConns    int           `envconfig:"TILLPOINT_LOCAL_DB_MAX_OPEN_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `envconfig:"TILLPOINT_LOCAL_DB_CONN_MAX_LIFETIME" default:"0"`
}

// CloudDBConfig is optional: when DSN is empty the terminal runs in
// offline-only mode and the sync workers never start.
type CloudDBConfig struct {
	DSN             string        `envconfig:"TILLPOINT_CLOUD_DB_DSN"`
	MaxOpenConns    int           `envconfig:"TILLPOINT_CLOUD_DB_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `envconfig:"TILLPOINT_CLOUD_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"TILLPOINT_CLOUD_DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"TILLPOINT_CLOUD_DB_CONN_MAX_IDLE_TIME" default:"5m"`
}

// Enabled reports whether a cloud connection is configured.
func (c CloudDBConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type AdminConfig struct {
	Port string `envconfig:"TILLPOINT_ADMIN_PORT" default:"7410"`
}

type PaymentsConfig struct {
	ReconcileURL string `envconfig:"TILLPOINT_RECONCILE_URL"`
	JWTSecret    string `envconfig:"TILLPOINT_RECONCILE_JWT_SECRET"`
	JWTIssuer    string `envconfig:"TILLPOINT_RECONCILE_JWT_ISSUER" default:"tillpoint-terminal"`
	// JWTTTL bounds the lifetime of each minted request token.
	JWTTTL time.Duration `envconfig:"TILLPOINT_RECONCILE_JWT_TTL" default:"5m"`
}

// ReconcileEnabled reports whether the batch reconciliation endpoint is
// configured.
func (p PaymentsConfig) ReconcileEnabled() bool {
	return strings.TrimSpace(p.ReconcileURL) != ""
}

func (p PaymentsConfig) validate() error {
	if p.ReconcileEnabled() && strings.TrimSpace(p.JWTSecret) == "" {
		return fmt.Errorf("%s_RECONCILE_JWT_SECRET is required when the reconcile endpoint is configured", EnvPrefix)
	}
	return nil
}

type TransportConfig struct {
	// Channel selects the payment transport: "local" talks to the physical
	// reader on the venue LAN, "cloud" falls back to the Square gateway.
	Channel        string        `envconfig:"TILLPOINT_TRANSPORT_CHANNEL" default:"local"`
	ReaderBaseURL  string        `envconfig:"TILLPOINT_READER_BASE_URL" default:"http://127.0.0.1:8443"`
	ReaderTimeout  time.Duration `envconfig:"TILLPOINT_READER_TIMEOUT" default:"30s"`
	SquareToken    string        `envconfig:"TILLPOINT_SQUARE_ACCESS_TOKEN"`
	SquareEnv      string        `envconfig:"TILLPOINT_SQUARE_ENV" default:"sandbox"`
	SquareLocation string        `envconfig:"TILLPOINT_SQUARE_LOCATION_ID"`
}

type SyncConfig struct {
	UpstreamBatchSize   int `envconfig:"TILLPOINT_SYNC_UPSTREAM_BATCH_SIZE" default:"100"`
	DownstreamBatchSize int `envconfig:"TILLPOINT_SYNC_DOWNSTREAM_BATCH_SIZE" default:"100"`
	IntentBatchSize     int `envconfig:"TILLPOINT_SYNC_INTENT_BATCH_SIZE" default:"50"`
}

type SecurityConfig struct {
	ArgonMemoryKB    int `envconfig:"TILLPOINT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"TILLPOINT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"TILLPOINT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"TILLPOINT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"TILLPOINT_ARGON_KEY_LEN" default:"32"`
}
