// Package config loads the service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then UMOJA_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "UMOJA"

// Config is the complete service configuration.
type Config struct {
	Server     Server      `yaml:"server"`
	Log        Log         `yaml:"log"`
	Database   Database    `yaml:"database"`
	Redis      RedisConfig `yaml:"redis"`
	Kafka      Kafka       `yaml:"kafka"`
	Auth       Auth        `yaml:"auth"`
	Governance Governance  `yaml:"governance"`
	Escrow     Escrow      `yaml:"escrow"`
	Rewards    Rewards     `yaml:"rewards"`
	Evidence   Evidence    `yaml:"evidence"`
	Tracing    Tracing     `yaml:"tracing"`

	// PolicyFile is a YAML consensus policy file. Empty uses the built-in policies.
	PolicyFile string `yaml:"policyFile" envconfig:"POLICY_FILE"`
	// IdentityFile is a YAML membership directory for the static identity adapter.
	IdentityFile string `yaml:"identityFile" envconfig:"IDENTITY_FILE"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"            envconfig:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"  envconfig:"REQUEST_TIMEOUT"`
}

type Log struct {
	Level  string `yaml:"level"  envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Database selects the store backend. An empty DSN keeps every store in memory.
type Database struct {
	DSN          string `yaml:"dsn"          envconfig:"DSN"`
	MaxOpenConns int    `yaml:"maxOpenConns" envconfig:"MAX_OPEN_CONNS"`
	Migrate      bool   `yaml:"migrate"      envconfig:"MIGRATE"`
}

// RedisConfig configures the identity read-through cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"          envconfig:"URL"`
	PoolSize     int           `yaml:"poolSize"     envconfig:"POOL_SIZE"`
	MinIdleConns int           `yaml:"minIdleConns" envconfig:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dialTimeout"  envconfig:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"readTimeout"  envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"WRITE_TIMEOUT"`
	IdentityTTL  time.Duration `yaml:"identityTTL"  envconfig:"IDENTITY_TTL"`
}

// Kafka configures the event feed. No brokers keeps the feed in process.
type Kafka struct {
	Brokers       []string `yaml:"brokers"       envconfig:"BROKERS"`
	Topic         string   `yaml:"topic"         envconfig:"TOPIC"`
	ConsumerGroup string   `yaml:"consumerGroup" envconfig:"CONSUMER_GROUP"`
	Partitions    int32    `yaml:"partitions"    envconfig:"PARTITIONS"`
}

type Auth struct {
	JWTSigningKey string        `yaml:"jwtSigningKey" envconfig:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `yaml:"jwtIssuer"     envconfig:"JWT_ISSUER"`
	TokenTTL      time.Duration `yaml:"tokenTTL"      envconfig:"TOKEN_TTL"`
}

type Governance struct {
	GracePeriod   time.Duration `yaml:"gracePeriod"   envconfig:"GRACE_PERIOD"`
	SweepInterval time.Duration `yaml:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
	OCCAttempts   int           `yaml:"occAttempts"   envconfig:"OCC_ATTEMPTS"`
	// MaxVotingPower caps the weight of a single ballot.
	MaxVotingPower int64 `yaml:"maxVotingPower" envconfig:"MAX_VOTING_POWER"`
}

type Escrow struct {
	// LedgerPrincipal is the actor the ledger adapter posts receipts as.
	LedgerPrincipal     string        `yaml:"ledgerPrincipal"     envconfig:"LEDGER_PRINCIPAL"`
	RetryInterval       time.Duration `yaml:"retryInterval"       envconfig:"RETRY_INTERVAL"`
	RetryBudget         int           `yaml:"retryBudget"          envconfig:"RETRY_BUDGET"`
	RetryInitialBackoff time.Duration `yaml:"retryInitialBackoff"  envconfig:"RETRY_INITIAL_BACKOFF"`
	RetryMaxBackoff     time.Duration `yaml:"retryMaxBackoff"      envconfig:"RETRY_MAX_BACKOFF"`
	OCCAttempts         int           `yaml:"occAttempts"          envconfig:"OCC_ATTEMPTS"`
	LedgerRatePerSecond float64       `yaml:"ledgerRatePerSecond"  envconfig:"LEDGER_RATE_PER_SECOND"`
	LedgerBurst         int           `yaml:"ledgerBurst"          envconfig:"LEDGER_BURST"`
	LedgerTimeout       time.Duration `yaml:"ledgerTimeout"        envconfig:"LEDGER_TIMEOUT"`
}

// Rewards holds the accrual rates in reward units.
type Rewards struct {
	// ContributionRateBP rewards a contribution with amount * rate / 10000.
	ContributionRateBP int64         `yaml:"contributionRateBP" envconfig:"CONTRIBUTION_RATE_BP"`
	VerificationReward int64         `yaml:"verificationReward" envconfig:"VERIFICATION_REWARD"`
	VoteReward         int64         `yaml:"voteReward"         envconfig:"VOTE_REWARD"`
	ElderMultiplierBP  int64         `yaml:"elderMultiplierBP"  envconfig:"ELDER_MULTIPLIER_BP"`
	RetryInterval      time.Duration `yaml:"retryInterval"      envconfig:"RETRY_INTERVAL"`
	MaxAttempts        int           `yaml:"maxAttempts"        envconfig:"MAX_ATTEMPTS"`
}

// Evidence selects the blob store. An empty bucket keeps evidence in memory.
type Evidence struct {
	S3Bucket   string `yaml:"s3Bucket"   envconfig:"S3_BUCKET"`
	S3Prefix   string `yaml:"s3Prefix"   envconfig:"S3_PREFIX"`
	S3Region   string `yaml:"s3Region"   envconfig:"S3_REGION"`
	S3Endpoint string `yaml:"s3Endpoint" envconfig:"S3_ENDPOINT"`
	MaxBytes   int64  `yaml:"maxBytes"   envconfig:"MAX_BYTES"`
}

type Tracing struct {
	OTLPEndpoint string  `yaml:"otlpEndpoint" envconfig:"OTLP_ENDPOINT"`
	SampleRatio  float64 `yaml:"sampleRatio"  envconfig:"SAMPLE_RATIO"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Database: Database{
			MaxOpenConns: 20,
			Migrate:      true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			IdentityTTL:  time.Minute,
		},
		Kafka: Kafka{
			Topic:         "umoja.events",
			ConsumerGroup: "umoja-rewards",
			Partitions:    6,
		},
		Auth: Auth{
			// Development default; production deployments set UMOJA_AUTH_JWT_SIGNING_KEY.
			JWTSigningKey: "dev-secret-key-change-in-production",
			JWTIssuer:     "umoja",
			TokenTTL:      time.Hour,
		},
		Governance: Governance{
			GracePeriod:    24 * time.Hour,
			SweepInterval:  time.Minute,
			OCCAttempts:    5,
			MaxVotingPower: 10_000,
		},
		Escrow: Escrow{
			LedgerPrincipal:     "ledger",
			RetryInterval:       30 * time.Second,
			RetryBudget:         8,
			RetryInitialBackoff: 5 * time.Second,
			RetryMaxBackoff:     30 * time.Minute,
			OCCAttempts:         5,
			LedgerRatePerSecond: 20,
			LedgerBurst:         5,
			LedgerTimeout:       10 * time.Second,
		},
		Rewards: Rewards{
			ContributionRateBP: 100,
			VerificationReward: 50,
			VoteReward:         1,
			ElderMultiplierBP:  15000,
			RetryInterval:      15 * time.Second,
			MaxAttempts:        10,
		},
		Evidence: Evidence{
			S3Prefix: "evidence/",
			MaxBytes: 25 << 20,
		},
		Tracing: Tracing{SampleRatio: 1},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Governance.GracePeriod < 0 {
		errs = append(errs, errors.New("governance.gracePeriod must not be negative"))
	}
	if c.Governance.OCCAttempts < 1 || c.Escrow.OCCAttempts < 1 {
		errs = append(errs, errors.New("occAttempts must be at least 1"))
	}
	if c.Governance.MaxVotingPower < 1 {
		errs = append(errs, errors.New("governance.maxVotingPower must be at least 1"))
	}
	if strings.TrimSpace(c.Escrow.LedgerPrincipal) == "" {
		errs = append(errs, errors.New("escrow.ledgerPrincipal is required"))
	}
	if c.Escrow.RetryBudget < 1 {
		errs = append(errs, errors.New("escrow.retryBudget must be at least 1"))
	}
	if c.Escrow.LedgerRatePerSecond <= 0 {
		errs = append(errs, errors.New("escrow.ledgerRatePerSecond must be positive"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwtSigningKey is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sampleRatio must be within [0,1]"))
	}
	return errors.Join(errs...)
}
