package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the application.
type Config struct {
	// Server settings
	ListenAddress string
	ListenPort    string
	StaticDir     string // Served at "/" when non-empty
	MaxBodyBytes  int64
	LogEnv        string // "production" or "development"

	// Document store settings
	StorageBackend string // "file" or "s3"
	DbFilePath     string
	SaveInterval   time.Duration // <= 0 means write-through
	EnableBackup   bool

	// S3 document mirror
	S3Bucket       string
	S3Key          string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Password reset settings
	ResetTTL      time.Duration
	ResetBackend  string // "memory" or "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Mailer settings
	MailerBackend string // "log", "smtp" or "kafka"
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	MailFrom      string
	KafkaBrokers  []string
	KafkaTopic    string

	// Credential settings
	PasswordScheme string // "plain" or "bcrypt"
	BcryptCost     int
}

const (
	envPrefix = "MEMORYBOX"

	defaultAddress        = "0.0.0.0"
	defaultPort           = "3000"
	defaultMaxBodyBytes   = 50 << 20 // Photos travel inline as data URLs
	defaultLogEnv         = "development"
	defaultStorage        = "file"
	defaultDbFile         = "./data.json" // Relative to working dir
	defaultSaveInterval   = 0 * time.Second
	defaultEnableBackup   = true
	defaultS3Key          = "memorybox/data.json"
	defaultS3Region       = "us-east-1"
	defaultResetTTL       = 2 * time.Minute
	defaultResetBackend   = "memory"
	defaultRedisAddr      = "localhost:6379"
	defaultRedisPrefix    = "memorybox:reset"
	defaultMailer         = "log"
	defaultSMTPPort       = "587"
	defaultMailFrom       = "Memory Box <no-reply@memorybox.local>"
	defaultKafkaTopic     = "memorybox.mail"
	defaultPasswordScheme = "plain"
	defaultBcryptCost     = 12
)

// LoadConfig loads configuration from defaults, environment variables, and
// the process command line.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load parses args on top of environment variables, which take precedence
// over defaults. Flags take precedence over everything.
func Load(args []string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("memorybox", flag.ContinueOnError)

	fs.StringVar(&cfg.ListenAddress, "address", v.GetString("listen_address"), "Server listen address (Env: MEMORYBOX_LISTEN_ADDRESS)")
	fs.StringVar(&cfg.ListenPort, "port", v.GetString("listen_port"), "Server listen port (Env: MEMORYBOX_LISTEN_PORT)")
	fs.StringVar(&cfg.StaticDir, "static-dir", v.GetString("static_dir"), "Directory of static files served at / (Env: MEMORYBOX_STATIC_DIR)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", v.GetInt64("max_body_bytes"), "Maximum request body size (Env: MEMORYBOX_MAX_BODY_BYTES)")
	fs.StringVar(&cfg.LogEnv, "log-env", v.GetString("log_env"), "Logger profile: production or development (Env: MEMORYBOX_LOG_ENV)")

	fs.StringVar(&cfg.StorageBackend, "storage", v.GetString("storage"), "Document storage backend: file or s3 (Env: MEMORYBOX_STORAGE)")
	fs.StringVar(&cfg.DbFilePath, "db-file", v.GetString("db_file_path"), "Path to the JSON document file (Env: MEMORYBOX_DB_FILE_PATH)")
	saveInterval := fs.String("save-interval", v.GetString("save_interval"), "Debounce interval for saving, 0 for write-through (Env: MEMORYBOX_SAVE_INTERVAL)")
	fs.BoolVar(&cfg.EnableBackup, "enable-backup", v.GetBool("enable_backup"), "Keep a .bak copy of the previous file (Env: MEMORYBOX_ENABLE_BACKUP)")

	fs.StringVar(&cfg.S3Bucket, "s3-bucket", v.GetString("s3_bucket"), "S3 bucket holding the document (Env: MEMORYBOX_S3_BUCKET)")
	fs.StringVar(&cfg.S3Key, "s3-key", v.GetString("s3_key"), "S3 object key of the document (Env: MEMORYBOX_S3_KEY)")
	fs.StringVar(&cfg.S3Region, "s3-region", v.GetString("s3_region"), "S3 region (Env: MEMORYBOX_S3_REGION)")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", v.GetString("s3_endpoint"), "Custom S3 endpoint, e.g. MinIO (Env: MEMORYBOX_S3_ENDPOINT)")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", v.GetString("s3_access_key"), "Static S3 access key (Env: MEMORYBOX_S3_ACCESS_KEY)")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", v.GetString("s3_secret_key"), "Static S3 secret key (Env: MEMORYBOX_S3_SECRET_KEY)")
	fs.BoolVar(&cfg.S3UsePathStyle, "s3-path-style", v.GetBool("s3_path_style"), "Use path-style S3 addressing (Env: MEMORYBOX_S3_PATH_STYLE)")

	resetTTL := fs.String("reset-ttl", v.GetString("reset_ttl"), "Validity of a password reset code (Env: MEMORYBOX_RESET_TTL)")
	fs.StringVar(&cfg.ResetBackend, "reset-backend", v.GetString("reset_backend"), "Reset code registry: memory or redis (Env: MEMORYBOX_RESET_BACKEND)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", v.GetString("redis_addr"), "Redis address (Env: MEMORYBOX_REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", v.GetString("redis_password"), "Redis password (Env: MEMORYBOX_REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", v.GetInt("redis_db"), "Redis database number (Env: MEMORYBOX_REDIS_DB)")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", v.GetString("redis_prefix"), "Redis key prefix (Env: MEMORYBOX_REDIS_PREFIX)")

	fs.StringVar(&cfg.MailerBackend, "mailer", v.GetString("mailer"), "Mail transport: log, smtp or kafka (Env: MEMORYBOX_MAILER)")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", v.GetString("smtp_host"), "SMTP host (Env: MEMORYBOX_SMTP_HOST)")
	fs.StringVar(&cfg.SMTPPort, "smtp-port", v.GetString("smtp_port"), "SMTP port (Env: MEMORYBOX_SMTP_PORT)")
	fs.StringVar(&cfg.SMTPUsername, "smtp-username", v.GetString("smtp_username"), "SMTP username (Env: MEMORYBOX_SMTP_USERNAME)")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", v.GetString("smtp_password"), "SMTP password (Env: MEMORYBOX_SMTP_PASSWORD)")
	fs.StringVar(&cfg.MailFrom, "mail-from", v.GetString("mail_from"), "Sender address (Env: MEMORYBOX_MAIL_FROM)")
	kafkaBrokers := fs.String("kafka-brokers", v.GetString("kafka_brokers"), "Comma separated Kafka brokers (Env: MEMORYBOX_KAFKA_BROKERS)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", v.GetString("kafka_topic"), "Kafka topic for mail events (Env: MEMORYBOX_KAFKA_TOPIC)")

	fs.StringVar(&cfg.PasswordScheme, "password-scheme", v.GetString("password_scheme"), "Stored credential scheme: plain or bcrypt (Env: MEMORYBOX_PASSWORD_SCHEME)")
	fs.IntVar(&cfg.BcryptCost, "bcrypt-cost", v.GetInt("bcrypt_cost"), "Bcrypt cost for the bcrypt scheme (Env: MEMORYBOX_BCRYPT_COST)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.SaveInterval, err = time.ParseDuration(*saveInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid save-interval '%s': %w", *saveInterval, err)
	}
	cfg.ResetTTL, err = time.ParseDuration(*resetTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid reset-ttl '%s': %w", *resetTTL, err)
	}
	if cfg.ResetTTL <= 0 {
		return nil, errors.New("reset-ttl must be positive")
	}
	cfg.KafkaBrokers = splitList(*kafkaBrokers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper layers MEMORYBOX_* environment variables over the defaults.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	setDefaults(v)

	if err := bindEnvs(v, []string{
		"listen_address", "listen_port", "static_dir", "max_body_bytes", "log_env",
		"storage", "db_file_path", "save_interval", "enable_backup",
		"s3_bucket", "s3_key", "s3_region", "s3_endpoint", "s3_access_key", "s3_secret_key", "s3_path_style",
		"reset_ttl", "reset_backend", "redis_addr", "redis_password", "redis_db", "redis_prefix",
		"mailer", "smtp_host", "smtp_port", "smtp_username", "smtp_password", "mail_from",
		"kafka_brokers", "kafka_topic", "password_scheme", "bcrypt_cost",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", defaultAddress)
	v.SetDefault("listen_port", defaultPort)
	v.SetDefault("static_dir", "")
	v.SetDefault("max_body_bytes", defaultMaxBodyBytes)
	v.SetDefault("log_env", defaultLogEnv)

	v.SetDefault("storage", defaultStorage)
	v.SetDefault("db_file_path", defaultDbFile)
	v.SetDefault("save_interval", defaultSaveInterval.String())
	v.SetDefault("enable_backup", defaultEnableBackup)
	v.SetDefault("s3_key", defaultS3Key)
	v.SetDefault("s3_region", defaultS3Region)
	v.SetDefault("s3_path_style", false)

	v.SetDefault("reset_ttl", defaultResetTTL.String())
	v.SetDefault("reset_backend", defaultResetBackend)
	v.SetDefault("redis_addr", defaultRedisAddr)
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", defaultRedisPrefix)

	v.SetDefault("mailer", defaultMailer)
	v.SetDefault("smtp_port", defaultSMTPPort)
	v.SetDefault("mail_from", defaultMailFrom)
	v.SetDefault("kafka_topic", defaultKafkaTopic)

	v.SetDefault("password_scheme", defaultPasswordScheme)
	v.SetDefault("bcrypt_cost", defaultBcryptCost)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func (cfg *Config) validate() error {
	switch cfg.StorageBackend {
	case "file":
		// Ensure DbFilePath is absolute or relative to the current working directory
		absDbPath, err := filepath.Abs(cfg.DbFilePath)
		if err != nil {
			return fmt.Errorf("could not determine absolute path for db-file '%s': %w", cfg.DbFilePath, err)
		}
		cfg.DbFilePath = absDbPath

		// The file may not exist yet, it is created on first start.
		if info, err := os.Stat(cfg.DbFilePath); err == nil && info.IsDir() {
			return fmt.Errorf("database path '%s' points to a directory, not a file", cfg.DbFilePath)
		}
	case "s3":
		if cfg.S3Bucket == "" {
			return errors.New("s3-bucket is required when storage is s3")
		}
		if cfg.S3Key == "" {
			return errors.New("s3-key must not be empty")
		}
	default:
		return fmt.Errorf("invalid storage backend '%s': must be file or s3", cfg.StorageBackend)
	}

	switch cfg.ResetBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid reset-backend '%s': must be memory or redis", cfg.ResetBackend)
	}

	switch cfg.MailerBackend {
	case "log":
		if cfg.LogEnv == "production" {
			return errors.New("mailer 'log' writes reset codes to the log and cannot be used with log-env production")
		}
	case "smtp":
		if cfg.SMTPHost == "" {
			return errors.New("smtp-host is required when mailer is smtp")
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("kafka-brokers is required when mailer is kafka")
		}
	default:
		return fmt.Errorf("invalid mailer '%s': must be log, smtp or kafka", cfg.MailerBackend)
	}

	switch cfg.PasswordScheme {
	case "plain", "bcrypt":
	default:
		return fmt.Errorf("invalid password-scheme '%s': must be plain or bcrypt", cfg.PasswordScheme)
	}

	if cfg.MaxBodyBytes <= 0 {
		return errors.New("max-body-bytes must be positive")
	}
	return nil
}

// ListenAddr returns the host:port pair the server binds to.
func (cfg *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", cfg.ListenAddress, cfg.ListenPort)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LogConfiguration prints the loaded configuration settings. Secrets are
// reported only as set or unset.
func (cfg *Config) LogConfiguration(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("listen", cfg.ListenAddr()),
		zap.String("static_dir", cfg.StaticDir),
		zap.Int64("max_body_bytes", cfg.MaxBodyBytes),
		zap.String("storage", cfg.StorageBackend),
		zap.String("db_file", cfg.DbFilePath),
		zap.String("s3_bucket", cfg.S3Bucket),
		zap.String("s3_key", cfg.S3Key),
		zap.Duration("save_interval", cfg.SaveInterval),
		zap.Bool("backup", cfg.EnableBackup),
		zap.Duration("reset_ttl", cfg.ResetTTL),
		zap.String("reset_backend", cfg.ResetBackend),
		zap.String("mailer", cfg.MailerBackend),
		zap.Bool("smtp_auth", cfg.SMTPUsername != ""),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("password_scheme", cfg.PasswordScheme),
	)
}
