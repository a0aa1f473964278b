package config

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/gotrs-io/casesync/internal/workspace"
)

// EnvPrefix prefixes every environment override, e.g. CASESYNC_IMAP_HOST.
const EnvPrefix = "CASESYNC"

// FileName is the config file searched for by Load.
const FileName = "casesync"

var (
	cfg *Config
	mu  sync.RWMutex
)

// Config holds all engine configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	IMAP      IMAPConfig       `mapstructure:"imap"`
	SMTP      SMTPConfig       `mapstructure:"smtp"`
	Store     StoreConfig      `mapstructure:"store"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Routing   RoutingConfig    `mapstructure:"routing"`
	Workspace workspace.Schema `mapstructure:"workspace"`
	Convert   ConvertConfig    `mapstructure:"convert"`
	Outbound  OutboundConfig   `mapstructure:"outbound"`
	Inbound   InboundConfig    `mapstructure:"inbound"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LoggingConfig struct {
	Prefix  string `mapstructure:"prefix"`
	Verbose bool   `mapstructure:"verbose"`
}

// IMAPConfig describes the watched mailbox.
type IMAPConfig struct {
	Type          string `mapstructure:"type"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Folder        string `mapstructure:"folder"`
	ArchiveFolder string `mapstructure:"archive_folder"`
	AutoArchive   bool   `mapstructure:"auto_archive"`
	BatchSize     int    `mapstructure:"batch_size"`
}

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	AuthType   string `mapstructure:"auth_type"`
	TLSMode    string `mapstructure:"tls_mode"`
	SkipVerify bool   `mapstructure:"skip_verify"`
	From       string `mapstructure:"from"`
	FromName   string `mapstructure:"from_name"`
}

// StoreConfig selects the record store. Driver "memory" keeps everything in process.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables Redis-backed cursors when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Type         string `mapstructure:"type"`
	FSPath       string `mapstructure:"fs_path"`
	FSPublicURL  string `mapstructure:"fs_public_url"`
	S3Bucket     string `mapstructure:"s3_bucket"`
	S3Region     string `mapstructure:"s3_region"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3Prefix     string `mapstructure:"s3_prefix"`
	S3PublicURL  string `mapstructure:"s3_public_url"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	MirrorRemote bool   `mapstructure:"mirror_remote"`
}

// RoutingConfig maps the support aliases to case routes.
type RoutingConfig struct {
	TechnicalAlias  string   `mapstructure:"technical_alias"`
	SupportAlias    string   `mapstructure:"support_alias"`
	TrackingAlias   string   `mapstructure:"tracking_alias"`
	InternalDomains []string `mapstructure:"internal_domains"`
	TrackingPolicy  string   `mapstructure:"tracking_policy"`
}

type ConvertConfig struct {
	PlainTextMode  string `mapstructure:"plain_text_mode"`
	InlineMaxBytes int    `mapstructure:"inline_max_bytes"`
	Concurrency    int    `mapstructure:"concurrency"`
}

type OutboundConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	SendEnabled         bool          `mapstructure:"send_enabled"`
	RenderDir           string        `mapstructure:"render_dir"`
	DownloadConcurrency int           `mapstructure:"download_concurrency"`
	Workers             int           `mapstructure:"workers"`
	Brand               string        `mapstructure:"brand"`
	TemplateDir         string        `mapstructure:"template_dir"`
}

type InboundConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Defaults returns the values used for every key the file and environment leave unset.
func Defaults() Config {
	return Config{
		App: AppConfig{Name: "casesync", Env: "development"},
		IMAP: IMAPConfig{
			Type:          "imaps",
			Port:          993,
			Folder:        "INBOX",
			ArchiveFolder: "[Gmail]/All Mail",
			BatchSize:     50,
		},
		SMTP: SMTPConfig{
			Enabled:  true,
			Port:     587,
			AuthType: "plain",
			TLSMode:  "starttls",
		},
		Store:     StoreConfig{Driver: "sqlite", DSN: "casesync.db"},
		Redis:     RedisConfig{Prefix: "casesync:cursor:"},
		Storage:   StorageConfig{Type: "none", FSPath: "attachments"},
		Routing:   RoutingConfig{InternalDomains: []string{}, TrackingPolicy: "keep"},
		Workspace: workspace.DefaultSchema(),
		Convert:   ConvertConfig{PlainTextMode: "paragraphs", InlineMaxBytes: 40 * 1024, Concurrency: 5},
		Outbound: OutboundConfig{
			PollInterval:        time.Minute,
			SendEnabled:         true,
			RenderDir:           "rendered",
			DownloadConcurrency: 5,
			Workers:             2,
		},
		Inbound: InboundConfig{PollInterval: time.Minute},
		Metrics: MetricsConfig{Listen: ":9090"},
	}
}

// Load reads casesync.yaml from configDir, "." or /etc/casesync, applies CASESYNC_ environment
// overrides and stores the result for Get. A missing file is not an error.
func Load(configDir string) (*Config, error) {
	v := newViper()
	v.SetConfigName(FileName)
	if configDir != "" {
		v.AddConfigPath(configDir)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/casesync")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(configFile string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// MustLoad loads configuration and panics on error
func MustLoad(configDir string) *Config {
	c, err := Load(configDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return c
}

// Get returns the last loaded configuration, or nil before any load.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// WatchConfig logs edits to configFile. Running loops keep the configuration they started
// with, so an edit only takes effect after a restart.
func WatchConfig(configFile string, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		logger.Printf("config: watch disabled: %v", err)
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Printf("config: %s changed (%s); restart required to apply", e.Name, e.Op)
	})
	v.WatchConfig()
}

// Flags returns the log flags for the logging section.
func (c LoggingConfig) Flags() int {
	if c.Verbose {
		return log.LstdFlags | log.Lmicroseconds | log.Lshortfile
	}
	return log.LstdFlags
}

// IsProduction returns true if running in production mode
func (c AppConfig) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Addr returns the SMTP server address.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setStructDefaults(v, "", reflect.ValueOf(Defaults()))
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	mu.Lock()
	cfg = loaded
	mu.Unlock()
	return loaded, nil
}

// setStructDefaults registers every leaf of value under its mapstructure key. AutomaticEnv only
// resolves keys viper already knows, so each needs a default for env overrides to apply.
func setStructDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := value.Field(i)
		if fv.Kind() == reflect.Struct {
			setStructDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
