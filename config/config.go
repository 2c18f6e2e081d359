package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the shorts factory.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Script    ScriptConfig    `mapstructure:"script"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Image     ImageConfig     `mapstructure:"image"`
	Media     MediaConfig     `mapstructure:"media"`
	Video     VideoConfig     `mapstructure:"video"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	OutputDir string `mapstructure:"output_dir"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	if strings.TrimSpace(g.OutputDir) == "" {
		g.OutputDir = "output"
	}
	return g
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// ScriptConfig configures the language-model script collaborator.
type ScriptConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	TargetAudience string        `mapstructure:"target_audience"`
	TargetDuration int           `mapstructure:"target_duration"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (s ScriptConfig) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("script.model is required")
	}
	return nil
}

// VoiceConfig configures the speech-synthesis collaborator.
type VoiceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Speaker    int           `mapstructure:"speaker"`
	Speed      float64       `mapstructure:"speed"`
	Pitch      float64       `mapstructure:"pitch"`
	Intonation float64       `mapstructure:"intonation"`
	Volume     float64       `mapstructure:"volume"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (v VoiceConfig) Normalize() VoiceConfig {
	if strings.TrimSpace(v.BaseURL) == "" {
		v.BaseURL = "http://localhost:50021"
	}
	if v.Speed == 0 {
		v.Speed = 1.0
	}
	if v.Intonation == 0 {
		v.Intonation = 1.0
	}
	if v.Volume == 0 {
		v.Volume = 1.0
	}
	if v.Timeout == 0 {
		v.Timeout = time.Minute
	}
	return v
}

// ImageConfig configures the image-generation collaborator.
type ImageConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Width     int           `mapstructure:"width"`
	Height    int           `mapstructure:"height"`
	Steps     int           `mapstructure:"steps"`
	MinImages int           `mapstructure:"min_images"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (i ImageConfig) Normalize() ImageConfig {
	if i.Width == 0 {
		i.Width = 1080
	}
	if i.Height == 0 {
		i.Height = 1920
	}
	if i.Steps == 0 {
		i.Steps = 4
	}
	if i.MinImages == 0 {
		i.MinImages = 3
	}
	if i.Timeout == 0 {
		i.Timeout = 2 * time.Minute
	}
	return i
}

// MediaConfig configures the stock-media collaborator.
type MediaConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Count       int           `mapstructure:"count"`
	Orientation string        `mapstructure:"orientation"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (m MediaConfig) Normalize() MediaConfig {
	if strings.TrimSpace(m.BaseURL) == "" {
		m.BaseURL = "https://api.pexels.com/videos"
	}
	if m.Count == 0 {
		m.Count = 3
	}
	if strings.TrimSpace(m.Orientation) == "" {
		m.Orientation = "portrait"
	}
	if m.Timeout == 0 {
		m.Timeout = 2 * time.Minute
	}
	return m
}

// VideoConfig controls composition output.
type VideoConfig struct {
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FPS        int    `mapstructure:"fps"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	FontFile   string `mapstructure:"font_file"`
}

func (v VideoConfig) Normalize() VideoConfig {
	if v.Width == 0 {
		v.Width = 1080
	}
	if v.Height == 0 {
		v.Height = 1920
	}
	if v.FPS == 0 {
		v.FPS = 30
	}
	if strings.TrimSpace(v.FFmpegPath) == "" {
		v.FFmpegPath = "ffmpeg"
	}
	return v
}

// PublishConfig configures the publishing platform collaborator.
type PublishConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	CategoryID   string `mapstructure:"category_id"`
	Privacy      string `mapstructure:"privacy"`
}

func (p PublishConfig) Normalize() PublishConfig {
	if strings.TrimSpace(p.CategoryID) == "" {
		p.CategoryID = "22"
	}
	if strings.TrimSpace(p.Privacy) == "" {
		p.Privacy = "private"
	}
	return p
}

// RetryConfig defines the backoff policy applied to collaborator calls.
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

func (r RetryConfig) Normalize() RetryConfig {
	if r.BaseDelay == 0 {
		r.BaseDelay = time.Second
	}
	if r.Factor == 0 {
		r.Factor = 2
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 30 * time.Second
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.CallTimeout == 0 {
		r.CallTimeout = 3 * time.Minute
	}
	return r
}

func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if r.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	return nil
}

// CacheConfig bounds the fingerprint index.
type CacheConfig struct {
	// MaxEntriesPerStage <= 0 means unbounded.
	MaxEntriesPerStage int `mapstructure:"max_entries_per_stage"`
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", host, port)
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from a JSON file plus SHORTS_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("script.temperature", 0.7)
	v.SetDefault("script.max_tokens", 2048)
	v.SetDefault("script.target_duration", 30)
	v.SetDefault("voice.speaker", 3)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SHORTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Env-only operation is allowed; a missing file is not fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.General = cfg.General.Normalize()
	cfg.Voice = cfg.Voice.Normalize()
	cfg.Image = cfg.Image.Normalize()
	cfg.Media = cfg.Media.Normalize()
	cfg.Video = cfg.Video.Normalize()
	cfg.Publish = cfg.Publish.Normalize()
	cfg.Retry = cfg.Retry.Normalize()

	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
