package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dkeye/Conference/internal/media"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	LogLevel   string        `mapstructure:"log_level"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Media MediaConfig `mapstructure:"media"`
	Rooms RoomsConfig `mapstructure:"rooms"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MediaConfig struct {
	Workers          int                        `mapstructure:"workers"`
	ListenIP         string                     `mapstructure:"listen_ip"`
	AnnouncedIP      string                     `mapstructure:"announced_ip"`
	MinPort          int                        `mapstructure:"min_port"`
	MaxPort          int                        `mapstructure:"max_port"`
	EnableTCP        bool                       `mapstructure:"enable_tcp"`
	PreferUDP        bool                       `mapstructure:"prefer_udp"`
	WorkerDeathGrace time.Duration              `mapstructure:"worker_death_grace"`
	Codecs           []media.RtpCodecCapability `mapstructure:"codecs"`
}

type RoomsConfig struct {
	WaitingRoomDefault bool          `mapstructure:"waiting_room_default"`
	CoHostBypass       bool          `mapstructure:"cohost_bypass"`
	JoinRateLimit      int           `mapstructure:"join_rate_limit"`
	JoinRateWindow     time.Duration `mapstructure:"join_rate_window"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// WorkerCount resolves the configured worker count; 0 means one per CPU.
func (m MediaConfig) WorkerCount() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return runtime.NumCPU()
}

var defaultCodecs = []map[string]any{
	{"kind": "audio", "mime_type": "audio/opus", "clock_rate": 48000, "channels": 2},
	{"kind": "video", "mime_type": "video/VP8", "clock_rate": 90000},
	{"kind": "video", "mime_type": "video/H264", "clock_rate": 90000, "parameters": map[string]any{
		"packetization-mode":      1,
		"profile-level-id":        "42e01f",
		"level-asymmetry-allowed": 1,
	}},
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("media.workers", 0)
	v.SetDefault("media.listen_ip", "0.0.0.0")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.min_port", 40000)
	v.SetDefault("media.max_port", 40100)
	v.SetDefault("media.enable_tcp", true)
	v.SetDefault("media.prefer_udp", true)
	v.SetDefault("media.worker_death_grace", "2s")
	v.SetDefault("media.codecs", defaultCodecs)

	v.SetDefault("rooms.waiting_room_default", true)
	v.SetDefault("rooms.cohost_bypass", true)
	v.SetDefault("rooms.join_rate_limit", 10)
	v.SetDefault("rooms.join_rate_window", "10s")

	v.SetDefault("redis.url", "")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Media.MinPort <= 0 || cfg.Media.MaxPort < cfg.Media.MinPort {
		return nil, fmt.Errorf("invalid media port range %d-%d", cfg.Media.MinPort, cfg.Media.MaxPort)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).
		Int("workers", cfg.Media.WorkerCount()).Msg("config ready")
	return &cfg, nil
}
