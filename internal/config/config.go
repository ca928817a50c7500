// Package config resolves the remux settings from defaults, a remux.yaml
// file and REMUX_ environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gomedia/remux/mp4"
	"github.com/gomedia/remux/ogg"
	"github.com/gomedia/remux/subtitle"
	"github.com/gomedia/remux/webm"
)

const (
	KeyLogLevel         = "log.level"
	KeyChunkFirst       = "mp4.chunk.first"
	KeyChunkSuccessive  = "mp4.chunk.successive"
	KeyMoovMemoryLimit  = "mp4.moov_memory_limit"
	KeyCo64Threshold    = "mp4.co64_threshold"
	KeyCueReserve       = "webm.cue_reserve"
	KeyInterleaveWindow = "webm.interleave_window"
	KeyOggSerial        = "ogg.serial"
	KeySrtCRLF          = "srt.crlf"
	KeySrtIgnoreEmpty   = "srt.ignore_empty_frames"
	KeyCreationTime     = "mp4.creation_time"
)

// Config wraps a viper instance. The zero value is not usable, call Load.
type Config struct {
	v *viper.Viper
}

// Load reads file when it is set, otherwise remux.yaml from the working
// directory, $HOME/.remux or /etc/remux. A missing default file is fine.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyChunkFirst, 2)
	v.SetDefault(KeyChunkSuccessive, 6)
	v.SetDefault(KeyMoovMemoryLimit, (256+2048)*1024)
	v.SetDefault(KeyCo64Threshold, uint64(0xFFFF0000))
	v.SetDefault(KeyCueReserve, 0)
	v.SetDefault(KeyInterleaveWindow, 0)
	v.SetDefault(KeyOggSerial, 0)
	v.SetDefault(KeySrtCRLF, false)
	v.SetDefault(KeySrtIgnoreEmpty, true)
	v.SetDefault(KeyCreationTime, "")

	// REMUX_MP4_CHUNK_FIRST sets mp4.chunk.first
	v.SetEnvPrefix("remux")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv(KeyLogLevel, "REMUX_LOG_LEVEL")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
		return &Config{v: v}, nil
	}

	v.SetConfigName("remux")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.remux", "/etc/remux"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}
	return &Config{v: v}, nil
}

// Set overrides a key, flags take precedence over every other source.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

func (c *Config) Used() string {
	return c.v.ConfigFileUsed()
}

func (c *Config) LogLevel() (log.Level, error) {
	level, err := log.ParseLevel(c.v.GetString(KeyLogLevel))
	if err != nil {
		return log.InfoLevel, errors.Wrap(err, KeyLogLevel)
	}
	return level, nil
}

// Logger returns the entry every component logs through.
func (c *Config) Logger() (*log.Entry, error) {
	level, err := c.LogLevel()
	if err != nil {
		return nil, err
	}
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	return log.NewEntry(logger), nil
}

func (c *Config) MP4Options(logger *log.Entry) ([]mp4.Option, error) {
	opts := []mp4.Option{
		mp4.WithLogger(logger),
		mp4.WithChunkCadence(c.v.GetInt(KeyChunkFirst), c.v.GetInt(KeyChunkSuccessive)),
		mp4.WithMoovMemoryLimit(c.v.GetInt64(KeyMoovMemoryLimit)),
		mp4.WithCo64Threshold(c.v.GetUint64(KeyCo64Threshold)),
	}
	if created := c.v.GetString(KeyCreationTime); created != "" {
		t, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, errors.Wrap(err, KeyCreationTime)
		}
		opts = append(opts, mp4.WithCreationTime(t))
	}
	return opts, nil
}

func (c *Config) WebMOptions(logger *log.Entry) []webm.Option {
	opts := []webm.Option{webm.WithLogger(logger)}
	if reserve := c.v.GetInt(KeyCueReserve); reserve > 0 {
		opts = append(opts, webm.WithCueReserve(reserve))
	}
	if window := c.v.GetInt64(KeyInterleaveWindow); window > 0 {
		opts = append(opts, webm.WithInterleaveWindow(window))
	}
	return opts
}

// OggOptions pins the stream serial when ogg.serial is not zero.
func (c *Config) OggOptions(logger *log.Entry) []ogg.Option {
	opts := []ogg.Option{ogg.WithLogger(logger)}
	if serial := c.v.GetUint32(KeyOggSerial); serial != 0 {
		opts = append(opts, ogg.WithSerial(serial))
	}
	return opts
}

func (c *Config) SubtitleOptions(logger *log.Entry) []subtitle.Option {
	return []subtitle.Option{
		subtitle.WithLogger(logger),
		subtitle.WithCRLF(c.v.GetBool(KeySrtCRLF)),
		subtitle.WithIgnoreEmptyFrames(c.v.GetBool(KeySrtIgnoreEmpty)),
	}
}
