package mp4

import (
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// samples in the first chunk of a track and in the following ones
	defaultSamplesPerChunkInit = 2
	defaultSamplesPerChunk     = 6

	// moov boxes below this size are assembled in memory
	defaultMoovMemoryLimit = (256 + 2048) * 1024

	// mdat sizes from this value on need 64 bit chunk offsets
	defaultCo64Threshold = 0xFFFF0000
)

type options struct {
	logger              *log.Entry
	samplesPerChunkInit int
	samplesPerChunk     int
	moovMemoryLimit     int64
	co64Threshold       uint64
	creationTime        time.Time
}

// Option configures a DashReader or a Muxer.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:              log.NewEntry(log.StandardLogger()),
		samplesPerChunkInit: defaultSamplesPerChunkInit,
		samplesPerChunk:     defaultSamplesPerChunk,
		moovMemoryLimit:     defaultMoovMemoryLimit,
		co64Threshold:       defaultCo64Threshold,
		creationTime:        time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithChunkCadence sets how many samples go in the first chunk of a track
// and in every following chunk.
func WithChunkCadence(first, successive int) Option {
	return func(o *options) {
		if first > 0 {
			o.samplesPerChunkInit = first
		}
		if successive > 0 {
			o.samplesPerChunk = successive
		}
	}
}

func WithMoovMemoryLimit(limit int64) Option {
	return func(o *options) {
		o.moovMemoryLimit = limit
	}
}

func WithCo64Threshold(threshold uint64) Option {
	return func(o *options) {
		o.co64Threshold = threshold
	}
}

func WithCreationTime(t time.Time) Option {
	return func(o *options) {
		o.creationTime = t
	}
}
