package webm

import (
	log "github.com/sirupsen/logrus"
)

const (
	// TimecodeScale of the muxed output, in nanoseconds
	defaultTimecodeScale = 1000000

	// interleave window in milliseconds
	defaultInterval = 100

	// audio cue points cadence in milliseconds
	defaultCuesEachMs = 5000

	// bytes reserved ahead of the clusters for the Cues element
	defaultCueReserveSize = 65535

	minimumVoidSize   = 4
	clusterHeaderSize = 8
)

type options struct {
	logger     *log.Entry
	cueReserve int
	interval   int64
	cuesEachMs int64
}

// Option configures a Reader or a Writer.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:     log.NewEntry(log.StandardLogger()),
		cueReserve: defaultCueReserveSize,
		interval:   defaultInterval,
		cuesEachMs: defaultCuesEachMs,
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

// WithCueReserve sets the bytes kept for the Cues element. The size field
// of the reservation is two bytes wide.
func WithCueReserve(size int) Option {
	return func(o *options) {
		if size >= minimumVoidSize+7 && size <= 0xFFFF {
			o.cueReserve = size
		}
	}
}

// WithInterleaveWindow sets how many milliseconds of a track are written
// before moving to the next one.
func WithInterleaveWindow(ms int64) Option {
	return func(o *options) {
		if ms > 0 {
			o.interval = ms
		}
	}
}
