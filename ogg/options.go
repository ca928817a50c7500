package ogg

import (
	log "github.com/sirupsen/logrus"
)

type options struct {
	logger    *log.Entry
	serial    uint32
	hasSerial bool
}

// Option configures a FromWebM muxer or a Reader.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger: log.NewEntry(log.StandardLogger()),
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

// WithSerial fixes the bitstream serial number instead of a random one.
func WithSerial(serial uint32) Option {
	return func(o *options) {
		o.serial = serial
		o.hasSerial = true
	}
}
