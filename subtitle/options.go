package subtitle

import (
	log "github.com/sirupsen/logrus"
)

type options struct {
	logger            *log.Entry
	ignoreEmptyFrames bool
	crlf              bool
}

type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:            log.NewEntry(log.StandardLogger()),
		ignoreEmptyFrames: true,
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

// WithIgnoreEmptyFrames drops paragraphs without text. It is on by default.
func WithIgnoreEmptyFrames(ignore bool) Option {
	return func(o *options) {
		o.ignoreEmptyFrames = ignore
	}
}

// WithCRLF ends the SRT lines with \r\n.
func WithCRLF(crlf bool) Option {
	return func(o *options) {
		o.crlf = crlf
	}
}
