package subtitle

import (
	"encoding/xml"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomedia/remux/stream"
)

// rates are the ttp parameters frame and tick based times depend on.
type rates struct {
	frameRate float64
	tickRate  float64
}

func defaultRates() *rates {
	return &rates{frameRate: 30, tickRate: 1}
}

func (r *rates) parse(attrs []xml.Attr) error {
	for _, a := range attrs {
		var target *float64
		switch a.Name.Local {
		case "frameRate":
			target = &r.frameRate
		case "tickRate":
			target = &r.tickRate
		default:
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
		if err != nil || v <= 0 {
			return errors.Wrapf(stream.ErrMalformed, "ttml %s %q", a.Name.Local, a.Value)
		}
		*target = v
	}
	return nil
}

// paragraph reads begin plus end or dur of a p element.
func (r *rates) paragraph(attrs []xml.Attr) (*cue, error) {
	var begin, end, dur string
	for _, a := range attrs {
		switch a.Name.Local {
		case "begin":
			begin = a.Value
		case "end":
			end = a.Value
		case "dur":
			dur = a.Value
		}
	}
	if begin == "" || end == "" && dur == "" {
		return nil, errors.Wrap(stream.ErrMalformed, "ttml paragraph without begin and end")
	}
	c := &cue{}
	var err error
	if c.begin, err = r.parseTime(begin); err != nil {
		return nil, err
	}
	if end != "" {
		c.end, err = r.parseTime(end)
	} else {
		var d int64
		d, err = r.parseTime(dur)
		c.end = c.begin + d
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// parseTime converts a TTML clock time (HH:MM:SS.fff or HH:MM:SS:frames)
// or offset time (12.5s, 1500ms, 2m, 1h, 30f, 90t) to milliseconds.
func (r *rates) parseTime(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if strings.Contains(v, ":") {
		return r.parseClock(v)
	}
	metric := ""
	for _, m := range []string{"ms", "h", "m", "s", "f", "t"} {
		if strings.HasSuffix(v, m) {
			metric = m
			break
		}
	}
	if metric == "" {
		return 0, errors.Wrapf(stream.ErrMalformed, "ttml time %q", value)
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(v, metric), 64)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(stream.ErrMalformed, "ttml time %q", value)
	}
	var seconds float64
	switch metric {
	case "h":
		seconds = n * 3600
	case "m":
		seconds = n * 60
	case "s":
		seconds = n
	case "ms":
		seconds = n / 1000
	case "f":
		seconds = n / r.frameRate
	case "t":
		seconds = n / r.tickRate
	}
	return int64(math.Round(seconds * 1000)), nil
}

func (r *rates) parseClock(v string) (int64, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return 0, errors.Wrapf(stream.ErrMalformed, "ttml clock time %q", v)
	}
	var fields [3]float64
	for i := 0; i < 3; i++ {
		n, err := strconv.ParseFloat(parts[i], 64)
		if err != nil || n < 0 || i < 2 && strings.Contains(parts[i], ".") {
			return 0, errors.Wrapf(stream.ErrMalformed, "ttml clock time %q", v)
		}
		fields[i] = n
	}
	seconds := fields[0]*3600 + fields[1]*60 + fields[2]
	if len(parts) == 4 {
		frames, err := strconv.ParseFloat(parts[3], 64)
		if err != nil || frames < 0 {
			return 0, errors.Wrapf(stream.ErrMalformed, "ttml clock time %q", v)
		}
		seconds += frames / r.frameRate
	}
	return int64(math.Round(seconds * 1000)), nil
}
