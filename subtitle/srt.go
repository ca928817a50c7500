// Package subtitle converts TTML subtitles to SubRip.
package subtitle

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gomedia/remux/stream"
)

// cue is one paragraph with its times in milliseconds.
type cue struct {
	begin, end int64
	text       string
}

// SrtFromTtml writes the paragraphs of TTML documents as SRT cues. The
// numbering goes on across Build calls.
type SrtFromTtml struct {
	out     io.Writer
	opts    *options
	log     *log.Entry
	newline string
	index   int
}

func NewSrtFromTtml(out io.Writer, opts ...Option) (*SrtFromTtml, error) {
	if err := stream.Require(out, "srt output", "write"); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	newline := "\n"
	if o.crlf {
		newline = "\r\n"
	}
	return &SrtFromTtml{
		out:     out,
		opts:    o,
		log:     o.logger.WithField("component", "srt"),
		newline: newline,
	}, nil
}

// Build reads a TTML document and appends its cues.
func (s *SrtFromTtml) Build(ttml io.Reader) error {
	if ttml == nil {
		return errors.Wrap(stream.ErrCapability, "nil ttml source")
	}
	cues, err := s.parse(ttml)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(s.out)
	skipped := 0
	for _, c := range cues {
		if c.text == "" && s.opts.ignoreEmptyFrames {
			skipped++
			continue
		}
		s.index++
		nl := s.newline
		text := strings.ReplaceAll(c.text, "\n", nl)
		if _, err = fmt.Fprintf(w, "%d%s%s --> %s%s%s%s%s", s.index, nl, formatTime(c.begin), formatTime(c.end), nl, text, nl, nl); err != nil {
			return errors.Wrap(err, "write srt cue")
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrap(err, "flush srt output")
	}
	s.log.WithFields(log.Fields{
		"cues":    len(cues) - skipped,
		"skipped": skipped,
	}).Debug("srt written")
	return nil
}

// parse collects the p elements under body > div.
func (s *SrtFromTtml) parse(ttml io.Reader) ([]cue, error) {
	dec := xml.NewDecoder(ttml)
	rates := defaultRates()
	var (
		path    []string
		cues    []cue
		current *cue
		text    strings.Builder
		depth   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(stream.ErrMalformed, "ttml: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			path = append(path, name)
			if current != nil {
				if name == "br" {
					text.WriteByte('\n')
				}
				continue
			}
			switch {
			case name == "tt":
				if err = rates.parse(t.Attr); err != nil {
					return nil, err
				}
			case name == "p" && inBodyDiv(path):
				c, err := rates.paragraph(t.Attr)
				if err != nil {
					return nil, err
				}
				current = c
				depth = len(path)
				text.Reset()
			}
		case xml.EndElement:
			if current != nil && len(path) == depth {
				current.text = cleanText(text.String())
				cues = append(cues, *current)
				current = nil
			}
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		case xml.CharData:
			if current != nil {
				// source line breaks are plain whitespace, only br breaks lines
				text.WriteString(strings.Map(func(r rune) rune {
					if r == '\n' || r == '\r' || r == '\t' {
						return ' '
					}
					return r
				}, string(t)))
			}
		}
	}
	return cues, nil
}

func inBodyDiv(path []string) bool {
	body, div := false, false
	for _, name := range path[:len(path)-1] {
		switch name {
		case "body":
			body = true
		case "div":
			div = body
		}
	}
	return div
}

// cleanText collapses whitespace runs to one space and trims every line.
func cleanText(raw string) string {
	lines := strings.Split(raw, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		out = append(out, line)
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}

func formatTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
