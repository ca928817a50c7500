package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gomedia/remux/mp4"
	"github.com/gomedia/remux/ogg"
	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm"
)

type probeTrack struct {
	Index      int     `yaml:"index"`
	ID         uint64  `yaml:"id"`
	Kind       string  `yaml:"kind"`
	Codec      string  `yaml:"codec"`
	Timescale  uint32  `yaml:"timescale,omitempty"`
	Language   string  `yaml:"language,omitempty"`
	Width      uint64  `yaml:"width,omitempty"`
	Height     uint64  `yaml:"height,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
	Channels   uint64  `yaml:"channels,omitempty"`
	Packets    int     `yaml:"packets,omitempty"`
	Granule    uint64  `yaml:"granule,omitempty"`
}

type probeResult struct {
	File     string       `yaml:"file"`
	Format   string       `yaml:"format"`
	Brands   []string     `yaml:"brands,omitempty"`
	Duration float64      `yaml:"duration,omitempty"`
	Tracks   []probeTrack `yaml:"tracks"`
}

func newProbeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "probe <file>...",
		Short:   "Print the tracks of DASH MP4, WebM and Ogg files as YAML",
		Example: `  remux probe video.mp4 audio.webm audio.opus`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]*probeResult, 0, len(args))
			for _, path := range args {
				result, err := a.probeFile(path)
				if err != nil {
					return errors.WithMessage(err, path)
				}
				results = append(results, result)
			}
			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			if err := enc.Encode(results); err != nil {
				return errors.Wrap(err, "encode probe")
			}
			return enc.Close()
		},
	}
}

func (a *app) probeFile(path string) (*probeResult, error) {
	f, err := stream.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 8)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(stream.ErrMalformed, "file too short to probe")
	}
	if err = f.Rewind(); err != nil {
		return nil, errors.Wrap(err, "rewind")
	}
	result := &probeResult{File: path}
	switch {
	case n >= 4 && bytes.Equal(magic[:4], []byte("OggS")):
		result.Format = "ogg"
		err = a.probeOgg(f, result)
	case n >= 4 && binary.BigEndian.Uint32(magic) == 0x1A45DFA3:
		result.Format = "webm"
		err = a.probeWebM(f, result)
	case n == 8 && bytes.Equal(magic[4:], []byte("ftyp")):
		result.Format = "mp4"
		err = a.probeMP4(f, result)
	default:
		err = errors.Wrap(stream.ErrMalformed, "unknown container")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *app) probeMP4(src io.Reader, result *probeResult) error {
	reader, err := mp4.NewDashReader(src, mp4.WithLogger(a.log))
	if err != nil {
		return err
	}
	if err = reader.Parse(); err != nil {
		return err
	}
	for _, brand := range reader.Brands() {
		var tag [4]byte
		binary.BigEndian.PutUint32(tag[:], brand)
		result.Brands = append(result.Brands, string(tag[:]))
	}
	for i, track := range reader.Tracks() {
		result.Tracks = append(result.Tracks, probeTrack{
			Index:     i,
			ID:        uint64(track.TrackID),
			Kind:      track.Kind.String(),
			Codec:     track.Codec.String(),
			Timescale: track.Timescale,
			Width:     uint64(track.Width >> 16),
			Height:    uint64(track.Height >> 16),
		})
	}
	return nil
}

func (a *app) probeWebM(src io.Reader, result *probeResult) error {
	reader, err := webm.NewReader(src, webm.WithLogger(a.log))
	if err != nil {
		return err
	}
	if err = reader.Parse(); err != nil {
		return err
	}
	info := reader.Info()
	result.Duration = info.Duration
	for i, track := range reader.Tracks() {
		result.Tracks = append(result.Tracks, probeTrack{
			Index:      i,
			ID:         track.Number,
			Kind:       track.Kind.String(),
			Codec:      track.CodecID,
			Language:   track.Language,
			Width:      track.PixelWidth,
			Height:     track.PixelHeight,
			SampleRate: track.SamplingFrequency,
			Channels:   track.Channels,
		})
	}
	return nil
}

// probeOgg walks every packet, Ogg has no index to read the streams from.
func (a *app) probeOgg(src io.Reader, result *probeResult) error {
	reader, err := ogg.NewReader(src, ogg.WithLogger(a.log))
	if err != nil {
		return err
	}
	counts := make(map[uint32]*probeTrack)
	for {
		pkt, err := reader.NextPacket()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		t, ok := counts[pkt.Serial]
		if !ok {
			t = &probeTrack{ID: uint64(pkt.Serial), Kind: "other"}
			counts[pkt.Serial] = t
		}
		t.Packets++
		if pkt.Granule != 0 && pkt.Granule != ^uint64(0) {
			t.Granule = pkt.Granule
		}
	}
	for serial, codec := range reader.Streams() {
		if t, ok := counts[serial]; ok {
			t.Codec = codec.String()
			if codec != ogg.CodecUnknown {
				t.Kind = "audio"
			}
		}
	}
	serials := make([]uint32, 0, len(counts))
	for serial := range counts {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })
	for i, serial := range serials {
		t := counts[serial]
		t.Index = i
		result.Tracks = append(result.Tracks, *t)
	}
	return nil
}
