package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gomedia/remux/ogg"
	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm"
)

type oggOptions struct {
	output string
	track  int
}

func newOggCommand(a *app) *cobra.Command {
	opts := &oggOptions{}
	cmd := &cobra.Command{
		Use:   "ogg <source>",
		Short: "Extract a WebM track into an Ogg stream",
		Example: `  remux ogg -o audio.opus audio.webm
  remux ogg -o audio.ogg --track 1 movie.webm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOgg(args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output file")
	flags.IntVar(&opts.track, "track", -1, "track index, the first audio track when negative")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runOgg(path string, opts *oggOptions) error {
	start := time.Now()
	src, err := stream.OpenFile(path)
	if err != nil {
		return err
	}
	out, err := stream.CreateFile(opts.output)
	if err != nil {
		src.Close()
		return err
	}
	muxer, err := ogg.NewFromWebM(src, out, a.cfg.OggOptions(a.log)...)
	if err != nil {
		src.Close()
		out.Close()
		return err
	}
	defer muxer.Close()

	if err = muxer.ParseSource(); err != nil {
		return err
	}
	index := opts.track
	if index < 0 {
		if index, err = firstAudioTrack(muxer); err != nil {
			return err
		}
	}
	if _, err = muxer.SelectTrack(index); err != nil {
		return err
	}
	if err = muxer.Build(); err != nil {
		return err
	}
	a.log.WithField("serial", muxer.Serial()).Debug("ogg serial")
	a.done("ogg", opts.output, start)
	return nil
}

func firstAudioTrack(muxer *ogg.FromWebM) (int, error) {
	tracks, err := muxer.TracksFromSource()
	if err != nil {
		return 0, err
	}
	for i, track := range tracks {
		if track.Kind == webm.KindAudio {
			return i, nil
		}
	}
	return 0, errors.Wrap(stream.ErrState, "source has no audio track")
}
