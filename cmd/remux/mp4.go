package main

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gomedia/remux/mp4"
	"github.com/gomedia/remux/stream"
)

type mp4Options struct {
	output string
	tracks []int
	brand  string
}

func newMP4Command(a *app) *cobra.Command {
	opts := &mp4Options{}
	cmd := &cobra.Command{
		Use:   "mp4 <source>...",
		Short: "Join DASH tracks into one progressive MP4",
		Example: `  remux mp4 -o movie.mp4 video.mp4 audio.mp4
  remux mp4 -o movie.mp4 --track 1,0 --brand isom video.mp4 audio.mp4`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMP4(args, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output file")
	flags.IntSliceVar(&opts.tracks, "track", nil, "track index of every source, 0 when omitted")
	flags.StringVar(&opts.brand, "brand", "", "ftyp major brand, four characters")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runMP4(paths []string, opts *mp4Options) error {
	start := time.Now()
	muxOpts, err := a.cfg.MP4Options(a.log)
	if err != nil {
		return err
	}
	indexes, err := trackIndexes(opts.tracks, len(paths))
	if err != nil {
		return err
	}
	if opts.brand != "" && len(opts.brand) != 4 {
		return errors.Wrapf(stream.ErrState, "brand %q is not four characters", opts.brand)
	}

	sources, err := openSources(paths)
	if err != nil {
		return err
	}
	muxer, err := mp4.NewMuxer(sources, muxOpts...)
	if err != nil {
		return err
	}
	defer muxer.Close()

	if err = muxer.ParseSources(); err != nil {
		return err
	}
	if err = muxer.SelectTracks(indexes...); err != nil {
		return err
	}
	if opts.brand != "" {
		muxer.SetMainBrand(binary.BigEndian.Uint32([]byte(opts.brand)))
	}
	out, err := stream.CreateFile(opts.output)
	if err != nil {
		return err
	}
	defer out.Close()
	if err = muxer.Build(out); err != nil {
		return err
	}
	a.done("mp4", opts.output, start)
	return nil
}
