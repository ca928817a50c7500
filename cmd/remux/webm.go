package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/webm"
)

type webmOptions struct {
	output string
	tracks []int
}

func newWebMCommand(a *app) *cobra.Command {
	opts := &webmOptions{}
	cmd := &cobra.Command{
		Use:     "webm <source>...",
		Short:   "Interleave WebM tracks into one seekable WebM",
		Example: `  remux webm -o movie.webm video.webm audio.webm`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWebM(args, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output file")
	flags.IntSliceVar(&opts.tracks, "track", nil, "track index of every source, 0 when omitted")
	cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runWebM(paths []string, opts *webmOptions) error {
	start := time.Now()
	indexes, err := trackIndexes(opts.tracks, len(paths))
	if err != nil {
		return err
	}
	sources, err := openSources(paths)
	if err != nil {
		return err
	}
	writer, err := webm.NewWriter(sources, a.cfg.WebMOptions(a.log)...)
	if err != nil {
		return err
	}
	defer writer.Close()

	if err = writer.ParseSources(); err != nil {
		return err
	}
	if err = writer.SelectTracks(indexes...); err != nil {
		return err
	}
	out, err := stream.CreateFile(opts.output)
	if err != nil {
		return err
	}
	defer out.Close()
	if err = writer.Build(out); err != nil {
		return err
	}
	a.log.WithField("cues", len(writer.Cues())).Debug("webm cues")
	a.done("webm", opts.output, start)
	return nil
}
