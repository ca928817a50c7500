package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gomedia/remux/stream"
	"github.com/gomedia/remux/subtitle"
)

func newSrtCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "srt <ttml>...",
		Short: "Convert TTML documents into one SubRip file",
		Long: `Convert TTML documents into SubRip. Cues of every document are appended
in order and numbered continuously. Without --output the cues go to stdout.`,
		Example: `  remux srt -o movie.srt part1.ttml part2.ttml`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSrt(args, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	return cmd
}

func (a *app) runSrt(paths []string, output string) error {
	start := time.Now()
	var out io.Writer = a.out
	if output != "" {
		f, err := stream.CreateFile(output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	converter, err := subtitle.NewSrtFromTtml(out, a.cfg.SubtitleOptions(a.log)...)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err = convertTtml(converter, path); err != nil {
			return err
		}
	}
	if output != "" {
		a.done("srt", output, start)
	}
	return nil
}

func convertTtml(converter *subtitle.SrtFromTtml, path string) error {
	f, err := stream.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return converter.Build(f)
}
