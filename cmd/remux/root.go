package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gomedia/remux/internal/config"
	"github.com/gomedia/remux/stream"
)

// app carries what every subcommand shares once the config is loaded.
type app struct {
	out        io.Writer
	configFile string
	logLevel   string
	cfg        *config.Config
	log        *log.Entry
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "remux",
		Short: "Remux DASH, WebM and TTML media without transcoding",
		Long: `remux rewrites media containers without touching the coded frames:
DASH fragments become a progressive MP4, WebM tracks are interleaved into a
seekable WebM, a WebM audio track becomes an Ogg stream and TTML subtitles
become SubRip.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default remux.yaml in ., $HOME/.remux or /etc/remux)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level, overrides log.level of the config")

	root.AddCommand(newMP4Command(a))
	root.AddCommand(newWebMCommand(a))
	root.AddCommand(newOggCommand(a))
	root.AddCommand(newSrtCommand(a))
	root.AddCommand(newProbeCommand(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Set(config.KeyLogLevel, a.logLevel)
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	if used := cfg.Used(); used != "" {
		logger.Debugf("config %s", used)
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) done(kind, path string, start time.Time) {
	fmt.Fprintf(a.out, "%s %s %s in %s\n",
		color.GreenString("done"), kind, color.CyanString(path), time.Since(start).Round(time.Millisecond))
}

// openSources opens every path for reading, nothing stays open on error.
func openSources(paths []string) ([]io.Reader, error) {
	sources := make([]io.Reader, 0, len(paths))
	for _, path := range paths {
		f, err := stream.OpenFile(path)
		if err != nil {
			for _, src := range sources {
				stream.Close(src)
			}
			return nil, err
		}
		sources = append(sources, f)
	}
	return sources, nil
}

// trackIndexes picks track 0 of every source unless --track lists one
// index per source.
func trackIndexes(flag []int, sources int) ([]int, error) {
	if len(flag) == 0 {
		return make([]int, sources), nil
	}
	if len(flag) != sources {
		return nil, errors.Wrapf(stream.ErrState, "%d --track values for %d sources", len(flag), sources)
	}
	return flag, nil
}
