package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/strix/internal/codec"
	"firestige.xyz/strix/internal/config"
	"firestige.xyz/strix/internal/engine"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/metrics"
	"firestige.xyz/strix/internal/output"
	"firestige.xyz/strix/internal/sink"
	"firestige.xyz/strix/internal/source"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Capture and correlate RADIUS traffic",
	Long: `
Start the Strix analyzer with the given configuration.

Examples:
  strix start                     # Use the default config path
  strix start -c strix.yml        # Use strix.yml
`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	log.Init(&cfg.Log)
	logger := log.GetLogger()

	dec := codec.NewDecoder(cfg.Secret, cfg.SortAttributes)

	sources, err := openSources(cfg, dec)
	if err != nil {
		return err
	}

	snk, err := sink.New(cfg.Sink.Type, cfg.Sink.Options)
	if err != nil {
		closeSources(sources)
		return err
	}

	var writer *output.Writer
	if cfg.Output.File != "" {
		writer, err = output.Open(cfg.Output.File, cfg.Capture.SnapLen)
		if err != nil {
			closeSources(sources)
			snk.Close()
			return err
		}
	}

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		srv.Start()
	}

	mask, err := cfg.DequeueMask()
	if err != nil {
		return err
	}

	eng := engine.New(engine.Options{
		Timeout:  cfg.Timeout,
		Interval: cfg.Interval,
		Dequeue:  mask,
		Limit:    cfg.Limit,
	}, sources, snk, writer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{
		"sources":  len(sources),
		"filter":   cfg.Filter,
		"interval": cfg.Interval.String(),
	}).Info("strix started")

	runErr := eng.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown failed")
		}
	}
	return runErr
}

// openSources opens every configured capture stream, tearing down the
// already-open ones when a later open fails.
func openSources(cfg *config.Config, dec *codec.Decoder) ([]source.Source, error) {
	var sources []source.Source

	for _, path := range cfg.Capture.Files {
		s, err := source.OpenFile(path, cfg.Filter, dec)
		if err != nil {
			closeSources(sources)
			return nil, fmt.Errorf("open capture file %s: %w", path, err)
		}
		sources = append(sources, s)
	}

	opts := source.LiveOptions{
		SnapLen:     cfg.Capture.SnapLen,
		Promiscuous: cfg.Capture.Promiscuous,
		Filter:      cfg.Filter,
	}
	for _, ifc := range cfg.Capture.Interfaces {
		var (
			s   source.Source
			err error
		)
		switch ifc.Engine {
		case "afpacket":
			s, err = source.OpenAFPacket(ifc.Device, ifc.BufferMB, opts, dec)
		default:
			s, err = source.OpenLive(ifc.Device, opts, dec)
		}
		if err != nil {
			closeSources(sources)
			return nil, fmt.Errorf("open device %s: %w", ifc.Device, err)
		}
		sources = append(sources, s)
	}

	return sources, nil
}

func closeSources(sources []source.Source) {
	for _, s := range sources {
		s.Close()
	}
}
