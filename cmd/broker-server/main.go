// Command broker-server runs the message broker: it loads configuration,
// wires the streaming System, and serves the binary protocol (and,
// optionally, the HTTP user-management gateway) until interrupted.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/streamhouse/broker/internal/archiver"
	"github.com/streamhouse/broker/internal/config"
	"github.com/streamhouse/broker/internal/httpgateway"
	"github.com/streamhouse/broker/internal/maintenance"
	"github.com/streamhouse/broker/internal/server/binary"
	"github.com/streamhouse/broker/internal/streaming/system"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "broker-server",
		Short: "Run the streamhouse broker",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars and defaults otherwise)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(logger, totalSystemMemory()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sys, err := system.New(system.Options{
		RootDir:           cfg.Server.DataDir,
		CacheLimitBytes:   cfg.System.Cache.LimitBytes,
		CacheEnabled:      cfg.System.Cache.Enabled,
		TotalSystemMemory: totalSystemMemory(),
		RootPassword:      cfg.Server.RootPassword,
		Logger:            logger,
		MaxSegmentBytes:   uint32(cfg.System.Segment.SizeBytes),
		IndexGranularity:  cfg.System.Segment.IndexGranularity,
	})
	if err != nil {
		return fmt.Errorf("construct system: %w", err)
	}
	if err := sys.Start(); err != nil {
		return fmt.Errorf("replay state log: %w", err)
	}
	defer sys.Close()

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Address, err)
	}
	defer ln.Close()
	logger.WithField("address", cfg.Server.Address).Info("binary protocol listening")

	dispatcher := binary.NewDispatcher(sys, logger)
	go acceptLoop(ln, dispatcher, logger)

	if cfg.HTTP.Enabled {
		gateway := httpgateway.NewServer(sys, logger)
		mux := http.NewServeMux()
		gateway.Routes(mux)
		go func() {
			logger.WithField("address", cfg.HTTP.Address).Info("http gateway listening")
			if err := http.ListenAndServe(cfg.HTTP.Address, mux); err != nil {
				logger.WithError(err).Error("http gateway stopped")
			}
		}()
	}

	maintCtx, cancelMaint := context.WithCancel(context.Background())
	defer cancelMaint()
	if cfg.DataMaintenance.Messages.ArchiverEnabled || cfg.DataMaintenance.State.ArchiverEnabled || cfg.PersonalAccessToken.Cleaner.Enabled {
		supervisor := maintenance.New(sys, cfg.DataMaintenance, cfg.PersonalAccessToken, buildArchiver(cfg.DataMaintenance.Archiver), logger)
		go func() {
			if err := supervisor.Run(maintCtx); err != nil && maintCtx.Err() == nil {
				logger.WithError(err).Error("maintenance supervisor stopped")
			}
		}()
	}

	waitForShutdown(logger)
	return nil
}

// buildArchiver constructs the configured archiver backend, or nil if
// archiving is disabled.
func buildArchiver(cfg config.ArchiverConfig) archiver.Archiver {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Kind {
	case config.ArchiverDisk:
		return archiver.NewDiskArchiver(cfg.Disk.Path)
	case config.ArchiverS3:
		return archiver.NewS3Archiver(cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Endpoint)
	default:
		return nil
	}
}

func acceptLoop(ln net.Listener, dispatcher *binary.Dispatcher, logger *logrus.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.WithError(err).Debug("listener stopped accepting")
			return
		}
		go dispatcher.ServeConnection(conn)
	}
}

func waitForShutdown(logger *logrus.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.WithField("signal", s).Info("shutting down")
}

// totalSystemMemory reports a conservative fixed estimate of usable
// memory for the cache's oversubscription check. A precise reading would
// need a third-party memory-introspection dependency for little benefit
// here, since operators are expected to set system.cache.limit_bytes
// explicitly rather than rely on autodetection.
func totalSystemMemory() uint64 {
	return 4 << 30
}
