package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pavelkim/flowcached/internal/config"
	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/pavelkim/flowcached/internal/logger"
	"github.com/pavelkim/flowcached/internal/netflow"
	"github.com/pavelkim/flowcached/internal/output"
	"github.com/pavelkim/flowcached/internal/pcapio"
	"github.com/pavelkim/flowcached/internal/server"
	"github.com/pavelkim/flowcached/internal/stats"
	"github.com/pavelkim/flowcached/internal/upload"
	"github.com/pavelkim/flowcached/internal/version"
	"github.com/pavelkim/flowcached/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowcached version %s\n", version.GetVersion())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		ConsoleOutput: cfg.Logging.ConsoleOutput,
		ConsoleLevel:  cfg.Logging.ConsoleLevel,
		ConsoleFormat: cfg.Logging.ConsoleFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("========================================")
	log.Info("starting flowcached", "version", version.GetVersion())
	log.Info("configuration loaded", "file", *configPath)
	log.Info("input settings", "mode", cfg.Input.Mode, "listen_addr", cfg.Input.ListenAddr, "buffer_size", cfg.Input.BufferSize)

	hashMode := flowcache.HashExact
	if cfg.FlowCache.HashMode == "near" {
		hashMode = flowcache.HashNear
	}

	uploader := upload.NewUploader(cfg.Upload.UploadKey, log)
	defer uploader.Close()

	var sinks flowcache.MultiSink

	var fileWriter *output.FileWriter
	var netflowExp *netflow.Exporter
	var webhookExp *webhook.Exporter

	var cache *flowcache.Cache
	cache = flowcache.New(flowcache.Config{
		HashMode:         hashMode,
		Bidir:            cfg.FlowCache.Bidir,
		IncludeZeroes:    cfg.FlowCache.IncludeZeroes,
		ByteDistribution: cfg.FlowCache.ByteDistribution,
		ReportEntropy:    cfg.FlowCache.ReportEntropy,
		InactiveWindow:   cfg.FlowCache.InactiveWindow(),
		ActiveExtra:      cfg.FlowCache.ActiveExtra(),
	}, flowcache.SinkFunc(func(r *flowcache.Record) error {
		return sinks.EmitFlow(r)
	}))

	if cfg.Output.File.Enabled {
		log.Info("initializing ndjson output")
		fileWriter, err = output.NewFileWriter(cache, cfg.Output.File.OutputFile, cfg.Output.File.RecordsPerFile)
		if err != nil {
			log.Error("failed to initialize ndjson output", "error", err)
			os.Exit(1)
		}
		defer fileWriter.Close()
		sinks = append(sinks, fileWriter)
		log.Info("[OK] ndjson output initialized", "file", cfg.Output.File.OutputFile)
	} else {
		log.Info("ndjson output disabled")
	}

	if cfg.Output.NetFlow.Enabled {
		log.Info("initializing NetFlow exporter")
		netflowExp, err = netflow.NewExporter(cfg.Output.NetFlow.CollectorAddr, cfg.Output.NetFlow.Version)
		if err != nil {
			log.Error("failed to initialize NetFlow exporter", "error", err)
			os.Exit(1)
		}
		defer netflowExp.Close()
		sinks = append(sinks, netflowExp)
		log.Info("[OK] NetFlow exporter initialized", "collector", cfg.Output.NetFlow.CollectorAddr, "version", cfg.Output.NetFlow.Version)
	} else {
		log.Info("NetFlow exporter disabled")
	}

	if cfg.Output.Webhook.Enabled {
		log.Info("initializing webhook exporter")
		webhookExp, err = webhook.NewExporter(cache, webhook.Config{
			Enabled: cfg.Output.Webhook.Enabled,
			Filter: webhook.Filter{
				SrcAddr:  cfg.Output.Webhook.Filter.SrcIP,
				DstAddr:  cfg.Output.Webhook.Filter.DstIP,
				DstPort:  cfg.Output.Webhook.Filter.DstPort,
				Protocol: cfg.Output.Webhook.Filter.Protocol,
			},
			StrictMode:       cfg.Output.Webhook.StrictJSON,
			UpstreamURL:      cfg.Output.Webhook.UpstreamURL,
			IgnoreSSL:        cfg.Output.Webhook.IgnoreSSL,
			IgnoreHTTPErrors: cfg.Output.Webhook.IgnoreHTTPErrors,
			Logger:           log,
		})
		if err != nil {
			log.Error("failed to initialize webhook exporter", "error", err)
			os.Exit(1)
		}
		defer webhookExp.Close()
		sinks = append(sinks, webhookExp)
		log.Info("[OK] webhook exporter initialized")
	} else {
		log.Info("webhook exporter disabled")
	}

	var pcapWriter *pcapio.Writer
	if cfg.Output.PCAP.Enabled {
		log.Info("initializing pcap writer")
		pcapWriter, err = pcapio.NewWriter(cfg.Output.PCAP.OutputFile, cfg.Output.PCAP.MaxSizeMB, cfg.Output.PCAP.MaxBackups)
		if err != nil {
			log.Error("failed to initialize pcap writer", "error", err)
			os.Exit(1)
		}
		defer pcapWriter.Close()
		log.Info("[OK] pcap writer initialized", "file", cfg.Output.PCAP.OutputFile)
	} else {
		log.Info("pcap writer disabled")
	}

	reporter := stats.NewReporter(cache, log, time.Duration(cfg.FlowCache.StatsIntervalSeconds)*time.Second)

	pcapFile := ""
	if cfg.Input.Mode == "pcap" {
		pcapFile = cfg.Input.PCAPFile
	}

	log.Info("creating server")
	srv := server.NewServer(&server.Config{
		ListenAddr:    cfg.Input.ListenAddr,
		BufferSize:    cfg.Input.BufferSize,
		PCAPFile:      pcapFile,
		Cache:         cache,
		PCAPWriter:    pcapWriter,
		Reporter:      reporter,
		Uploader:      uploader,
		SweepInterval: time.Duration(cfg.FlowCache.SweepIntervalSeconds) * time.Second,
		Logger:        log,
	})
	log.Info("[OK] server created")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		log.Info("received shutdown signal")
		cancel()
		<-done // wait for the final drain before the sinks are closed
		srv.Stop()
		log.Info("[OK] server stopped")
	case err := <-errChan:
		log.Error("server encountered an error", "error", err)
		cancel()
		srv.Stop()
		os.Exit(1)
	}

	log.Info("========================================")
	log.Info("flowcached terminated")
}
