package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/config"
	"github.com/dbehnke/nr-codec/pkg/database"
	"github.com/dbehnke/nr-codec/pkg/harq"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/link"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/metrics"
	"github.com/dbehnke/nr-codec/pkg/mqtt"
	"github.com/dbehnke/nr-codec/pkg/sch"
	"github.com/dbehnke/nr-codec/pkg/stats"
	"github.com/dbehnke/nr-codec/pkg/tbs"
	"github.com/dbehnke/nr-codec/pkg/web"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validate := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nr-codec %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Console logger until the configuration is known
	log := logger.New(logger.Config{
		Level:  "info",
		Format: "text",
	})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	if *validate {
		log.Info("Configuration is valid")
		os.Exit(0)
	}

	var output io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error("Failed to open log file", logger.Error(err))
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		output = f
	}
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: output,
	})

	web.SetBuildInfo(web.BuildInfo{Version: version, Commit: commit, BuildTime: buildTime})
	log.Info("Starting nr-codec",
		logger.String("version", version),
		logger.String("build_time", buildTime),
		logger.String("config_file", *configFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	collector := metrics.NewCollector()
	tracker := stats.NewTracker(stats.DefaultMaxUEs)
	sinks := harq.Fanout{tracker, collector}

	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metricsServer := metrics.NewPrometheusServer(
				metrics.PrometheusConfig{
					Enabled: cfg.Metrics.Prometheus.Enabled,
					Port:    cfg.Metrics.Prometheus.Port,
					Path:    cfg.Metrics.Prometheus.Path,
				},
				collector,
				log,
			)
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Prometheus metrics server error", logger.Error(err))
			}
		}()
	}

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.NewDB(database.Config{Path: cfg.Database.Path}, log)
		if err != nil {
			log.Error("Failed to open database", logger.Error(err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		recorder := database.NewRecorder(db.Blocks(), cfg.Link.MaxRounds, log)
		sinks = append(sinks, recorder)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()
	}

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.New(
			mqtt.Config{
				Enabled:     cfg.MQTT.Enabled,
				Broker:      cfg.MQTT.Broker,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				QoS:         cfg.MQTT.QoS,
				Retained:    cfg.MQTT.Retained,
			},
			log,
		)
		sinks = append(sinks, mqttPublisher)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttPublisher.Start(ctx); err != nil && err != context.Canceled {
				log.Error("MQTT publisher error", logger.Error(err))
			}
		}()
	}

	if cfg.Web.Enabled {
		src := web.Sources{Stats: tracker, Summary: collector}
		if db != nil {
			src.Blocks = db.Blocks()
		}
		webServer := web.NewServer(cfg.Web, src, log)
		sinks = append(sinks, webServer.GetHub())

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil && err != context.Canceled {
				log.Error("Web server error", logger.Error(err))
			}
		}()
	}

	codec, err := ldpc.NewMinSum(cfg.Codec.GraphCacheSize)
	if err != nil {
		log.Error("Failed to create LDPC codec", logger.Error(err))
		os.Exit(1)
	}

	lbrm := cfg.Codec.TBSLBRMBytes
	if lbrm == 0 {
		lbrm = tbs.LBRMBytes(cfg.Codec.MaxRBs, cfg.Codec.MaxLayers, cfg.Codec.MCSTable256QAM)
	}

	lk, err := link.New(
		link.Config{
			Listen: cfg.Link.Listen,
			RNTI:   uint16(cfg.Link.RNTI),
			Alloc: tbs.Allocation{
				RBs:         cfg.Link.RBs,
				Symbols:     cfg.Link.Symbols,
				DMRSSymbols: cfg.Link.DMRSSymbols,
				DMRSREPerRB: cfg.Link.DMRSRE,
				Qm:          cfg.Link.Qm,
				Layers:      cfg.Link.Layers,
				TargetRate:  cfg.Link.TargetRate,
			},
			LBRMBytes: lbrm,
			SNRdB:     cfg.Link.SNRdB,
			LLRScale:  cfg.Link.LLRScale,
			MaxRounds: cfg.Link.MaxRounds,
			Processes: cfg.Codec.HarqProcesses,
			Seed:      cfg.Link.Seed,
		},
		codec,
		sch.Config{
			MaxIterations: cfg.Codec.MaxIterations,
			Offload:       cfg.Codec.Offload,
			Workers:       cfg.Codec.Workers,
			QueueDepth:    cfg.Codec.QueueDepth,
		},
		sinks,
		log,
	)
	if err != nil {
		log.Error("Failed to create link", logger.Error(err))
		os.Exit(1)
	}
	lk.SetObserver(collector)

	if cfg.Capture.Enabled {
		w, err := capture.NewWriter(capture.Config{Dir: cfg.Capture.Dir, OnNackOnly: cfg.Capture.OnNackOnly}, log)
		if err != nil {
			log.Error("Failed to create capture writer", logger.Error(err))
			os.Exit(1)
		}
		lk.SetCapture(w)
	}

	linkDone := make(chan struct{})
	go func() {
		defer close(linkDone)
		if err := lk.Start(ctx); err != nil && err != context.Canceled {
			log.Error("Link error", logger.Error(err))
			cancel()
		}
	}()

	log.Info("nr-codec initialized",
		logger.Int("tbs", lk.TBSize()),
		logger.Int("lbrm_bytes", lbrm),
		logger.Bool("offload", cfg.Codec.Offload))

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal",
			logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	cancel()

	// The decoder drains queued segments into the sinks before they stop
	<-linkDone
	lk.Close()

	if mqttPublisher != nil {
		mqttPublisher.Stop()
	}

	wg.Wait()

	c := lk.Counters()
	log.Info("nr-codec stopped",
		logger.Uint64("datagrams", c.Datagrams),
		logger.Uint64("delivered", c.Delivered),
		logger.Uint64("lost", c.Lost))
}
