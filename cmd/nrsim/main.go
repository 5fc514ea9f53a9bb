package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/icza/gog"

	"github.com/dbehnke/nr-codec/pkg/capture"
	"github.com/dbehnke/nr-codec/pkg/config"
	"github.com/dbehnke/nr-codec/pkg/database"
	"github.com/dbehnke/nr-codec/pkg/ldpc"
	"github.com/dbehnke/nr-codec/pkg/logger"
	"github.com/dbehnke/nr-codec/pkg/mqtt"
	"github.com/dbehnke/nr-codec/pkg/sim"
	"github.com/dbehnke/nr-codec/pkg/tbs"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	snrStart := flag.Float64("snr-start", -2, "First SNR point in dB")
	snrStop := flag.Float64("snr-stop", 6, "Last SNR point in dB")
	snrStep := flag.Float64("snr-step", 1, "SNR step in dB")
	blocks := flag.Int("blocks", 200, "Transport blocks per SNR point")
	parallel := flag.Int("parallel", 0, "SNR points simulated at once (0 uses codec.workers)")
	store := flag.Bool("store", true, "Store results in the database when it is enabled")
	replay := flag.String("replay", "", "Decode the LLR captures in this directory instead of sweeping")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nrsim %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	log := logger.New(logger.Config{Level: "info", Format: "text"})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Error("Failed to load configuration", logger.Error(err))
		os.Exit(1)
	}
	log = logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	codec, err := ldpc.NewMinSum(cfg.Codec.GraphCacheSize)
	if err != nil {
		log.Error("Failed to create LDPC codec", logger.Error(err))
		os.Exit(1)
	}

	if *replay != "" {
		if err := replayDir(*replay, codec, cfg.Codec.MaxIterations, log); err != nil {
			log.Error("Replay failed", logger.Error(err))
			os.Exit(1)
		}
		return
	}

	snrs, err := sweep(*snrStart, *snrStop, *snrStep)
	if err != nil {
		log.Error("Invalid SNR range", logger.Error(err))
		os.Exit(1)
	}

	lbrm := cfg.Codec.TBSLBRMBytes
	if lbrm == 0 {
		lbrm = tbs.LBRMBytes(cfg.Codec.MaxRBs, cfg.Codec.MaxLayers, cfg.Codec.MCSTable256QAM)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := sim.Run(ctx, sim.Config{
		Alloc: tbs.Allocation{
			RBs:         cfg.Link.RBs,
			Symbols:     cfg.Link.Symbols,
			DMRSSymbols: cfg.Link.DMRSSymbols,
			DMRSREPerRB: cfg.Link.DMRSRE,
			Qm:          cfg.Link.Qm,
			Layers:      cfg.Link.Layers,
			TargetRate:  cfg.Link.TargetRate,
		},
		SNRs:          snrs,
		Blocks:        *blocks,
		MaxRounds:     cfg.Link.MaxRounds,
		MaxIterations: cfg.Codec.MaxIterations,
		LLRScale:      cfg.Link.LLRScale,
		LBRMBytes:     lbrm,
		Seed:          cfg.Link.Seed,
		Parallel:      gog.If(*parallel > 0, *parallel, cfg.Codec.Workers),
	}, codec, log)
	if err != nil {
		log.Error("Simulation failed", logger.Error(err))
		os.Exit(1)
	}

	report(res)

	if *store && cfg.Database.Enabled {
		db, err := database.NewDB(database.Config{Path: cfg.Database.Path}, log)
		if err != nil {
			log.Error("Failed to open database", logger.Error(err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.SimResults().CreateBatch(res.Records()); err != nil {
			log.Error("Failed to store results", logger.Error(err))
		} else {
			log.Info("Results stored",
				logger.String("run_id", res.RunID),
				logger.String("path", cfg.Database.Path))
		}
	}

	if cfg.MQTT.Enabled {
		publish(ctx, cfg.MQTT, res, log)
	}
}

func sweep(start, stop, step float64) ([]float64, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step %.2f must be positive", step)
	}
	if stop < start {
		return nil, fmt.Errorf("stop %.2f below start %.2f", stop, start)
	}
	var snrs []float64
	for i := 0; ; i++ {
		snr := start + float64(i)*step
		if snr > stop+step/1000 {
			break
		}
		snrs = append(snrs, snr)
	}
	return snrs, nil
}

func report(res *sim.Result) {
	fmt.Printf("run %s: TBS %d bytes, G %d bits, %d points in %s\n",
		res.RunID, res.TBSize, res.G, len(res.Points), res.Elapsed.Round(time.Millisecond))
	fmt.Printf("%8s %8s %10s %10s %8s %10s %s\n", "SNR(dB)", "blocks", "BLER", "residual", "iters", "Mbps", "")
	for _, p := range res.Points {
		fmt.Printf("%8.2f %8d %10.4f %10.4f %8.2f %10.3f %s\n",
			p.SNRdB, p.Blocks, p.BLER(), p.ResidualBLER(), p.MeanIterations(),
			p.ThroughputMbps(res.Config.Slot),
			gog.If(p.Undetected > 0, fmt.Sprintf("(%d undetected)", p.Undetected), ""))
	}
}

func publish(ctx context.Context, mc config.MQTTConfig, res *sim.Result, log *logger.Logger) {
	pub := mqtt.New(mqtt.Config{
		Enabled:     mc.Enabled,
		Broker:      mc.Broker,
		TopicPrefix: mc.TopicPrefix,
		ClientID:    mc.ClientID,
		Username:    mc.Username,
		Password:    mc.Password,
		QoS:         mc.QoS,
		Retained:    mc.Retained,
	}, log)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pub.Start(connectCtx); err != nil {
		log.Error("MQTT publisher error", logger.Error(err))
		return
	}
	defer pub.Stop()

	for _, p := range res.Points {
		err := pub.PublishSweepPoint(mqtt.SweepPointEvent{
			RunID:          res.RunID,
			SNRdB:          p.SNRdB,
			Blocks:         p.Blocks,
			BLER:           p.BLER(),
			ResidualBLER:   p.ResidualBLER(),
			MeanIterations: p.MeanIterations(),
			ThroughputMbps: p.ThroughputMbps(res.Config.Slot),
			Timestamp:      res.Started,
		})
		if err != nil {
			log.Warn("Failed to publish sweep point", logger.Error(err))
		}
	}
}

func replayDir(dir string, codec ldpc.Decoder, maxIterations int, log *logger.Logger) error {
	files, err := capture.List(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no captures in %s", dir)
	}

	acked := 0
	for _, path := range files {
		rec, err := capture.ReadFile(path)
		if err != nil {
			log.Warn("Skipping capture", logger.String("path", path), logger.Error(err))
			continue
		}
		ind, err := sim.Replay(rec, codec, maxIterations, log)
		if err != nil {
			log.Warn("Replay failed", logger.String("path", path), logger.Error(err))
			continue
		}
		if ind.OK {
			acked++
		}
		fmt.Printf("%s: %s round %d, %d/%d segments, %d iterations\n",
			rec.Name(), gog.If(ind.OK, "ACK", "NACK"), rec.Round,
			ind.ProcessedSegments, ind.Segments, ind.Iterations)
	}
	fmt.Printf("%d of %d captures decoded\n", acked, len(files))
	return nil
}
