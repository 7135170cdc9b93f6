// Package main provides a runnable demonstration of the entry-guard
// selection algorithm against a small simulated network.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/config"
	"github.com/opd-ai/tor-guardsim/pkg/directory"
	"github.com/opd-ai/tor-guardsim/pkg/health"
	"github.com/opd-ai/tor-guardsim/pkg/logger"
	"github.com/opd-ai/tor-guardsim/pkg/path"
	"github.com/opd-ai/tor-guardsim/pkg/resources"
)

func main() {
	dataDir := flag.String("data-dir", "", "Data directory for persistent guard state (default: auto-detect)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	circuits := flag.Int("circuits", 10, "Number of circuit build attempts to run")
	utopicRelays := flag.Int("utopic-relays", 20, "Number of simulated utopic relays")
	dystopicRelays := flag.Int("dystopic-relays", 5, "Number of simulated dystopic relays")
	downFraction := flag.Float64("down-fraction", 0.3, "Fraction of simulated relays that start unreachable")
	listResources := flag.Bool("list-resources", false, "List embedded resources bundled into this binary and exit")
	liveNetwork := flag.Bool("live-network", false, "Fetch a real consensus and dial real guards instead of using the built-in simulator")
	dialTimeout := flag.Duration("dial-timeout", 10*time.Second, "TCP connect timeout used for reachability checks when -live-network is set")
	flag.Parse()

	if *listResources {
		names, err := resources.ListEmbeddedResources()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list embedded resources: %v\n", err)
			os.Exit(1)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	cfg := config.DefaultConfig()
	if *dataDir != "" {
		cfg.DataDirectory = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, log, *circuits, *utopicRelays, *dystopicRelays, *downFraction, *liveNetwork, *dialTimeout); err != nil {
		log.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	log.Info("simulation complete")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, circuits, utopicRelays, dystopicRelays int, downFraction float64, liveNetwork bool, dialTimeout time.Duration) error {
	net, err := buildNetwork(log, liveNetwork, utopicRelays, dystopicRelays, downFraction, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}

	store, err := path.NewStore(cfg.DataDirectory, log)
	if err != nil {
		return fmt.Errorf("failed to open guard state store: %w", err)
	}

	if err := exportFallbackList(cfg.DataDirectory, log); err != nil {
		log.Warn("failed to export fallback directory list", "error", err)
	}

	controller, err := path.NewController(cfg.Guards, net, store, log)
	if err != nil {
		return fmt.Errorf("failed to create guard controller: %w", err)
	}
	if len(cfg.ExcludeNodes) > 0 {
		controller.SetExcludeNodes(cfg.ExcludeNodes)
	}

	log.Info("fetching initial consensus",
		"utopic_relays", utopicRelays,
		"dystopic_relays", dystopicRelays,
		"down_fraction", downFraction)
	if err := controller.OnNewConsensus(ctx); err != nil {
		return fmt.Errorf("failed to ingest consensus: %w", err)
	}

	if cfg.SweepInterval > 0 {
		scheduler, err := path.NewScheduler(controller, sweepSchedule(cfg.SweepInterval), log)
		if err != nil {
			return fmt.Errorf("failed to create sweep scheduler: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info("sweep scheduler started", "next_run", scheduler.NextRun().Next)
	}

	successes := 0
	for i := 0; i < circuits; i++ {
		select {
		case <-ctx.Done():
			log.Info("simulation cancelled", "completed", i)
			return nil
		default:
		}

		guard, err := controller.BuildCircuit(ctx)
		if err != nil {
			log.Warn("circuit build failed", "attempt", i+1, "error", err)
			continue
		}

		successes++
		log.Info("circuit built",
			"attempt", i+1,
			"guard", guard.Nickname,
			"dystopic", guard.Dystopic,
			"made_contact", guard.MadeContact)
	}

	stats := controller.Stats()
	fmt.Println()
	fmt.Println("Guard selection summary")
	fmt.Printf("  circuits built:     %d/%d\n", successes, circuits)
	fmt.Printf("  primary guards:     %d (reachable: %d)\n", stats.PrimaryGuardCount, stats.ReachablePrimaryCount)
	fmt.Printf("  sampled utopic:     %d\n", stats.SampledUtopicCount)
	fmt.Printf("  sampled dystopic:   %d\n", stats.SampledDystopicCount)
	fmt.Printf("  used guards:        %d\n", stats.UsedGuardCount)
	fmt.Println()

	monitor := health.NewMonitor()
	monitor.RegisterChecker(health.NewGuardHealthChecker(func() health.GuardStats {
		s := controller.Stats()
		coverage := 0.0
		if utopicRelays+dystopicRelays > 0 {
			coverage = float64(s.SampledUtopicCount+s.SampledDystopicCount) / float64(utopicRelays+dystopicRelays)
		}
		return health.GuardStats{
			PrimaryGuardCount:     s.PrimaryGuardCount,
			ReachablePrimaryCount: s.ReachablePrimaryCount,
			SampledUtopicCount:    s.SampledUtopicCount,
			SampledDystopicCount:  s.SampledDystopicCount,
			UsedGuardCount:        s.UsedGuardCount,
			ConsensusCoverage:     coverage,
		}
	}))
	monitor.RegisterChecker(health.NewDirectoryHealthChecker(controller.DirectoryStats))

	overall := monitor.Check(ctx)
	log.Info("final health check", "status", overall.Status)
	for name, component := range overall.Components {
		log.Info("component health", "component", name, "status", component.Status, "message", component.Message)
	}

	return nil
}

// buildNetwork returns the Network collaborator the run should use: the
// built-in simulator by default, or a DirectoryNetwork backed by a real
// directory.Client and real TCP dials when liveNetwork is set.
func buildNetwork(log *logger.Logger, liveNetwork bool, utopicRelays, dystopicRelays int, downFraction float64, dialTimeout time.Duration) (path.Network, error) {
	if !liveNetwork {
		return newSimNetwork(utopicRelays, dystopicRelays, downFraction)
	}

	authorities, err := resources.GetFallbackAuthorities()
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback directory authorities: %w", err)
	}

	client := directory.NewClientWithAuthorities(log, authorities)
	dirNet := path.NewDirectoryNetwork(client)
	dirNet.DialTimeout = dialTimeout
	log.Info("using live directory network", "authorities", len(authorities))
	return dirNet, nil
}

// exportFallbackList writes the embedded fallback directory authority list
// into the data directory, if it isn't already present, so an operator can
// inspect or override the bundled seed list without rebuilding the binary.
func exportFallbackList(dataDir string, log *logger.Logger) error {
	destPath := filepath.Join(dataDir, "fallback-dirs.txt")
	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	if err := resources.ExtractResource("fallback-dirs.txt", destPath); err != nil {
		return err
	}

	ok, err := resources.ValidateExtraction("fallback-dirs.txt", destPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("extracted fallback directory list at %s does not match embedded resource", destPath)
	}

	log.Info("exported fallback directory list for operator inspection", "path", destPath)
	return nil
}

// sweepSchedule converts a sweep interval into an "@every" cron expression,
// falling back to a one-hour default if the configured interval is zero or
// negative.
func sweepSchedule(interval time.Duration) string {
	if interval <= 0 {
		interval = time.Hour
	}
	return fmt.Sprintf("@every %s", interval)
}
