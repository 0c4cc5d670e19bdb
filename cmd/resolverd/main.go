// Command resolverd is the recursive, filtering DNS resolver's bootstrap
// binary: it loads configuration, wires every internal collaborator
// together, starts the DNS and admin listeners, and drives a graceful
// shutdown on signal. Grounded on the teacher's cmd/glory-hole/main.go for
// the overall bring-up/shutdown shape (config watcher first, logger next,
// telemetry, then every optional subsystem gated by its own config block,
// signal-driven shutdown with a bounded grace period).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/foxhound-dns/resolver/internal/adminapi"
	"github.com/foxhound-dns/resolver/internal/cache"
	"github.com/foxhound-dns/resolver/internal/cache/eviction"
	"github.com/foxhound-dns/resolver/internal/clock"
	"github.com/foxhound-dns/resolver/internal/config"
	"github.com/foxhound-dns/resolver/internal/dispatch"
	"github.com/foxhound-dns/resolver/internal/dispatch/health"
	"github.com/foxhound-dns/resolver/internal/enrichment"
	"github.com/foxhound-dns/resolver/internal/events"
	"github.com/foxhound-dns/resolver/internal/filter"
	"github.com/foxhound-dns/resolver/internal/filter/subnet"
	"github.com/foxhound-dns/resolver/internal/logging"
	"github.com/foxhound-dns/resolver/internal/resolver"
	"github.com/foxhound-dns/resolver/internal/storage"
	"github.com/foxhound-dns/resolver/internal/telemetry"
)

var (
	configPath     = flag.String("config", "config.yml", "Path to configuration file")
	showVersion    = flag.Bool("version", false, "Show version information and exit")
	validateConfig = flag.Bool("validate-config", false, "Validate configuration file and exit")

	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("foxhound-resolver\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Git Commit: %s\n", gitCommit)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Go Version: %s\n", runtime.Version())
		os.Exit(0)
	}

	if *validateConfig {
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration valid.")
		return
	}

	ctx := context.Background()

	// Load once with no logger to get the initial config, then build the
	// logger, then rebuild the watcher so its own log lines have a sink.
	cfgWatcher, err := config.NewWatcher(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgWatcher.Config()

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	cfgWatcher, err = config.NewWatcher(*configPath, logger.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize config watcher: %v\n", err)
		os.Exit(1)
	}
	cfg = cfgWatcher.Config()

	watcherCtx, watcherCancel := context.WithCancel(ctx)
	defer watcherCancel()
	go func() {
		if err := cfgWatcher.Start(watcherCtx); err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	logger.Info("foxhound-resolver starting", "version", version, "build_time", buildTime)

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	clk := clock.New(100 * time.Millisecond)
	defer clk.Stop()

	bus := events.New(8192)

	var store storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.NewSQLiteStorage(cfg.Storage)
		if err != nil {
			logger.Error("failed to initialize storage, continuing without query logging", "error", err)
		} else {
			logger.Info("storage initialized", "path", cfg.Storage.Path)
		}
	}
	if store == nil {
		store = noopStorage{}
	}
	go storage.RunEventConsumer(ctx, bus, store)

	subnets := subnet.NewStore()
	subnetEntries := make([]subnet.Entry, 0, len(cfg.Filter.SubnetGroups))
	for _, entry := range cfg.Filter.SubnetGroups {
		_, network, err := net.ParseCIDR(entry.CIDR)
		if err != nil {
			logger.Error("invalid subnet group CIDR, skipping", "cidr", entry.CIDR, "error", err)
			continue
		}
		subnetEntries = append(subnetEntries, subnet.Entry{Network: network, GroupID: entry.GroupID})
	}
	subnets.Refresh(subnetEntries)

	repo := adminapi.NewRepository()
	for _, entry := range cfg.Filter.SubnetGroups {
		if err := repo.SetSubnetGroup(entry.CIDR, entry.GroupID); err != nil {
			logger.Error("failed to seed subnet group", "cidr", entry.CIDR, "error", err)
		}
	}
	if n, err := loadBlocklistFiles(cfg.Filter.BlocklistFiles, repo); err != nil {
		logger.Error("failed to load blocklist files", "error", err)
	} else if n > 0 {
		logger.Info("blocklist files loaded", "domains", n)
	}

	filterEngine := filter.New(repo, subnets, filter.Config{DecisionCacheCapacity: cfg.Filter.DecisionCacheCapacity})
	if err := filterEngine.Reload(clk.NowSecs()); err != nil {
		logger.Error("initial filter reload failed", "error", err)
	}

	dnsCache := cache.New(cache.Config{
		ShardCount:    cfg.Cache.ShardCount,
		HighWatermark: cfg.Cache.HighWatermark,
		SampleSize:    cfg.Cache.SampleSize,
		EvictCount:    cfg.Cache.EvictCount,
		Policy:        evictionPolicyFor(cfg.Cache.Eviction),
	}, clk)

	healthChecker := health.New(health.Config{
		FailureThreshold: cfg.Health.FailureThreshold,
		SuccessThreshold: cfg.Health.SuccessThreshold,
	})
	dispatcher := dispatch.New(healthChecker)

	pool, ok := findPool(cfg.Upstream.Pools, cfg.Resolver.DefaultPool)
	if !ok {
		logger.Error("no usable upstream pool configured; resolver will fail every query", "default_pool", cfg.Resolver.DefaultPool)
	}
	servers := make([]dispatch.Server, 0, len(pool.Servers))
	for _, s := range pool.Servers {
		servers = append(servers, dispatch.Server{Addr: s.Addr, Weight: s.Weight})
	}
	strategy := strategyFor(pool.Strategy)

	res := resolver.New(dnsCache, filterEngine, dispatcher, strategy, bus, clk, resolver.Config{
		RefreshThresholdSecs: cfg.Resolver.RefreshThresholdSecs,
		PopularityFloor:      cfg.Resolver.PopularityFloor,
		PoolName:             pool.Name,
		Servers:              servers,
		QueryTimeoutMs:       pool.TimeoutMs,
		DNSSECEnabled:        pool.DNSSECEnabled,
	})

	maintenanceCtx, maintenanceCancel := context.WithCancel(ctx)
	defer maintenanceCancel()
	go dnsCache.RunCompactionLoop(maintenanceCtx, time.Minute)
	go dnsCache.RunRefreshLoop(maintenanceCtx, time.Minute, cache.RefreshConfig{
		TTLThresholdSecs: cfg.Resolver.RefreshThresholdSecs,
		PopularityFloor:  cfg.Resolver.PopularityFloor,
	}, res.RefreshOne)

	enrichmentStore := enrichment.NewStore(
		enrichment.NewProcNetArpReader(""),
		enrichment.NewDispatcherHostnameResolver(dispatcher, strategy, servers, pool.TimeoutMs),
		logger,
	)
	enrichmentCtx, enrichmentCancel := context.WithCancel(ctx)
	defer enrichmentCancel()
	go enrichmentStore.Run(enrichmentCtx, time.Minute, 25)

	handler := &ingressHandler{resolver: res, logger: logger, metrics: metrics}
	dnsSrv := newDNSServer(cfg.Server.ListenAddress, cfg.Server.UDPEnabled, cfg.Server.TCPEnabled, handler, logger)

	adminSrv := adminapi.New(adminapi.Deps{
		Repo:       repo,
		Engine:     filterEngine,
		Subnets:    subnets,
		Cache:      dnsCache,
		Dispatcher: dispatcher,
		Store:      store,
		Clock:      clk,
		Logger:     logger,
		Auth:       cfg.Auth,
		ListenAddr: cfg.Server.AdminAddress,
		Version:    version,
	})

	cfgWatcher.OnChange(func(newCfg *config.Config) {
		logger.Info("configuration reloaded", "dns_address", newCfg.Server.ListenAddress, "admin_address", newCfg.Server.AdminAddress)
		adminSrv.SetAuthConfig(newCfg.Auth)
		if err := filterEngine.Reload(clk.NowSecs()); err != nil {
			logger.Error("filter reload failed", "error", err)
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 2)
	go func() {
		if err := dnsSrv.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("dns server: %w", err)
		}
	}()
	go func() {
		if err := adminSrv.Start(serverCtx); err != nil {
			errChan <- fmt.Errorf("admin server: %w", err)
		}
	}()

	logger.Info("foxhound-resolver is running",
		"dns_address", cfg.Server.ListenAddress,
		"admin_address", cfg.Server.AdminAddress,
		"pool", pool.Name,
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := dnsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("dns server shutdown error", "error", err)
		}
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
		enrichmentCancel()
		maintenanceCancel()
		if err := store.Close(); err != nil {
			logger.Error("storage shutdown error", "error", err)
		}
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
		bus.Close()

		logger.Info("foxhound-resolver stopped")

	case err := <-errChan:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func findPool(pools []config.PoolConfig, name string) (config.PoolConfig, bool) {
	for _, p := range pools {
		if p.Name == name {
			return p, true
		}
	}
	if len(pools) > 0 {
		return pools[0], true
	}
	return config.PoolConfig{}, false
}

func strategyFor(name string) dispatch.Strategy {
	switch name {
	case "parallel":
		return dispatch.ParallelStrategy{}
	case "balanced":
		return dispatch.NewBalancedStrategy()
	default:
		return dispatch.FailoverStrategy{}
	}
}

func evictionPolicyFor(cfg config.EvictionConfig) eviction.Policy {
	switch cfg.Policy {
	case "hit_rate":
		return eviction.HitRate{}
	case "lfu":
		return eviction.LFU{MinFrequency: cfg.MinFrequency}
	case "lfuk":
		return eviction.LFUK{K: cfg.K, MinScore: cfg.MinScore}
	default:
		return eviction.LRU{}
	}
}

// noopStorage discards query logs when no database is configured or the
// configured one fails to open, so the resolver can still run without
// persistence rather than refusing to start.
type noopStorage struct{}

func (noopStorage) LogQuery(ctx context.Context, entry storage.QueryLog) error { return nil }
func (noopStorage) RecentQueries(ctx context.Context, limit int) ([]storage.QueryLog, error) {
	return nil, nil
}
func (noopStorage) Statistics(ctx context.Context, since time.Time) (storage.Statistics, error) {
	return storage.Statistics{Since: since}, nil
}
func (noopStorage) Cleanup(ctx context.Context, olderThan time.Time) error { return nil }
func (noopStorage) Close() error                                          { return nil }
func (noopStorage) Ping(ctx context.Context) error                        { return nil }
