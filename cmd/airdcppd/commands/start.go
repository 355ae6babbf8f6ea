package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/airdcpp/airdcpp-go/internal/logger"
	"github.com/airdcpp/airdcpp-go/pkg/config"
	"github.com/airdcpp/airdcpp-go/pkg/hashdb"
	"github.com/airdcpp/airdcpp-go/pkg/hasher"
	"github.com/airdcpp/airdcpp-go/pkg/hub"
	"github.com/airdcpp/airdcpp-go/pkg/metrics"
	"github.com/airdcpp/airdcpp-go/pkg/share"
	"github.com/airdcpp/airdcpp-go/pkg/share/monitor"
	"github.com/airdcpp/airdcpp-go/pkg/upload"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the share engine, hashing pool and upload dispatcher",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runCore(cfg)
	},
}

func runCore(cfg *config.Config) error {
	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Close()
	logger.Info("starting airdcppd", "version", Version)

	store, err := hashdb.Open(filepath.Join(cfg.ConfigDir, "HashStore"))
	if err != nil {
		return err
	}
	defer store.Close()

	pool := hasher.NewPool(cfg.Hasher, store)
	defer pool.Shutdown()

	hubs := hub.NullContext{LocalCID: localCID()}
	engine, err := share.NewEngine(cfg.Share, hubs.CID(), store, pool)
	if err != nil {
		return err
	}
	defer engine.Shutdown()

	pool.Subscribe(func(ev hasher.Event) {
		if fh, ok := ev.(hasher.FileHashed); ok {
			engine.OnFileHashed(fh.Path, fh.Info)
		}
	})

	dispatcher := upload.NewDispatcher(cfg.Upload, hubs,
		upload.EngineSource{Engine: engine}, store, nil)

	var mon *monitor.Monitor
	if cfg.Share.Monitoring {
		mon, err = monitor.New(cfg.Share.MonitorDelay, func(dir string) {
			if _, err := engine.ScheduleRefresh(share.TaskMonitoring, dir); err != nil {
				logger.Warn("monitor refresh rejected",
					logger.KeyPath, dir, logger.KeyError, err)
			}
		})
		if err != nil {
			return fmt.Errorf("cannot start monitoring: %w", err)
		}
		defer mon.Close()
		for _, root := range engine.Roots() {
			mon.AddRoot(root.Path())
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.HookHasher(pool)
		m.HookShare(engine)
		m.HookUploads(dispatcher)
		go func() {
			if err := m.Serve(cfg.Metrics.Bind); err != nil {
				logger.Error("metrics endpoint failed", logger.KeyError, err)
			}
		}()
	}

	// Startup share population: cached roots load instantly, the rest
	// get a startup refresh.
	stale := engine.LoadCaches(cfg.ConfigDir)
	if len(stale) > 0 {
		if _, err := engine.ScheduleRefresh(share.TaskStartup, stale...); err != nil {
			logger.Warn("startup refresh rejected", logger.KeyError, err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	second := time.NewTicker(time.Second)
	minute := time.NewTicker(time.Minute)
	defer second.Stop()
	defer minute.Stop()

	var refreshDue <-chan time.Time
	if cfg.Share.RefreshInterval > 0 {
		scheduled := time.NewTicker(cfg.Share.RefreshInterval)
		defer scheduled.Stop()
		refreshDue = scheduled.C
	}

	var lastStats share.SearchStats
	for {
		select {
		case <-second.C:
			dispatcher.SecondTick()

		case <-minute.C:
			dispatcher.MinuteTick()
			if m != nil {
				cur := engine.Stats()
				m.ObserveSearches(lastStats, cur)
				lastStats = cur
			}
			if err := engine.SaveCaches(cfg.ConfigDir); err != nil {
				logger.Warn("share cache save failed", logger.KeyError, err)
			}

		case <-refreshDue:
			if _, err := engine.RefreshAll(share.TaskScheduled); err != nil {
				logger.Warn("scheduled refresh rejected", logger.KeyError, err)
			}

		case sig := <-stop:
			logger.Info("shutting down", "signal", sig.String())
			engine.AbortRefresh()
			if err := engine.SaveCaches(cfg.ConfigDir); err != nil {
				logger.Warn("share cache save failed", logger.KeyError, err)
			}
			return nil
		}
	}
}
