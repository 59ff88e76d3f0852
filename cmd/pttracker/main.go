package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pttracker/pttracker/accounting"
	"github.com/pttracker/pttracker/frontend/http"
	"github.com/pttracker/pttracker/middleware"
	"github.com/pttracker/pttracker/middleware/hitandrun"
	"github.com/pttracker/pttracker/pkg/log"
	"github.com/pttracker/pttracker/pkg/metrics"
	"github.com/pttracker/pttracker/pkg/stop"
	"github.com/pttracker/pttracker/storage"
	"github.com/pttracker/pttracker/swarm"
)

// Run represents the state of a running instance of pttracker.
type Run struct {
	configFilePath string
	store          storage.Store
	logic          *middleware.Logic
	sg             *stop.Group
}

// NewRun runs an instance of pttracker.
func NewRun(configFilePath string) (*Run, error) {
	r := &Run{
		configFilePath: configFilePath,
	}

	return r, r.Start()
}

// Start begins an instance of pttracker.
func (r *Run) Start() error {
	configFile, err := ParseConfigFile(r.configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	cfg := configFile.Tracker

	r.sg = stop.NewGroup()

	log.Info("starting metrics server", log.Fields{"addr": cfg.MetricsAddr})
	ms, err := metrics.NewServer(cfg.MetricsAddr)
	if err != nil {
		return errors.Wrap(err, "failed to start metrics server")
	}
	r.sg.Add(ms)

	log.Info("starting storage", log.Fields{"name": cfg.Storage.Name})
	r.store, err = storage.NewStore(cfg.Storage.Name, cfg.Storage.Config)
	if err != nil {
		return errors.Wrap(err, "failed to create storage")
	}

	if cfg.Seed != "" {
		sf, err := parseSeedFile(cfg.Seed)
		if err != nil {
			return err
		}
		if err := sf.load(context.Background(), r.store, time.Now()); err != nil {
			return err
		}
		log.Info("seeded storage", log.Fields{"users": len(sf.Users), "torrents": len(sf.Torrents)})
	}

	announceCfg := cfg.Announce.Validate()
	m := swarm.NewManager(r.store, announceCfg.Limits())
	r.sg.Add(swarm.NewCollector(m, cfg.Swarm))

	policy := hitandrun.NewPolicy(cfg.HitAndRun)
	engine := accounting.NewEngine(r.store, m, policy, cfg.Config)
	log.Info("configured accounting", cfg.Config, cfg.HitAndRun)

	hooks, err := middleware.NewHooks(cfg.HookConfigs())
	if err != nil {
		return errors.Wrap(err, "failed to validate hook config")
	}
	log.Info("starting tracker logic", log.Fields{"prehooks": cfg.PreHookNames()}, announceCfg)
	r.logic = middleware.NewLogic(announceCfg, r.store, m, engine, policy, hooks)

	log.Info("starting HTTP frontend", cfg.HTTPConfig)
	httpfe, err := http.NewFrontend(r.logic, cfg.HTTPConfig)
	if err != nil {
		return err
	}
	r.sg.Add(httpfe)

	return nil
}

// Stop shuts down an instance of pttracker. The frontend, the collector and
// the metrics server are stopped before the logic and the store they use.
func (r *Run) Stop() error {
	log.Debug("stopping frontends, collector and metrics server, then logic and storage")
	return stop.Sequence(r.sg, r.logic, r.store).Err("pttracker")
}

// ReloadHooks replaces the configured middleware with the one of the
// current config file, leaving everything else running.
func (r *Run) ReloadHooks() error {
	configFile, err := ParseConfigFile(r.configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	cfg := configFile.Tracker

	hooks, err := middleware.NewHooks(cfg.HookConfigs())
	if err != nil {
		return errors.Wrap(err, "failed to validate hook config")
	}

	if err := r.logic.SetHooks(hooks).Err("replaced hooks"); err != nil {
		return err
	}
	log.Info("reloaded hooks", log.Fields{"prehooks": cfg.PreHookNames()})
	return nil
}

// RootRunCmdFunc implements a Cobra command that runs an instance of
// pttracker and handles reloading and shutdown via process signals.
func RootRunCmdFunc(cmd *cobra.Command, args []string) error {
	configFilePath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	r, err := NewRun(configFilePath)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	reload := makeReloadChan()

	for {
		select {
		case <-reload:
			log.Info("reloading; received reload signal")
			if err := r.ReloadHooks(); err != nil {
				log.Error("failed to reload hooks", log.Err(err))
			}
		case <-quit:
			log.Info("shutting down; received shutdown signal")
			if err := r.Stop(); err != nil {
				return err
			}

			return nil
		}
	}
}

// RootPreRunCmdFunc handles command line flags for the Run command.
func RootPreRunCmdFunc(cmd *cobra.Command, args []string) error {
	noColors, err := cmd.Flags().GetBool("nocolors")
	if err != nil {
		return err
	}
	if noColors {
		log.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}

	jsonLog, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	if jsonLog {
		log.SetFormatter(&logrus.JSONFormatter{})
		log.Info("enabled JSON logging")
	}

	debugLog, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	if debugLog {
		log.SetDebug(true)
		log.Info("enabled debug logging")
	}

	cpuProfilePath, err := cmd.Flags().GetString("cpuprofile")
	if err != nil {
		return err
	}
	if cpuProfilePath != "" {
		f, err := os.Create(cpuProfilePath)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		log.Info("enabled CPU profiling", log.Fields{"path": cpuProfilePath})
	}

	return nil
}

// RootPostRunCmdFunc handles clean up of any state initialized by command line
// flags.
func RootPostRunCmdFunc(cmd *cobra.Command, args []string) error {
	// These can't fail because we've already parsed them in the PreRun.
	cpuProfilePath, _ := cmd.Flags().GetString("cpuprofile")
	if cpuProfilePath != "" {
		log.Info("stopping CPU profiling")
		pprof.StopCPUProfile()
	}

	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:                "pttracker",
		Short:              "Private BitTorrent Tracker",
		Long:               "A private BitTorrent tracker accounting traffic per user",
		PersistentPreRunE:  RootPreRunCmdFunc,
		RunE:               RootRunCmdFunc,
		PersistentPostRunE: RootPostRunCmdFunc,
	}

	rootCmd.PersistentFlags().String("cpuprofile", "", "location to save a CPU profile")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "enable json logging")
	if runtime.GOOS == "windows" {
		rootCmd.PersistentFlags().Bool("nocolors", true, "disable log coloring")
	} else {
		rootCmd.PersistentFlags().Bool("nocolors", false, "disable log coloring")
	}

	rootCmd.Flags().String("config", "/etc/pttracker.yaml", "location of configuration file")

	e2eCmd := &cobra.Command{
		Use:   "e2e",
		Short: "exec e2e tests",
		Long:  "Execute the end-to-end test suite against a running tracker",
		RunE:  EndToEndRunCmdFunc,
	}

	e2eCmd.Flags().String("httpaddr", "http://127.0.0.1:6969", "address of the HTTP tracker")
	e2eCmd.Flags().StringSlice("passkeys", nil, "passkeys of two distinct users")
	e2eCmd.Flags().String("infohash", "", "hex infohash of a reviewed torrent")
	e2eCmd.Flags().Duration("delay", time.Second, "delay between announces")

	rootCmd.AddCommand(e2eCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal("failed when executing root cobra command: " + err.Error())
	}
}
