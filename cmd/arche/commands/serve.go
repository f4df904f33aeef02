package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arche-ai/arche/internal/config"
	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/logging"
	"github.com/arche-ai/arche/internal/permission"
	"github.com/arche-ai/arche/internal/server"
	"github.com/arche-ai/arche/internal/session"
	"github.com/arche-ai/arche/internal/skill"
	"github.com/arche-ai/arche/internal/storage"
	"github.com/arche-ai/arche/pkg/types"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the arche HTTP server",
	Long: `Start arche as a server that exposes the session API over HTTP
and streams session events over SSE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: prettyLog,
	})
	log := logging.ForComponent("serve")
	log.Info().Str("version", Version).Str("dir", workDir).Msg("starting arche")

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = paths.StoragePath()
	}
	store := storage.New(dataDir)

	bus := event.NewBus()
	defer bus.Close()

	// Drain the watermill mirror so the mirrored stream has a durable
	// consumer for the lifetime of the process.
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()
	mirror, err := bus.Messages(mirrorCtx)
	if err != nil {
		return err
	}
	go func() {
		for msg := range mirror {
			log.Trace().
				Str("uuid", msg.UUID).
				Str("type", msg.Metadata.Get("type")).
				Msg("event mirrored")
			msg.Ack()
		}
	}()

	broker := permission.NewBroker(bus, cfg.PermissionTimeout(permission.DefaultTimeout))

	engines := engine.NewRegistry()
	if err := engines.Register(engine.NewScripted()); err != nil {
		return err
	}

	skillsDir := cfg.Skills.Dir
	if skillsDir == "" {
		skillsDir = filepath.Join(paths.Data, "skills")
	}
	loader := skill.NewLoader(skillsDir)

	mgr := session.NewManager(session.Options{
		Bus:           bus,
		Broker:        broker,
		Engines:       engines,
		Store:         store,
		Skills:        loader,
		DefaultModel:  cfg.Model,
		DefaultMode:   cfg.PermissionMode,
		DefaultEngine: engine.KindScripted,
	})

	restored := 0
	err = store.ScanSessions(func(snap *types.SessionSnapshot) error {
		if mgr.Restore(snap) {
			restored++
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("session scan failed")
	}
	if restored > 0 {
		log.Info().Int("count", restored).Msg("sessions restored")
	}

	var watcher *skill.Watcher
	if cfg.Skills.Watch {
		watcher, err = skill.Watch(skillsDir, func(name string) {
			log.Info().Str("skill", name).Msg("skill definition changed")
		})
		if err != nil {
			log.Warn().Err(err).Str("dir", skillsDir).Msg("skill watcher disabled")
		} else {
			defer watcher.Close()
		}
	}

	serverCfg := server.DefaultConfig()
	if cfg.Server.Port > 0 {
		serverCfg.Port = cfg.Server.Port
	}
	if servePort > 0 {
		serverCfg.Port = servePort
	}
	serverCfg.EnableCORS = cfg.Server.EnableCORS

	srv := server.New(serverCfg, mgr, bus)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	return nil
}
