// Package main provides the battle server binary: REST join/leave endpoints
// and the WebSocket snapshot/delta feed for chat channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/hexbattle/internal/config"
	"github.com/cory-johannsen/hexbattle/internal/game/battle"
	"github.com/cory-johannsen/hexbattle/internal/game/battlefield"
	"github.com/cory-johannsen/hexbattle/internal/game/command"
	"github.com/cory-johannsen/hexbattle/internal/game/dice"
	"github.com/cory-johannsen/hexbattle/internal/game/session"
	"github.com/cory-johannsen/hexbattle/internal/gameserver"
	"github.com/cory-johannsen/hexbattle/internal/observability"
	"github.com/cory-johannsen/hexbattle/internal/scripting"
	"github.com/cory-johannsen/hexbattle/internal/server"
	"github.com/cory-johannsen/hexbattle/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting battle server", zap.String("addr", cfg.Server.Addr()))

	layout, err := loadLayout(cfg.Battle)
	if err != nil {
		logger.Fatal("loading battlefield", zap.Error(err))
	}
	logger.Info("battlefield loaded",
		zap.String("layout", layout.ID),
		zap.Int("width", layout.Width),
		zap.Int("height", layout.Height),
		zap.Int("obstacles", len(layout.Obstacles)),
		zap.Int("npcs", len(layout.NPCs)),
	)

	rng := dice.NewLoggedSource(dice.NewCryptoSource(), logger)

	var policy gameserver.NPCPolicy
	if cfg.Battle.NPCScript != "" {
		p, err := scripting.NewPolicyFromFile(cfg.Battle.NPCScript, cfg.Battle.ScriptInstructionLimit, cfg.Battle.ScriptStates, rng, logger)
		if err != nil {
			logger.Fatal("loading npc policy", zap.String("script", cfg.Battle.NPCScript), zap.Error(err))
		}
		defer p.Close()
		policy = p
		logger.Info("npc policy loaded",
			zap.String("script", cfg.Battle.NPCScript),
			zap.Int("states", cfg.Battle.ScriptStates),
		)
	}

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)

	var (
		directory gameserver.Directory
		health    func(context.Context) error
	)
	switch cfg.Directory.Backend {
	case config.DirectoryPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("connect_attempts", cfg.Database.ConnectAttempts),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		directory = gameserver.NewMemberRepoAdapter(postgres.NewMemberRepository(pool.DB()))
		health = func(ctx context.Context) error {
			acquired, idle := pool.Usage()
			logger.Debug("database pool", zap.Int32("acquired", acquired), zap.Int32("idle", idle))
			return pool.Health(ctx, 5*time.Second)
		}
		lifecycle.Add("postgres", untilStopped(func(context.Context) error {
			pool.Close()
			return nil
		}))
	default:
		directory = gameserver.NewMemoryDirectory(cfg.Directory.Open)
		logger.Warn("using in-memory channel directory", zap.Bool("open", cfg.Directory.Open))
	}

	hub := gameserver.NewHub(gameserver.HubConfig{
		Layout:     layout,
		MinPlayers: cfg.Battle.MinPlayers,
		Rules: battle.Rules{
			MaxHealth:    cfg.Battle.MaxHealth,
			AttackDamage: cfg.Battle.AttackDamage,
			HealAmount:   cfg.Battle.HealAmount,
		},
		Channel: gameserver.ChannelConfig{
			QueueSize:      cfg.Battle.QueueSize,
			TurnTimeout:    cfg.Battle.TurnTimeout,
			ReconnectGrace: cfg.Battle.ReconnectGrace,
			IdleTTL:        cfg.Battle.IdleTTL,
			NPCDelay:       cfg.Battle.NPCDelay,
		},
		Registry: command.DefaultRegistry(),
		Policy:   policy,
		Rand:     rng,
		Logger:   logger,
	})
	sessions := session.NewManager(cfg.WebSocket.SendBuffer)

	ws := gameserver.NewWSHandler(hub, sessions, directory, gameserver.WSConfig{
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, logger)

	router := gameserver.NewRouter(gameserver.RouterConfig{
		Hub:       hub,
		Directory: directory,
		WS:        ws,
		Sessions:  sessions,
		Health:    health,
		Logger:    logger,
	})

	httpSvc, err := server.NewHTTPService(&http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("binding http listener", zap.Error(err))
	}

	janitor := gameserver.NewJanitor(cfg.Battle.SweepInterval, logger)
	janitor.Register("idle-sweep", func(context.Context) {
		hub.Sweep(time.Now())
	})
	if health != nil {
		janitor.Register("db-health", func(ctx context.Context) {
			if err := health(ctx); err != nil {
				logger.Warn("database health check failed", zap.Error(err))
			}
		})
	}

	lifecycle.Add("hub", untilStopped(hub.Shutdown))
	lifecycle.Add("janitor", server.NewRunnerService(janitor.Run))
	lifecycle.Add("http", httpSvc)

	logger.Info("battle server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", httpSvc.Addr().String()),
		zap.Strings("commands", commandNames(hub.Registry())),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadLayout returns the configured battlefield: a named layout from the
// layout directory, or an open map of the configured size.
func loadLayout(cfg config.BattleConfig) (*battlefield.Layout, error) {
	if cfg.Layout == "" {
		return battlefield.Open("open", cfg.Width, cfg.Height), nil
	}
	layouts, err := battlefield.LoadLayoutsFromDir(cfg.LayoutDir)
	if err != nil {
		return nil, err
	}
	catalog, err := battlefield.NewCatalog(layouts)
	if err != nil {
		return nil, err
	}
	layout, ok := catalog.Get(cfg.Layout)
	if !ok {
		return nil, fmt.Errorf("battlefield %q not found in %s (have %v)", cfg.Layout, cfg.LayoutDir, catalog.IDs())
	}
	return layout, nil
}

// untilStopped wraps a component with no run loop of its own: Start blocks
// until stop has run.
func untilStopped(stop func(ctx context.Context) error) *server.FuncService {
	stopped := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			<-stopped
			return nil
		},
		StopFn: func(ctx context.Context) error {
			defer close(stopped)
			return stop(ctx)
		},
	}
}

func commandNames(r *command.Registry) []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
