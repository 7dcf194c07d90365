package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/api"
	"github.com/meghan/community-chat/internal/auth"
	"github.com/meghan/community-chat/internal/community"
	"github.com/meghan/community-chat/internal/config"
	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/ledger"
	"github.com/meghan/community-chat/internal/messaging"
	"github.com/meghan/community-chat/internal/postgres"
	"github.com/meghan/community-chat/internal/presence"
	"github.com/meghan/community-chat/internal/ratelimit"
	"github.com/meghan/community-chat/internal/room"
	"github.com/meghan/community-chat/internal/safety"
	"github.com/meghan/community-chat/internal/session"
	"github.com/meghan/community-chat/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// stores groups the persistence backends. Memory stores are used when no
// database is configured.
type stores struct {
	community community.Store
	ledger    ledger.Store
	crisis    crisis.Store
	close     func()
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return &stores{
			community: community.NewMemoryStore(),
			ledger:    ledger.NewMemoryStore(),
			crisis:    crisis.NewMemoryStore(),
			close:     func() {},
		}, nil
	}

	if cfg.RunMigrations {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("database migrations applied")
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	return &stores{
		community: postgres.NewCommunityStore(db),
		ledger:    postgres.NewLedgerStore(db),
		crisis:    postgres.NewCrisisStore(db),
		close:     func() { db.Close() },
	}, nil
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	log.WithFields(logrus.Fields{
		"listen_addr":     cfg.ListenAddr,
		"server_name":     cfg.ServerName,
		"max_connections": cfg.MaxConnections,
		"redis":           cfg.RedisAddr != "",
		"nats":            cfg.NATSURL != "",
		"postgres":        cfg.DatabaseURL != "",
		"classifier":      cfg.ClassifierURL != "",
		"failure_policy":  cfg.ClassifierFailurePolicy,
	}).Info("community chat server starting")

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// --- Redis: rate limits and presence ---
	msgRule := ratelimit.Rule{Key: ratelimit.RuleMessage.Key, Limit: cfg.MessageRate, Window: cfg.MessageWindow}
	connRule := ratelimit.Rule{Key: ratelimit.RuleConnect.Key, Limit: cfg.ConnectRate, Window: ratelimit.RuleConnect.Window}

	var (
		msgLimiter  session.Limiter
		connLimiter api.Limiter
		sessPres    session.Presence
		onlineCount api.OnlineCounter
	)
	if cfg.RedisAddr != "" {
		pres, err := presence.NewStore(cfg.RedisAddr, cfg.ServerName)
		if err != nil {
			return err
		}
		defer pres.Close()
		client := pres.Client()
		msgLimiter = ratelimit.NewRedisLimiter(client, msgRule, log)
		connLimiter = ratelimit.NewRedisLimiter(client, connRule, log)
		sessPres, onlineCount = pres, pres
	} else {
		local := ratelimit.NewLocalLimiter(msgRule)
		localConn := ratelimit.NewLocalLimiter(connRule)
		go local.RunSweeper(ctx, time.Minute)
		go localConn.RunSweeper(ctx, time.Minute)
		msgLimiter, connLimiter = local, localConn
	}

	// --- NATS: crisis alerts ---
	notifier := crisis.MultiNotifier{crisis.NewLogNotifier(log)}
	var bus api.BusStatus
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = cfg.ServerName
		nc, err := messaging.NewNATSClient(natsCfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		notifier = append(notifier, crisis.NewNATSNotifier(nc))
		bus = nc
	}

	// --- Safety pipeline ---
	safetyCfg := safety.DefaultConfig()
	safetyCfg.FailurePolicy = safety.FailurePolicy(cfg.ClassifierFailurePolicy)
	safetyCfg.SecondaryTimeout = cfg.ClassifierTimeout
	var secondary safety.SecondaryClassifier
	if cfg.ClassifierURL != "" {
		secondary = safety.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout)
	}
	classifier, err := safety.NewClassifier(safetyCfg, secondary, log)
	if err != nil {
		return err
	}

	sinkCfg := crisis.DefaultSinkConfig()
	sinkCfg.QueueSize = cfg.CrisisQueueSize
	sinkCfg.Workers = cfg.CrisisWorkers
	sink := crisis.NewSink(st.crisis, notifier, sinkCfg, log)
	defer sink.Close()

	dir := community.NewDirectory(st.community, cfg.Limits(), log)
	if cfg.SeedDefaultRooms {
		if err := dir.EnsureDefaultRooms(ctx); err != nil {
			return err
		}
	}

	tokens := auth.NewTokenAuth(cfg.JWTSecret, cfg.JWTIssuer)
	hearts := ledger.New(st.ledger, log)
	registry := room.NewRegistry(cfg.SendTimeout, log)

	orch, err := session.NewOrchestrator(session.Deps{
		Auth:       tokens,
		Directory:  dir,
		Messages:   st.community,
		Classifier: classifier,
		Crisis:     sink,
		Ledger:     hearts,
		Rooms:      registry,
		Limiter:    msgLimiter,
		Presence:   sessPres,
	}, log)
	if err != nil {
		return err
	}

	upgrader := ws.NewUpgrader(ws.Config{
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.SendTimeout,
		MaxMessageSize: ws.DefaultMaxMessageSize,
	}, log)
	upgrader.StartHeartbeat(ctx, ws.HeartbeatConfig{
		Interval: cfg.PingInterval,
		Timeout:  ws.DefaultHeartbeatConfig().Timeout,
	})

	srv := api.NewServer(api.Deps{
		Auth:         tokens,
		Directory:    dir,
		Ledger:       hearts,
		Crisis:       sink,
		Classifier:   classifier,
		Sessions:     orch,
		Upgrader:     upgrader,
		Rooms:        registry,
		Presence:     onlineCount,
		ConnectLimit: connLimiter,
		Bus:          bus,
		AllowOrigins: cfg.AllowOrigins(),
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	upgrader.Connections().CloseAll(session.CloseGoingAway, "server shutting down")
	log.Info("server stopped")
	return nil
}
