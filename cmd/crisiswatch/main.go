// Command crisiswatch follows the crisis alert channel, logs every alert and
// escalates users whose alerts repeat.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/config"
	"github.com/meghan/community-chat/internal/escalation"
	"github.com/meghan/community-chat/internal/messaging"
)

func main() {
	cfg, err := config.LoadWatch()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log, err := cfg.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}
	log.Info("starting crisis watch")

	w := &watcher{log: log.WithField("component", "crisiswatch"), now: time.Now}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		cancel()
		defer rdb.Close()
		w.tracker = escalation.NewTracker(rdb, escalation.Config{
			Window:    cfg.EscalationWindow,
			Threshold: cfg.EscalationThreshold,
		})
	} else {
		log.Warn("REDIS_ADDR not set, escalation tracking disabled")
	}

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "crisiswatch"
	nc, err := messaging.NewNATSClient(natsCfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to NATS")
	}
	defer nc.Close()
	w.pub = nc

	if err := nc.SubscribeCrisisAlerts(cfg.QueueGroup, w.handle); err != nil {
		log.WithError(err).Fatal("failed to subscribe to crisis alerts")
	}

	log.WithFields(logrus.Fields{
		"nats_url":   cfg.NATSURL,
		"queue":      cfg.QueueGroup,
		"escalation": w.tracker != nil,
	}).Info("crisis watch running")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutting down crisis watch")
}
