package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/bazaarhq/conversation-service/internal/api"
	"github.com/bazaarhq/conversation-service/internal/auth"
	"github.com/bazaarhq/conversation-service/internal/config"
	"github.com/bazaarhq/conversation-service/internal/events"
	"github.com/bazaarhq/conversation-service/internal/feed"
	"github.com/bazaarhq/conversation-service/internal/handlers"
	"github.com/bazaarhq/conversation-service/internal/httpclient"
	"github.com/bazaarhq/conversation-service/internal/live"
	"github.com/bazaarhq/conversation-service/internal/logger"
	"github.com/bazaarhq/conversation-service/internal/profiles"
	"github.com/bazaarhq/conversation-service/internal/repository"
	"github.com/bazaarhq/conversation-service/internal/service"
	"github.com/bazaarhq/conversation-service/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	var (
		conversations service.ConversationStore
		participants  service.ParticipantStore
		messages      service.MessageStore
		receipts      service.ReceiptStore
		liveFeed      feed.Feed
		sink          service.EventSink
		names         service.NameResolver
		rdb           *redis.Client
		cleanup       []func()
	)

	if cfg.MemoryMode() {
		zlog.Info("running on in-memory stores, no external infrastructure")
		mem := store.NewMemory()
		conversations = mem.Conversations()
		participants = mem.Participants()
		messages = mem.Messages()
		receipts = mem.Receipts()
		liveFeed = feed.NewMemory()
	} else {
		ctx := context.Background()
		mc, err := repository.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			zlog.Fatalw("mongo init", "err", err)
		}
		cleanup = append(cleanup, func() { _ = mc.Disconnect(context.Background()) })
		stores := repository.NewStores(mc.Database(cfg.Mongo.DB))
		conversations = stores.Conversations
		participants = stores.Participants
		messages = stores.Messages
		receipts = stores.Receipts

		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup = append(cleanup, func() { _ = rdb.Close() })

		nf, err := feed.ConnectNATS(cfg.NATS.URL,
			time.Duration(cfg.NATS.ConnectSeconds)*time.Second, zlog)
		if err != nil {
			zlog.Fatalw("nats init", "err", err)
		}
		cleanup = append(cleanup, nf.Close)
		liveFeed = nf

		pub := events.NewPublisher(cfg.Kafka.Brokers, zlog)
		cleanup = append(cleanup, func() { _ = pub.Close() })
		sink = pub

		if cfg.Profiles.BaseURL != "" {
			hc := httpclient.New(httpclient.Config{
				Timeout:         time.Duration(cfg.Profiles.TimeoutSeconds) * time.Second,
				RetryMaxElapsed: 15 * time.Second,
				MaxIdleConns:    32,
				IdleConnTimeout: 90 * time.Second,
			})
			names = profiles.NewDirectory(cfg.Profiles.BaseURL, hc, rdb, zlog)
		}
	}

	msgLog := service.NewLog(conversations, participants, messages, liveFeed, sink, zlog)
	inbox := service.NewInbox(messages, names, zlog)
	directory := service.NewDirectory(conversations, participants, messages, msgLog, inbox, sink, zlog)
	tracker := service.NewReceipts(messages, receipts)
	manager := live.NewManager(liveFeed, msgLog, zlog)

	var jv *auth.Validator
	if cfg.JWT.Alg == "RS256" {
		jv, err = auth.NewValidatorRS256(cfg.JWT.PublicKeyPath)
	} else {
		secret := cfg.JWT.HSSecret
		if secret == "" && cfg.MemoryMode() {
			secret = "dev-secret"
		}
		jv, err = auth.NewValidatorHS256(secret)
	}
	if err != nil {
		zlog.Fatalw("jwt validator init", "err", err)
	}

	ch := handlers.NewConversationHandler(directory, msgLog, tracker, zlog)
	wh := handlers.NewWSHandler(msgLog, tracker, manager, zlog)
	app := api.NewServer(cfg, ch, wh, jv, rdb)

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(":" + cfg.App.PortString())
	}()
	zlog.Infow("conversation-service started", "port", cfg.App.Port, "store", cfg.App.Store)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "err", e)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		zlog.Warnw("fiber shutdown", "err", err)
	}
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	zlog.Info("conversation-service stopped")
}
