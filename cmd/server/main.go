package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/api"
	"github.com/dreamerumesh/connecTu-backend/internal/auth"
	"github.com/dreamerumesh/connecTu-backend/internal/config"
	"github.com/dreamerumesh/connecTu-backend/internal/database"
	"github.com/dreamerumesh/connecTu-backend/internal/discovery"
	"github.com/dreamerumesh/connecTu-backend/internal/events"
	"github.com/dreamerumesh/connecTu-backend/internal/logger"
	"github.com/dreamerumesh/connecTu-backend/internal/media"
	"github.com/dreamerumesh/connecTu-backend/internal/metrics"
	"github.com/dreamerumesh/connecTu-backend/internal/otp"
	"github.com/dreamerumesh/connecTu-backend/internal/presence"
	"github.com/dreamerumesh/connecTu-backend/internal/realtime"
	"github.com/dreamerumesh/connecTu-backend/internal/repository"
	"github.com/dreamerumesh/connecTu-backend/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const presenceTTL = 2 * time.Minute

type stores struct {
	messages repository.MessageStore
	chats    repository.ChatLedger
	users    repository.UserStore
}

func main() {
	flags := pflag.NewFlagSet("connectu", pflag.ExitOnError)
	config.Flags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	sugar := zl.Sugar()
	sugar.Infof("Starting connecTu backend in %s environment on port %d", cfg.App.Env, cfg.App.Port)

	if err := run(cfg, zl); err != nil {
		sugar.Fatal(err)
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	sugar := zl.Sugar()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, sugar)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	st, mongoClient, err := openStores(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(dctx)
		}()
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
		sugar.Infof("Kafka publisher ready (topic=%s)", cfg.Kafka.Topic)
	}
	defer func() { _ = pub.Close() }()

	hub := realtime.NewHub(rdb, cfg.Realtime.Channel, zl)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = hub.Close() }()

	tokens, err := auth.NewManager(cfg.JWT.Alg, cfg.JWT.Secret, cfg.JWT.PrivateKeyPath, cfg.JWT.PublicKeyPath, cfg.JWT.TTL)
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}
	deny := auth.NewDenylist(rdb)

	provider, err := otp.NewFromConfig(cfg.OTP, rdb, zl)
	if err != nil {
		return err
	}

	authSvc := service.NewAuthService(service.AuthDeps{
		Users:    st.users,
		Provider: provider,
		Limiter:  otp.NewRateLimiter(rdb, cfg.OTP.RateLimitPerHour),
		Tokens:   tokens,
		Revoked:  deny,
		Logger:   zl,
	})
	userSvc := service.NewUserService(st.users, hub, pub, deny, zl)
	chatSvc := service.NewChatService(service.ChatDeps{
		Messages:    st.messages,
		Chats:       st.chats,
		Users:       st.users,
		Broadcaster: hub,
		Events:      pub,
		Logger:      zl,
		ListLimit:   cfg.App.ChatListLimit,
	})

	rt := realtime.NewServer(hub, authSvc, chatSvc, userSvc,
		presence.NewRedisTracker(rdb, "presence", presenceTTL),
		realtime.Options{
			RateLimitPerSec: cfg.Realtime.RateLimitPerSec,
			SendBuffer:      cfg.Realtime.SendBuffer,
			MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		}, zl)

	var mediaSvc *media.Service
	if cfg.Media.Enabled {
		store, err := media.NewS3Store(ctx, cfg.Media.Region, cfg.Media.Bucket, cfg.Media.Endpoint, cfg.Media.PublicRead)
		if err != nil {
			return fmt.Errorf("s3 init: %w", err)
		}
		mediaSvc = media.NewService(store, media.Options{
			AvatarSize:     cfg.Media.AvatarSize,
			MaxUploadBytes: cfg.Media.MaxUploadBytes,
			PresignTTL:     cfg.Media.PresignTTL,
		}, zl)
		sugar.Infof("Media uploads enabled (bucket=%s)", cfg.Media.Bucket)
	}

	app := api.New(api.Deps{
		Config:   cfg,
		Auth:     authSvc,
		Users:    userSvc,
		Chats:    chatSvc,
		Media:    mediaSvc,
		Realtime: rt,
		Health:   healthCheck(rdb, mongoClient),
		Logger:   zl,
	})

	reg, err := discovery.New(cfg.Consul, cfg.App.Port, zl)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(cfg.App.Addr())
	}()
	if err := reg.Register(ctx); err != nil {
		sugar.Warnf("Service registration failed: %v", err)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	sugar.Info("Shutdown requested")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := reg.Deregister(sctx); err != nil {
		sugar.Warnf("Service deregistration failed: %v", err)
	}
	if err := app.ShutdownWithContext(sctx); err != nil {
		sugar.Warnf("HTTP shutdown: %v", err)
	}
	sugar.Info("Shutdown completed")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*stores, *mongo.Client, error) {
	if cfg.Storage.Driver == "memory" {
		sugar.Warn("Using in-memory storage; data is lost on restart")
		return &stores{
			messages: repository.NewMemoryMessageStore(),
			chats:    repository.NewMemoryChatLedger(),
			users:    repository.NewMemoryUserStore(),
		}, nil, nil
	}

	db, client, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: %w", err)
	}
	fail := func(err error) (*stores, *mongo.Client, error) {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	msgs, err := repository.NewMongoMessageStore(ctx, db)
	if err != nil {
		return fail(fmt.Errorf("message store: %w", err))
	}
	chats, err := repository.NewMongoChatLedger(ctx, db)
	if err != nil {
		return fail(fmt.Errorf("chat store: %w", err))
	}
	users, err := repository.NewMongoUserStore(ctx, db)
	if err != nil {
		return fail(fmt.Errorf("user store: %w", err))
	}
	return &stores{messages: msgs, chats: chats, users: users}, client, nil
}

func healthCheck(rdb *redis.Client, mc *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if mc != nil {
			if err := mc.Ping(ctx, nil); err != nil {
				return fmt.Errorf("mongo: %w", err)
			}
		}
		return nil
	}
}
