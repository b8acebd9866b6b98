package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/xiangqi-live/internal/chatcache"
	appcfg "github.com/park285/xiangqi-live/internal/config"
	"github.com/park285/xiangqi-live/internal/domain"
	"github.com/park285/xiangqi-live/internal/fanout"
	"github.com/park285/xiangqi-live/internal/game"
	"github.com/park285/xiangqi-live/internal/gateway"
	"github.com/park285/xiangqi-live/internal/globalchat"
	"github.com/park285/xiangqi-live/internal/msgcat"
	"github.com/park285/xiangqi-live/internal/obslog"
	"github.com/park285/xiangqi-live/internal/router"
	"github.com/park285/xiangqi-live/internal/store"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig) error {
	logger := obslog.L()

	ropts, err := appcfg.RedisOptions(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	defer rdb.Close()
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pctx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	bus, closeBus, err := openBus(busCtx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	hub := fanout.NewHub(bus, fanout.WithLogger(logger))
	defer hub.Close()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}
	if err := cat.Require(msgcat.All...); err != nil {
		return err
	}
	chat := chatcache.New(rdb, st,
		chatcache.WithLimit(cfg.ChatCacheLimit),
		chatcache.WithPageSize(cfg.ChatPageSize),
		chatcache.WithLogger(logger),
	)
	coord := game.NewCoordinator(st, chat, hub, cat, game.Config{
		RatingDelta:   cfg.RatingDelta,
		MaxCASRetries: cfg.MaxCASRetries,
		ChatPageSize:  cfg.ChatPageSize,
	})
	lobby := globalchat.NewHandler(rdb, chat, hub, cat, globalchat.Config{
		Room:       cfg.GlobalChatRoom,
		ProfileTTL: time.Duration(cfg.ChatProfileTTLSec) * time.Second,
		PageSize:   cfg.ChatPageSize,
	})
	if err := seedSessions(ctx, cfg, coord); err != nil {
		return err
	}

	gw := gateway.New(
		gateway.NewAuthenticator(cfg.JWTSecret, st),
		hub,
		router.New(coord, lobby, hub, cat),
		lobby,
		gateway.Options{OriginPatterns: cfg.AllowedOrigins},
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.WSPath, gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(busCtx)
	})
	g.Go(func() error {
		logger.Info("server_listen", zap.String("addr", cfg.ListenAddr), zap.String("ws_path", cfg.WSPath), zap.String("fanout", cfg.FanoutBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutdown", zap.Int("open_conns", gw.Active()))
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		gw.Shutdown()
		cancelBus()
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		st, err := store.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.DBAutoMigrate {
			if err := store.EnsureSchema(ctx, st); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil
	}

	obslog.L().Warn("store_in_memory", zap.Int("dev_users", len(cfg.DevUsers)))
	mem := store.NewMemoryStore()
	for _, raw := range cfg.DevUsers {
		u, err := parseDevUser(raw)
		if err != nil {
			return nil, err
		}
		mem.SeedUser(u)
	}
	return mem, nil
}

// parseDevUser reads "id:username".
func parseDevUser(raw string) (domain.User, error) {
	idPart, name, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || strings.TrimSpace(name) == "" {
		return domain.User{}, fmt.Errorf("DEV_USERS entry %q: want id:username", raw)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil || id <= 0 {
		return domain.User{}, fmt.Errorf("DEV_USERS entry %q: bad id", raw)
	}
	return domain.User{ID: id, Username: strings.TrimSpace(name), Active: true, SkillRating: domain.DefaultRating}, nil
}

func seedSessions(ctx context.Context, cfg *appcfg.AppConfig, coord *game.Coordinator) error {
	if cfg.DatabaseURL != "" {
		return nil
	}
	for _, id := range cfg.DevSessions {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		if _, err := coord.Create(ctx, id, cfg.DefaultClockSec); err != nil {
			return fmt.Errorf("seed session %s: %w", id, err)
		}
	}
	return nil
}

func openBus(ctx context.Context, cfg *appcfg.AppConfig, rdb *redis.Client, logger *zap.Logger) (fanout.Bus, func(), error) {
	if cfg.FanoutBackend != "nats" {
		return fanout.NewRedisBus(ctx, rdb), func() {}, nil
	}
	nc, err := fanout.DialNATS(cfg.NATSURL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return fanout.NewNATSBus(nc, logger), func() { _ = nc.Drain() }, nil
}
