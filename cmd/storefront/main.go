package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/orderfield/storefront/internal/clients"
	"github.com/orderfield/storefront/internal/domain"
	"github.com/orderfield/storefront/internal/handlers"
	"github.com/orderfield/storefront/internal/platform/auth"
	"github.com/orderfield/storefront/internal/platform/config"
	"github.com/orderfield/storefront/internal/platform/kvstore"
	"github.com/orderfield/storefront/internal/platform/observability"
	kvrepo "github.com/orderfield/storefront/internal/repositories/kv"
	"github.com/orderfield/storefront/internal/services"
	"github.com/orderfield/storefront/internal/sessions"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialise cart store", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("cart store close error", zap.Error(err))
		}
	}()

	events := observability.EventLogger(logger.Named("events"))

	repo, err := kvrepo.NewCartRepository(store, events)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}

	stockClient := clients.NewStockClient(cfg.Upstream.StockURL, cfg.Upstream.Timeout)
	orderClient := clients.NewOrderClient(cfg.Upstream.OrderURL, cfg.Upstream.Timeout)

	validator, err := services.NewStockValidator(services.StockValidatorDeps{
		Authority: stockClient,
		Logger:    events,
	})
	if err != nil {
		logger.Fatal("failed to initialise stock validator", zap.Error(err))
	}

	factory := func(owner domain.OwnerKey) (services.CartService, services.SubmissionService, error) {
		cart, err := services.NewCartService(services.CartServiceDeps{
			Repository: repo,
			Owner:      owner,
			TaxRateBps: cfg.Pricing.TaxRateBps,
			Logger:     events,
		})
		if err != nil {
			return nil, nil, err
		}
		submission, err := services.NewSubmissionService(services.SubmissionServiceDeps{
			Cart:      cart,
			Validator: validator,
			Orders:    orderClient,
			Logger:    events,
		})
		if err != nil {
			_ = cart.Close()
			return nil, nil, err
		}
		return cart, submission, nil
	}

	manager, err := sessions.NewManager(sessions.ManagerDeps{
		Factory: factory,
		TTL:     cfg.Auth.SessionTTL,
		Logger:  events,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn("session manager close error", zap.Error(err))
		}
	}()

	authenticator := auth.NewAuthenticator(auth.AuthenticatorDeps{
		JWTSecret:     cfg.Auth.JWTSecret,
		SessionCookie: cfg.Auth.SessionCookie,
		SessionTTL:    cfg.Auth.SessionTTL,
	})

	healthHandlers := handlers.NewHealthHandlers(storeProbe(store))

	router := handlers.NewRouter(
		handlers.WithMiddlewares(authenticator.Middleware),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(handlers.NewCartHandlers(manager).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(manager).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening", zap.String("backend", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newStore(ctx context.Context, cfg config.StoreConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kvstore.NewMemoryStore(), nil
	case config.BackendFile:
		return kvstore.NewFileStore(cfg.FilePath)
	case config.BackendRedis:
		return kvstore.NewRedisStore(ctx, kvstore.RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
	case config.BackendFirestore:
		return kvstore.NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCollection)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func storeProbe(store kvstore.Store) handlers.ReadinessProbe {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := store.Get(ctx, "readyz")
		return err
	}
}
