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

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"tablebill/backend/internal/config"
	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/events"
	"tablebill/backend/internal/httpapi"
	"tablebill/backend/internal/lock"
	"tablebill/backend/internal/logger"
	"tablebill/backend/internal/loyalty"
	"tablebill/backend/internal/service"
	"tablebill/backend/internal/store"
	"tablebill/backend/internal/store/memory"
	pgstore "tablebill/backend/internal/store/postgres"
	"tablebill/backend/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New(os.Stdout, logger.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	if err := validateSecurityConfig(cfg); err != nil {
		log.Error("STARTUP", fmt.Sprintf("invalid security configuration: %v", err))
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(runCtx, 30*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Error("STARTUP", err.Error())
		os.Exit(1)
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var locker lock.Locker = lock.NewLocal()
	hub := ws.NewHub()
	dispatchers := events.Multi{events.NewLog(log), hub}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("STARTUP", fmt.Sprintf("redis unavailable (%v), using in-process locks", err))
			_ = client.Close()
		} else {
			locker = lock.NewRedis(client, time.Duration(cfg.LockTTLSeconds)*time.Second)
			dispatchers = append(dispatchers, events.NewRedisPublisher(client, cfg.RedisEventsChannel))
			closers = append(closers, client.Close)
			log.Info("STARTUP", "locks and event fan-out: redis")
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		dispatchers = append(dispatchers, kafka)
		closers = append(closers, kafka.Close)
		log.Info("STARTUP", fmt.Sprintf("order events: kafka topic %s", cfg.KafkaTopic))
	}

	svc := service.New(repo, service.Options{
		DefaultRestaurantID: cfg.RestaurantID,
		Charges:             chargesFromConfig(cfg),
		Loyalty: loyalty.NewTracker(loyalty.Thresholds{
			Silver:   cfg.LoyaltySilverMin,
			Gold:     cfg.LoyaltyGoldMin,
			Platinum: cfg.LoyaltyPlatinumMin,
		}, cfg.LoyaltyPointsPerUnit),
		Locker: locker,
		Events: dispatchers,
		Logger: log,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Hub:           hub,
		Logger:        log,
	})

	go hub.Run(runCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("STARTUP", fmt.Sprintf("POS backend listening on %s", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("STARTUP", fmt.Sprintf("server error: %v", err))
			stop()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("SHUTDOWN", fmt.Sprintf("shutdown error: %v", err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("SHUTDOWN", fmt.Sprintf("close error: %v", err))
		}
	}

	log.Info("SHUTDOWN", "server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. The returned close func may be nil.
func openRepository(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("STARTUP", "repository: in-memory")
		return memory.NewSeeded(cfg.RestaurantID, log), nil, nil
	}

	if cfg.AutoMigrate {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("postgres migration failed: %w", err)
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
	}
	if err := bootstrap(ctx, pg, cfg, log); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info("STARTUP", "repository: postgres")
	return pg, pg.Close, nil
}

// bootstrap seeds the demo catalog and the first admin account. Both steps
// are skipped when the records already exist.
func bootstrap(ctx context.Context, repo store.Repository, cfg config.Config, log *logger.Logger) error {
	if cfg.SeedDemoData {
		err := repo.Apply(ctx, memory.DemoCatalog(cfg.RestaurantID))
		switch {
		case errors.Is(err, store.ErrConcurrentModification):
			log.Debug("STARTUP", "demo catalog already present")
		case err != nil:
			return fmt.Errorf("seed demo catalog: %w", err)
		default:
			log.Info("STARTUP", fmt.Sprintf("seeded demo catalog for %s", cfg.RestaurantID))
		}
	}

	if cfg.SeedAdminPassword == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	err = repo.CreateUser(ctx, domain.UserAccount{
		Username:     "admin",
		Password:     string(hash),
		Role:         httpapi.RoleAdmin,
		RestaurantID: cfg.RestaurantID,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, store.ErrConcurrentModification) {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

func chargesFromConfig(cfg config.Config) domain.Charges {
	return domain.Charges{
		CGSTRate:          cfg.CGSTRate,
		SGSTRate:          cfg.SGSTRate,
		TaxRate:           cfg.TaxRate,
		ServiceChargeRate: cfg.ServiceChargeRate,
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential in either direction, or on the common-PIN list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "696969": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
