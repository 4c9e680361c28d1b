package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agdash/backend/internal/database"
	"github.com/agdash/backend/internal/services"
	"github.com/spf13/viper"
)

// syncusers runs one reconciliation pass against the upstream platform's
// user export and exits. Intended to run from cron.
func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("sync.source_url", "SYNC_SOURCE_URL")
	viper.BindEnv("sync.batch_size", "SYNC_BATCH_SIZE")
	viper.BindEnv("sync.fetch_retries", "SYNC_FETCH_RETRIES")
	viper.BindEnv("sync.fetch_timeout", "SYNC_FETCH_TIMEOUT")
	viper.BindEnv("sync.default_password", "SYNC_DEFAULT_PASSWORD")

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	// A signal cancels the run between records; applied records stay.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("[SYNC] Interrupt received, stopping after current record")
		cancel()
	}()

	syncService := services.NewSyncService(db)
	report, err := syncService.Run(ctx)
	if err != nil {
		log.Fatalf("[SYNC] Run failed: %v", err)
	}

	log.Printf("[SYNC] Users synced successfully: %d created, %d skipped, %d failed",
		report.Created, report.Skipped, report.Failed)
	for _, f := range report.Failures {
		log.Printf("[SYNC] Failed record %s: %s", f.UserName, f.Reason)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}
