package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gradelab/buyback-service/internal/db"
	"github.com/gradelab/buyback-service/internal/handlers"
	"github.com/gradelab/buyback-service/internal/notify"
	"github.com/gradelab/buyback-service/internal/payments"
	"github.com/gradelab/buyback-service/internal/repository"
	"github.com/gradelab/buyback-service/internal/router"
	"github.com/gradelab/buyback-service/internal/router/config"
	"github.com/gradelab/buyback-service/internal/services"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal("cannot load config:", err)
	}

	runDBMigration(cfg.MigrationURL, cfg.PostgresConn)

	dbPool, err := db.InitDb(cfg)
	if err != nil {
		log.Fatalf("error initializing database: %v", err)
	}
	defer dbPool.Close()

	logger := log.New(os.Stdout, "INFO: ", log.LstdFlags)

	dispatcher, err := notify.NewLogDispatcher(logger, cfg.NotifyChannels)
	if err != nil {
		log.Fatalf("error configuring notifications: %v", err)
	}
	paymentBridge := payments.NewHTTPBridge(cfg.PaymentBridgeURL, cfg.PaymentBridgeKey)

	offerRepo := repository.NewPostgresOfferRepository(dbPool)
	offerService := services.NewOfferService(offerRepo, dispatcher, paymentBridge, logger)
	offerHandler := handlers.NewOfferHandler(offerService, logger, 5*time.Second)

	routes := router.InitRoutes(offerHandler)

	log.Printf("server is listening on %s...", cfg.ServerAddress)
	if err := http.ListenAndServe(cfg.ServerAddress, routes); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func runDBMigration(migrationURL string, dbSource string) {
	migration, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		log.Fatal("cannot create a new migrate instance", err)
	}

	if err = migration.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("failed to run migrate up:", err)
	}
	log.Println("db migrated successfully")
}
