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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ashabalin/webshop/internal/config"
	"github.com/ashabalin/webshop/internal/es"
	"github.com/ashabalin/webshop/internal/logging"
	loggingmw "github.com/ashabalin/webshop/internal/middleware/logging"
	"github.com/ashabalin/webshop/internal/mykafka"
	"github.com/ashabalin/webshop/internal/notification"
	"github.com/ashabalin/webshop/internal/tokens"
	transport "github.com/ashabalin/webshop/internal/transport/http"
)

const productsIndex = "products"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.MustValidate()

	log := logging.New(cfg.LOG_LEVEL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.InitDB(ctx, cfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UPLOAD_DIR, 0o755); err != nil {
		log.Error("upload dir init failed", "error", err)
		os.Exit(1)
	}

	codec := &tokens.Codec{
		AccessSecret:  []byte(cfg.AT_SECRET),
		RefreshSecret: []byte(cfg.RT_SECRET),
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	}

	var producer *mykafka.Producer
	if cfg.KAFKA_ADDRESS != "" {
		producer = mykafka.NewProducer([]string{cfg.KAFKA_ADDRESS})
		defer producer.Close()
	} else {
		log.Warn("KAFKA_ADDRESS not set, events disabled")
	}

	deps := transport.Deps{
		DB:        db,
		Codec:     codec,
		Producer:  producer,
		ESIndex:   productsIndex,
		UploadDir: cfg.UPLOAD_DIR,
	}

	if cfg.ES_URL != "" {
		esClient, err := es.NewClient(cfg)
		if err != nil {
			log.Warn("elasticsearch unavailable, search disabled", "error", err)
		} else {
			deps.ES = esClient
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(loggingmw.RequestLogger(log))

	transport.Register(e, deps)

	if cfg.KAFKA_ADDRESS != "" {
		consumer := notification.NewConsumer([]string{cfg.KAFKA_ADDRESS}, "notifications", "webshop-notifications", log)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("notification consumer stopped", "error", err)
			}
		}()
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.SERVER_PORT)
		log.Info("server starting", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
