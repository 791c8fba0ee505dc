package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gardenx/config"
	"gardenx/internal/api"
	"gardenx/internal/broker"
	"gardenx/internal/imagestore"
	"gardenx/internal/notify"
	"gardenx/internal/redisclient"
	"gardenx/internal/service"
	"gardenx/internal/store"
	"gardenx/internal/tenant"
	"gardenx/internal/util"
	"gardenx/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting gardenx server")

	tp, err := util.InitTracer("gardenx", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	schools, err := tenant.LoadManifest(cfg.Tenancy.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to load school manifest: %v", err)
	}

	registry, err := tenant.NewRegistry(schools, cfg.Tenancy.DefaultSchool, store.NewStore)
	if err != nil {
		log.Fatalf("Failed to build school registry: %v", err)
	}
	defer registry.Close()
	log.Printf("School registry ready: %d schools", len(schools))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	images, err := imagestore.NewFileStore(cfg.Storage.ImageDir, cfg.Storage.ImageBaseURL)
	if err != nil {
		log.Fatalf("Failed to prepare image store: %v", err)
	}

	notifier := notify.NewNotifier(cfg.Notify.NtfyURL, cfg.Notify.EmailAPIURL)

	services := make(map[string]*api.SchoolServices, len(schools))
	for _, school := range schools {
		rt, err := registry.Resolve(school.ID)
		if err != nil {
			log.Fatalf("Failed to resolve school %s: %v", school.ID, err)
		}
		services[school.ID] = &api.SchoolServices{
			Catalog: service.NewCatalogService(rt.Store, images),
			Orders:  service.NewOrderService(rt.Store, eventPublisher, school.ID, cfg.Business.RestockOnCancel),
			Reports: service.NewReportService(rt.Store),
			Auth: service.NewAuthService(rt.Store, redisClient, redisClient, notifier, service.AuthConfig{
				JWTSecret:   cfg.Auth.JWTSecret,
				AdminDomain: cfg.Auth.AdminDomain,
				TokenTTL:    cfg.Auth.TokenTTL,
				ResetTTL:    cfg.Auth.ResetTTL,
				ResetURL:    cfg.Auth.ResetURL,
				SchoolID:    school.ID,
			}),
		}
	}

	cartService := service.NewCartService(redisClient)
	paymentService := service.NewPaymentService(
		cfg.Payment.APIURL, cfg.Payment.APIKey, cfg.Payment.CurrencyCode, cfg.Payment.ReturnURL,
		redisClient, time.Duration(cfg.Business.PaymentTimeoutSeconds)*time.Second)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Static(cfg.Storage.ImageBaseURL, cfg.Storage.ImageDir)
	handler := api.NewHandler(registry, services, cartService, paymentService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
