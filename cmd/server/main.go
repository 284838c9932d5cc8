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

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/availability"
	"booking-service/internal/broker"
	"booking-service/internal/commission"
	"booking-service/internal/jobs"
	"booking-service/internal/pricing"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/settings"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service")

	tp, err := util.InitTracer("booking-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	bookingProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer bookingProducer.Close()
	log.Println("Kafka producers initialized")

	orderPublisher := broker.NewEventPublisher(orderProducer)
	bookingPublisher := broker.NewEventPublisher(bookingProducer)

	settingsLoader := settings.NewLoader(db, settings.Defaults{
		TaxRate:               cfg.Business.DefaultTaxRate,
		DefaultCommissionRate: cfg.Business.DefaultCommissionRate,
	})

	couponValidator := pricing.NewCouponValidator(db)
	pricer := pricing.NewEngine(couponValidator, db)

	availEngine := availability.NewEngine(db)
	guard := service.NewCapacityGuard(availEngine, redisClient,
		time.Duration(cfg.Business.HoldTTLSeconds)*time.Second)

	gateway := service.NewMockGateway(cfg.Business.GatewaySuccessRate)

	calculator := commission.NewCalculator(db)
	invoiceGenerator := commission.NewInvoiceGenerator(db, calculator)

	cartService := service.NewCartService(db, pricer, settingsLoader)
	checkoutService := service.NewCheckoutService(db, cartService, pricer, guard, gateway, orderPublisher, settingsLoader, redisClient)
	bookingService := service.NewBookingService(db, pricer, guard, gateway, bookingPublisher, settingsLoader)
	fulfiller := service.NewFulfiller(db, invoiceGenerator, bookingPublisher, settingsLoader)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.FulfillmentGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(fulfillmentConsumer, fulfiller)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil {
			log.Printf("Fulfillment worker error: %v", err)
		}
	}()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking, cfg.Kafka.NotificationGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, service.NewLogNotifier())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	scheduler := jobs.NewScheduler(db, redisClient)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(cartService, checkoutService, bookingService, availEngine, db)
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

	scheduler.Stop()
	workerCancel()
	fulfillmentWorker.Stop()
	notificationWorker.Stop()

	log.Println("Server exited")
}
