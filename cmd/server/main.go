package main

import (
	"log"
	"time"

	"clinic-backend/internal/config"
	httpctl "clinic-backend/internal/controllers/http"
	mmysql "clinic-backend/internal/infra/mysql"
	"clinic-backend/internal/infra/payments"
	"clinic-backend/internal/infra/rabbitmq"
	"clinic-backend/internal/infra/storage"
	"clinic-backend/internal/middleware"
	"clinic-backend/internal/ratelimit"
	mysqlrepo "clinic-backend/internal/repository/mysql"
	"clinic-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	db, err := mmysql.NewMySQLFromEnv()
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}

	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(200)
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DB:           0,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.Exchange)
	if err != nil {
		logger.Fatal("rabbitmq connect failed", zap.Error(err))
	}
	defer publisher.Close()

	gateway := payments.NewClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKey, 10*time.Second)
	store := storage.NewHTTPStore(cfg.StorageBaseURL, cfg.StoragePubURL, 10*time.Second)
	otpLimiter := ratelimit.NewRedisLimiter(redisClient, cfg.OTPSendLimit, time.Hour)

	products := mysqlrepo.NewProductRepository(db)
	orders := mysqlrepo.NewOrderRepository(db)
	assignments := mysqlrepo.NewAssignmentRepository(db)
	paymentRepo := mysqlrepo.NewPaymentRepository(db)

	checkout := services.NewCheckoutService(products, orders, paymentRepo, publisher, logger)
	checkout.SetRedisClient(redisClient)
	completion := services.NewCompletionService(assignments, publisher, store, otpLimiter, logger)
	lifecycle := services.NewLifecycleService(orders, products, gateway, publisher, logger)
	payment := services.NewPaymentService(paymentRepo, gateway, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware())

	h := httpctl.NewHandler(checkout, completion, lifecycle, payment,
		orders, assignments, []byte(cfg.JWTSecret), logger)
	h.RegisterRoutes(r)

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
