package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	_ "net/http/pprof" // Для профилирования памяти
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"possales/server/internal/api"
	"possales/server/internal/config"
	"possales/server/internal/database"
	"possales/server/internal/forecast"
	"possales/server/internal/models"
	"possales/server/internal/services"
	"possales/server/internal/utils"
)

func main() {
	// Загружаем переменные окружения из .env файла (если существует)
	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		log.Printf("✅ Переменные окружения загружены из .env файла")
	}

	cfg := config.Load()

	// Логируем DATABASE_URL без пароля
	safeURL := cfg.DatabaseURL
	if idx := strings.Index(safeURL, "@"); idx > 0 {
		if schemeIdx := strings.Index(safeURL, "://"); schemeIdx > 0 {
			safeURL = safeURL[:schemeIdx+3] + "***@" + safeURL[idx+1:]
		}
	}
	log.Printf("📋 DATABASE_URL: %s", safeURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Подключение к PostgreSQL
	db, err := database.ConnectPostgres(cfg.DatabaseURL, cfg.Environment == "development")
	if err != nil {
		log.Printf("❌ PostgreSQL connection failed: %v", err)
		log.Printf("⚠️ Продолжаем без БД (ограниченная функциональность)")
		db = nil
	} else {
		defer database.ClosePostgres(db)
		if err := models.AutoMigrate(db); err != nil {
			log.Printf("❌ Migration failed: %v", err)
			log.Printf("⚠️ Continuing with limited functionality")
		} else {
			log.Println("✅ Database migrations completed")
		}
	}

	// Подключение к Redis (с поддержкой Sentinel)
	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName)
	var redisUtil *utils.RedisClient
	if err != nil {
		log.Printf("⚠️ Redis connection failed: %v (прогнозы без кэша)", err)
		redisClient = nil
	} else {
		redisUtil = utils.NewRedisClient(redisClient, "possales:forecast:")
	}
	defer database.CloseRedis(redisClient)

	// Сервисы журнала продаж и склада
	var salesService *services.SalesService
	var inventoryService *services.InventoryService
	var reportService *services.ReportService
	var importer *services.SalesImporter
	if db != nil {
		salesService = services.NewSalesService(db)
		inventoryService = services.NewInventoryService(db)
		reportService = services.NewReportService(db, salesService)
		importer = services.NewSalesImporter(db, salesService)
		log.Println("✅ Sales, Inventory и Report сервисы инициализированы")
	} else {
		log.Println("⚠️ Sales/Inventory services not started: PostgreSQL not available")
	}

	// Реестр моделей и прогнозирование
	var registry *services.ModelRegistry
	var forecastService *services.ForecastService
	modelReady := false
	if db != nil {
		artifacts, err := forecast.NewArtifactStore(cfg.Forecast.ModelsDir)
		if err != nil {
			log.Printf("❌ Каталог моделей %s недоступен: %v", cfg.Forecast.ModelsDir, err)
		} else {
			registry = services.NewModelRegistry(db, artifacts)
			forecastService = services.NewForecastService(salesService, inventoryService, registry, cfg.Forecast)
			if redisUtil != nil {
				ttl := time.Duration(cfg.Forecast.CacheTTLSeconds) * time.Second
				forecastService.SetCache(services.NewRedisForecastCache(redisUtil, ttl))
				log.Printf("✅ Кэш прогнозов в Redis (TTL %v)", ttl)
			}
			if handle, _, err := registry.LoadLatest(nil); err == nil && handle != nil {
				modelReady = true
			}
			log.Printf("✅ Forecast service initialized (модель загружена: %v, демо: %v)", modelReady, cfg.Forecast.EnableDemo)
		}
	} else {
		log.Println("⚠️ Forecast service not started: PostgreSQL not available")
	}

	// gRPC health: SERVING для сервиса прогноза после появления модели
	health := api.NewForecastHealth(modelReady)
	go func() {
		if err := health.Serve(cfg.GRPCPort); err != nil {
			log.Printf("⚠️ gRPC health server stopped: %v", err)
		}
	}()
	defer health.Stop()

	// Подписчики на события обучения
	go api.ForecastHub.Run(ctx)
	var kafkaPublisher *api.KafkaRunPublisher
	if forecastService != nil {
		forecastService.AddPublisher(api.ForecastHub)
		forecastService.AddPublisher(health)
		kafkaPublisher = api.NewKafkaRunPublisher(cfg.KafkaBrokers, cfg.KafkaForecastTopic, cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		if kafkaPublisher != nil {
			forecastService.AddPublisher(kafkaPublisher)
		} else {
			log.Println("ℹ️ KAFKA_BROKERS не задан: события обучения в Kafka не публикуются")
		}
	}
	defer kafkaPublisher.Close()

	// Продажи с касс через Kafka
	if salesService != nil && cfg.KafkaBrokers != "" {
		consumer := api.NewKafkaSalesConsumer(cfg.KafkaBrokers, cfg.KafkaSalesTopic, salesService, cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert)
		consumer.Start()
		defer consumer.Stop()
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.RequestLogger())
	r.Use(api.CORS())

	apiGroup := r.Group("/api/v1")
	apiGroup.GET("/health", func(c *gin.Context) {
		status, _ := health.Check(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"database":     db != nil,
			"redis":        redisClient != nil,
			"forecast":     status.String(),
			"ws_clients":   api.ForecastHub.GetClientsCount(),
			"server_time":  time.Now().UTC().Format(time.RFC3339),
			"demo_enabled": cfg.Forecast.EnableDemo,
		})
	})

	admin := api.AdminToken(cfg.AdminToken)
	if cfg.AdminToken == "" {
		log.Println("⚠️ ADMIN_TOKEN не задан: retrain и cleanup доступны без авторизации")
	}

	if forecastService != nil {
		forecastController := api.NewForecastController(forecastService, registry, salesService, reportService)
		forecastController.RegisterRoutes(apiGroup.Group("/sales-forecast"), admin)
		log.Println("📈 Sales forecast endpoints enabled: /api/v1/sales-forecast")
		log.Println("   - GET    /api/v1/sales-forecast/forecast")
		log.Println("   - POST   /api/v1/sales-forecast/retrain")
		log.Println("   - GET    /api/v1/sales-forecast/runs")
		log.Println("   - POST   /api/v1/sales-forecast/cleanup")
		log.Println("   - GET    /api/v1/sales-forecast/export/dashboard")
	} else {
		log.Println("⚠️ Sales forecast endpoints NOT enabled: forecastService == nil")
	}

	if salesService != nil {
		api.NewSalesController(salesService, importer).RegisterRoutes(apiGroup.Group("/sales"))
		api.NewInventoryController(inventoryService, reportService).RegisterRoutes(apiGroup.Group("/inventory"))
		log.Println("🧾 Sales endpoints enabled: /api/v1/sales, /api/v1/inventory")
	} else {
		log.Println("⚠️ Sales endpoints not enabled: PostgreSQL not available")
	}

	// WebSocket для дашборда прогнозов
	apiGroup.GET("/ws/forecast", api.ServeForecastWS(api.ForecastHub))

	// pprof на localhost
	go func() {
		pprofPort := "6060"
		log.Printf("🔍 pprof доступен на http://localhost:%s/debug/pprof/", pprofPort)
		if err := http.ListenAndServe("localhost:"+pprofPort, nil); err != nil {
			log.Printf("⚠️ pprof server failed to start: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMemoryStats()
			}
		}
	}()

	port := cfg.ServerPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: "0.0.0.0:" + port, Handler: r}
	go func() {
		log.Printf("🚀 Server starting on port %s", port)
		log.Printf("📡 API доступен на http://0.0.0.0:%s/api/v1", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Остановка сервера...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Ошибка остановки HTTP сервера: %v", err)
	}
}

// logMemoryStats логирует текущую статистику использования памяти
func logMemoryStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	heapAllocMB := float64(m.HeapAlloc) / 1024 / 1024
	numGoroutines := runtime.NumGoroutine()
	log.Printf("💾 Memory Stats: HeapAlloc=%.2f MB, Sys=%.2f MB, GC=%d, Goroutines=%d",
		heapAllocMB, float64(m.Sys)/1024/1024, m.NumGC, numGoroutines)

	// Обучение модели держит всю историю в памяти
	if heapAllocMB > 500 {
		log.Printf("⚠️ WARNING: High memory usage detected: %.2f MB", heapAllocMB)
	}
}
