package main

import (
	"context"
	"log"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"

	"energytiles/internal/accrual"
	"energytiles/internal/auth"
	"energytiles/internal/config"
	"energytiles/internal/db"
	"energytiles/internal/energy"
	"energytiles/internal/events"
	"energytiles/internal/http/handlers"
	appmw "energytiles/internal/http/middleware"
	"energytiles/internal/metrics"
	"energytiles/internal/mqttsub"
	ui "energytiles/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	sqlDB, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	db.StartExpiryWorker(sqlDB)
	db.StartAggregationWorker(sqlDB)

	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		log.Fatalf("failed to ensure bootstrap admin: %v", err)
	}
	if cfg.SensorAPIKey != "" {
		if err := db.EnsureBootstrapSensorKey(sqlDB, cfg); err != nil {
			log.Printf("warning: failed to ensure bootstrap sensor key: %v (create one from the admin panel)", err)
		} else {
			log.Printf("bootstrap sensor key configured")
		}
	}

	seed, err := db.LoadSeedTiles(cfg.TilesSeedPath)
	if err != nil {
		log.Fatalf("failed to load tile seed: %v", err)
	}
	if n, err := db.SeedTiles(sqlDB, seed); err != nil {
		log.Fatalf("failed to seed tiles: %v", err)
	} else if n > 0 {
		log.Printf("seeded %d energy tiles", n)
	}

	metrics.Init()

	randomSeed := cfg.RandomSeed
	if randomSeed == 0 {
		randomSeed = time.Now().UnixNano()
	}
	calc := energy.NewCalculator(energy.NewRandSource(randomSeed), time.Now)

	var pub accrual.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer kp.Close()
		pub = kp
		log.Printf("publishing energy events to kafka topic %s", cfg.KafkaTopic)
	}

	store := db.NewStore(sqlDB)
	tiles := accrual.NewService(store, calc, pub)
	accounts := auth.NewService(store, cfg)

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := tiles.LoadTiles(loadCtx); err != nil {
		log.Fatalf("failed to load tiles: %v", err)
	}
	cancel()

	if cfg.MQTTBroker != "" {
		sub := mqttsub.New(mqttsub.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
		}, tiles)
		sub.Start()
		defer sub.Stop()
		log.Printf("mqtt ingestion from %s on %s", cfg.MQTTBroker, cfg.MQTTTopic)
	}

	r := router.New()
	r.SaveMatchedRoutePath = true

	// Global middleware chain: request logger, then request metrics, then router
	handler := handlers.RequestLogger(appmw.RequestMetrics(r.Handler))

	userPage := appmw.SessionAuth(accounts, db.RoleUser, appmw.RedirectTo("/login"))
	userAPI := appmw.SessionAuth(accounts, db.RoleUser, appmw.Unauthorized)
	adminPage := appmw.SessionAuth(accounts, db.RoleAdmin, appmw.RedirectTo("/admin-login"))
	adminAPI := appmw.SessionAuth(accounts, db.RoleAdmin, appmw.Unauthorized)
	sensor := appmw.BearerAuth(store)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", metrics.Handler())

	r.ServeFS("/static/{filepath:*}", ui.StaticFS())

	r.GET("/login", handlers.Form("login.html"))
	r.POST("/login", handlers.LoginSubmit(accounts))
	r.GET("/admin-login", handlers.Form("admin_login.html"))
	r.POST("/admin-login", handlers.AdminLoginSubmit(accounts))
	r.GET("/verify-mfa", handlers.VerifyMFAForm(accounts))
	r.POST("/verify-mfa", handlers.VerifyMFASubmit(accounts))
	r.GET("/register", handlers.Form("register.html"))
	r.POST("/register", handlers.RegisterSubmit(accounts))
	r.GET("/admin-register", handlers.AdminRegisterForm(cfg))
	r.POST("/admin-register", handlers.AdminRegisterSubmit(accounts, cfg))
	r.GET("/logout", handlers.Logout(accounts, "/login"))
	r.GET("/admin-logout", handlers.Logout(accounts, "/admin-login"))

	r.GET("/", userPage(handlers.Home()))
	r.GET("/dashboard", userPage(handlers.Home()))
	r.GET("/dashboard/{username}", userPage(handlers.UserDashboard(tiles)))
	r.POST("/api/check-gps-location", userAPI(handlers.CheckGPSLocation(tiles)))
	r.GET("/api/user-info", userAPI(handlers.UserInfo()))
	r.GET("/api/events/{id}", userAPI(handlers.EventDetail(tiles)))

	r.GET("/leaderboard", handlers.Leaderboard(tiles))
	r.GET("/energy-tiles", handlers.EnergyTiles(tiles))
	r.GET("/api/get-tiles", handlers.GetTiles(tiles))

	r.POST("/api/iot-sensor", sensor(handlers.IoTSensor(tiles)))
	r.POST("/api/tile-usage/{id}", sensor(handlers.TileUsage(tiles)))

	r.GET("/admin-panel", adminPage(handlers.AdminPanel(tiles, store)))
	r.GET("/admin/events/{id}", adminAPI(handlers.EventDetail(tiles)))
	r.POST("/add-tile", adminAPI(handlers.AddTile(tiles)))
	r.POST("/remove-tile/{id}", adminAPI(handlers.RemoveTile(tiles)))
	r.GET("/api/admin/tile-stats", adminAPI(handlers.TileStats(tiles)))
	r.POST("/admin/sensor-keys/create", adminAPI(handlers.CreateSensorKey(store)))
	r.POST("/admin/sensor-keys/delete", adminAPI(handlers.DeleteSensorKey(store, cfg)))
	r.POST("/admin/sensor-keys/set-active", adminAPI(handlers.SetSensorKeyActive(store)))

	log.Printf("energytiles listening on %s", cfg.ListenAddr)
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
