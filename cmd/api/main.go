package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolrecords/internal/auth"
	"schoolrecords/internal/config"
	"schoolrecords/internal/handler"
	"schoolrecords/internal/httpmiddleware"
	"schoolrecords/internal/metrics"
	"schoolrecords/internal/queue"
	"schoolrecords/internal/records"
	"schoolrecords/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	recordStore, err := store.Open(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer recordStore.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	svc := records.NewService(recordStore,
		records.WithPublisher(q),
		records.WithLocation(cfg.Location()),
		records.WithPageSizes(cfg.DefaultPageSize, cfg.MaxPageSize),
	)

	// The in-memory queue has no external consumer, so drain it here.
	if mem, ok := q.(*queue.InMemory); ok {
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go svc.ConsumeEvents(context.Background(), msgs)
	}

	faculty, err := facultyCredentials(cfg)
	if err != nil {
		return err
	}
	issuer := auth.Issuer{
		Name:       cfg.JWTIssuer,
		Key:        []byte(cfg.JWTSigningKey),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	checks := map[string]handler.HealthCheck{
		"store": func(ctx context.Context) bool { return recordStore.Ping(ctx) == nil },
	}
	if cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis" {
		checks["redis"] = redisClient.Healthy
	}
	h := handler.New(svc, issuer, faculty, int64(cfg.MaxImportUploadMB)<<20, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(metrics.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api", handler.RequestTimeout(10*time.Second))
	api.Use(httpmiddleware.GinMiddleware(newLimiter(cfg, redisClient, "api", cfg.RateLimitPerMin)))

	var guards handler.Guards
	if cfg.RequireFacultyAuth {
		guards.Write = append(guards.Write, auth.RequireRole(issuer, auth.RoleFaculty))
	}
	if cfg.RequireStudentAuth {
		guards.Read = append(guards.Read,
			auth.RequireRole(issuer, auth.RoleStudent, auth.RoleFaculty),
			auth.OwnRecordOnly("rollNo"),
		)
	}
	guards.Login = []gin.HandlerFunc{httpmiddleware.GinMiddleware(newLimiter(cfg, redisClient, "login", cfg.LoginRateLimitPerMin))}
	h.Register(api, guards)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func facultyCredentials(cfg config.App) (*auth.Credentials, error) {
	creds := auth.NewCredentials()
	switch {
	case cfg.FacultyPasswordHash != "":
		if err := creds.AddHash(cfg.FacultyUsername, cfg.FacultyPasswordHash); err != nil {
			return nil, err
		}
	case cfg.FacultyPassword != "":
		if cfg.Production() {
			log.Println("warning: FACULTY_PASSWORD is plaintext; prefer FACULTY_PASSWORD_HASH")
		}
		if err := creds.AddPassword(cfg.FacultyUsername, cfg.FacultyPassword); err != nil {
			return nil, err
		}
	default:
		log.Println("no faculty credentials configured; faculty login disabled")
	}
	return creds, nil
}

func newLimiter(cfg config.App, rdb *store.Redis, name string, perMinute int) httpmiddleware.Limiter {
	if cfg.RateLimitBackend == "redis" {
		return httpmiddleware.NewRedisWindow(rdb.Client, "school:ratelimit:"+name, perMinute)
	}
	return httpmiddleware.NewSimpleTokenBucket(perMinute, perMinute)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
