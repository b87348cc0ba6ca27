package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/audit"
	"checkin/internal/auth"
	"checkin/internal/config"
	"checkin/internal/githubstore"
	"checkin/internal/httpmiddleware"
	"checkin/internal/ledger"
	"checkin/internal/metrics"
	"checkin/internal/payload"
	"checkin/internal/qrdecode"
	"checkin/internal/queue"
	"checkin/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, scan audit disabled: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:scans")
	}

	if cfg.GitHubRepo == "" {
		log.Println("warning: GITHUB_REPO not set; the ledger store will reject every call")
	}
	ghStore := githubstore.New(cfg.GitHubAPIURL, cfg.GitHubToken, cfg.GitHubRepo, cfg.GitHubPath, cfg.GitHubBranch, cfg.StoreTimeout)

	schema := ledger.BaseColumns()
	if cfg.ContactColumns {
		schema = ledger.ContactColumns()
	}
	eng := ledger.NewEngine(ghStore, ledger.Options{
		Schema:          schema,
		AllowPositional: cfg.AllowPositional,
		MaxAttempts:     cfg.CommitRetries,
		Conditional:     true, // contents API PUT checks the blob SHA
		OnConflict:      metrics.CommitConflicts.Inc,
	})

	decoder := qrdecode.New(cfg.DecodeURL, cfg.DecodeSkip)
	if cfg.DecodeSkip {
		log.Println("decode service skipped (DECODE_SKIP=true); image scans return a canned payload")
	}

	var auditRepo *audit.Repository
	if db != nil {
		auditRepo = audit.NewRepository(db.Client)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		redisHealthy := redisClient.Healthy(ctx)
		storeHealthy := ghStore.Healthy(ctx)
		status := http.StatusOK
		if !redisHealthy || !storeHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "store": storeHealthy, "db": db != nil})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if auditRepo != nil {
			if err := auditRepo.UpsertDevice(c.Request.Context(), req.DeviceID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
				return
			}
		}

		token, exp, err := auth.Issue(req.DeviceID, "operator", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token,
			"expires_at":   exp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	// A scan arrives either as an image to decode or as already-decoded
	// text, depending on whether the capture path could read the code
	// client-side.
	authGroup.POST("/scans", func(c *gin.Context) {
		text, ok := scanText(c, decoder)
		if !ok {
			return
		}

		out := eng.Submit(c.Request.Context(), text)
		metrics.ScansTotal.WithLabelValues(out.Kind.String()).Inc()
		recordAttempt(c, auditRepo, text, out, cfg.AllowPositional)

		switch out.Kind {
		case ledger.Accepted:
			if err := q.Publish(c.Request.Context(), queue.Message{
				Name:     out.Row.Name,
				IDNumber: out.Row.IDNumber,
				PassType: out.Row.PassType,
				At:       out.Row.Timestamp,
			}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
			c.JSON(http.StatusCreated, gin.H{
				"status":  "accepted",
				"message": out.Message,
				"row": gin.H{
					"name":      out.Row.Name,
					"id_type":   out.Row.IDType,
					"id_number": out.Row.IDNumber,
					"pass_type": out.Row.PassType,
					"timestamp": out.Row.Timestamp,
				},
			})
		case ledger.RejectedDuplicate:
			c.JSON(http.StatusOK, gin.H{"status": "duplicate", "message": out.Message})
		case ledger.RejectedMalformed:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "invalid", "message": out.Message})
		default:
			log.Printf("scan submit failed: %v", out.Err)
			status := http.StatusBadGateway
			if errors.Is(out.Err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			c.JSON(status, gin.H{"status": "failed", "message": out.Message})
		}
	})

	authGroup.GET("/report", func(c *gin.Context) {
		if cached, err := redisClient.GetReport(c.Request.Context()); err == nil && cached != nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}

		l, _, err := ghStore.Fetch(c.Request.Context())
		if errors.Is(err, ledger.ErrNotFound) {
			l = ledger.New(schema)
		} else if err != nil {
			log.Printf("report fetch failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "ledger unavailable"})
			return
		}
		c.JSON(http.StatusOK, ledger.Report(l, cfg.PassTypes))
	})

	authGroup.GET("/attempts", func(c *gin.Context) {
		if auditRepo == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		attempts, err := auditRepo.ListAttempts(c.Request.Context(), c.Query("device_id"), c.Query("outcome"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": attempts})
	})

	r.StaticFile("/", "web/index.html")
	r.Static("/static", "web/static")

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// scanText extracts the decoded QR text from the request: a multipart
// image goes through the decode service, a JSON body carries text as-is.
// On failure it writes the error response and returns ok=false.
func scanText(c *gin.Context, decoder *qrdecode.Client) (string, bool) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return "", false
		}
		defer file.Close()
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return "", false
		}
		text, derr := decoder.Decode(c.Request.Context(), data)
		if errors.Is(derr, qrdecode.ErrNoCode) {
			metrics.DecodeFailures.Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{"status": "invalid", "message": derr.Error()})
			return "", false
		}
		if derr != nil {
			log.Printf("decode failed: %v", derr)
			c.JSON(http.StatusBadGateway, gin.H{"status": "failed", "message": "decode service unavailable"})
			return "", false
		}
		return text, true
	}

	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if berr := c.ShouldBindJSON(&body); berr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide an image file or {\"text\": \"<decoded payload>\"}"})
		return "", false
	}
	return body.Text, true
}

// recordAttempt writes the audit row; audit is best-effort and never
// blocks the scan response.
func recordAttempt(c *gin.Context, repo *audit.Repository, raw string, out ledger.Outcome, allowPositional bool) {
	if repo == nil {
		return
	}
	deviceID := ""
	if claimsAny, ok := c.Get("claims"); ok {
		if claims, ok := claimsAny.(auth.Claims); ok {
			deviceID = claims.Subject
		}
	}
	a := audit.Attempt{
		DeviceID: deviceID,
		Outcome:  out.Kind.String(),
		Reason:   out.Message,
	}
	if out.Kind == ledger.Accepted {
		a.Name, a.IDNumber, a.PassType = out.Row.Name, out.Row.IDNumber, out.Row.PassType
	} else if rec, err := payload.Parse(raw, payload.Options{AllowPositional: allowPositional}); err == nil {
		a.Name, a.IDNumber, a.PassType = rec.Name, rec.IDNumber, rec.PassType
	}
	if err := repo.Record(c.Request.Context(), a); err != nil {
		log.Printf("audit record failed: %v", err)
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
