package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/export"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/ledger"
	"classtrack/internal/logger"
	"classtrack/internal/remote"
	"classtrack/internal/scheduler"
	"classtrack/internal/syncer"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.WithError(err).Fatal("http server failed")
	}
}

func runHTTP(cfg config.App, log *logrus.Logger) error {
	channel := remote.NewChannel(cfg.RedisAddr)
	store, err := remote.NewPostgres(cfg.DatabaseURL, channel, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(context.Background()); err != nil {
		return err
	}

	manager := syncer.NewManager(func() (*syncer.Coordinator, error) {
		return syncer.New(syncer.Options{
			Remote:       store,
			Log:          log,
			WriteTimeout: cfg.RemoteWriteTimeout,
		})
	})

	// Delivery transport for reminders is pluggable; the default just
	// logs. See internal/scheduler.
	notify := func(userID string, sub ledger.Subject, slot ledger.LectureSlot) {
		log.WithFields(logrus.Fields{
			"user":    userID,
			"subject": sub.Name,
			"at":      slot.StartTime,
		}).Info("lecture reminder")
	}
	sched := scheduler.New(manager, notify, log, cfg.ReminderCronSpec, cfg.AutoMarkCronSpec)
	sched.Start()
	defer sched.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Gin())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := store.Healthy(c.Request.Context())
		redisHealthy := channel.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	// Sessions are keyed by a caller-supplied stable user id; identity
	// federation happens upstream of this service.
	r.POST("/v1/sessions", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := manager.ForUser(c.Request.Context(), req.UserID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.UserID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.Middleware(cfg.JWTSigningKey, cfg.JWTIssuer))

	session := func(c *gin.Context) (*syncer.Coordinator, bool) {
		coord, err := manager.ForUser(c.Request.Context(), auth.UserID(c))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return nil, false
		}
		return coord, true
	}

	v1.GET("/subjects", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"subjects": coord.Subjects()})
	})

	v1.POST("/subjects", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		var req struct {
			Name          string  `json:"name" binding:"required"`
			Days          []int   `json:"days"`
			TargetPercent float64 `json:"target_percent"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		days, err := weekdays(req.Days)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sub, err := coord.AddSubject(req.Name, days, req.TargetPercent)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sub)
	})

	v1.DELETE("/subjects/:id", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		if err := coord.DeleteSubject(c.Param("id")); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/subjects/:id/slots", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		var req struct {
			Day         int    `json:"day"`
			StartTime   string `json:"start_time" binding:"required"`
			DurationMin int    `json:"duration_min"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		days, err := weekdays([]int{req.Day})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slot, err := coord.AddSlot(c.Param("id"), days[0], req.StartTime, req.DurationMin)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, slot)
	})

	v1.POST("/attendance", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		var req struct {
			SubjectID     string  `json:"subject_id" binding:"required"`
			SlotID        *string `json:"slot_id"`
			Date          string  `json:"date" binding:"required"`
			Status        string  `json:"status" binding:"required"`
			HoursLogged   int     `json:"hours_logged"`
			DutyRequested bool    `json:"duty_requested"`
			DutyApproved  bool    `json:"duty_approved"`
			DutyReason    *string `json:"duty_reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := coord.MarkAttendance(ledger.UpsertParams{
			SubjectID:     req.SubjectID,
			SlotID:        req.SlotID,
			Date:          req.Date,
			Status:        ledger.Status(req.Status),
			HoursLogged:   req.HoursLogged,
			DutyRequested: req.DutyRequested,
			DutyApproved:  req.DutyApproved,
			DutyReason:    req.DutyReason,
		})
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, rec)
	})

	v1.GET("/subjects/:id/stats", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		stats, err := coord.StatsFor(c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	v1.GET("/subjects/:id/advice", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		advice, err := coord.AdviceFor(c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, advice)
	})

	v1.GET("/timetable", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		date := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse(ledger.DateLayout, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		c.JSON(http.StatusOK, gin.H{
			"date":  date.Format(ledger.DateLayout),
			"slots": coord.SlotsForDate(date),
		})
	})

	v1.GET("/report", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"subjects": coord.Report()})
	})

	v1.GET("/settings", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, coord.Settings())
	})

	v1.PUT("/settings", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		var settings ledger.Settings
		if err := c.ShouldBindJSON(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := coord.UpdateSettings(settings); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, coord.Settings())
	})

	v1.GET("/export", func(c *gin.Context) {
		coord, ok := session(c)
		if !ok {
			return
		}
		snap := coord.Snapshot()
		switch c.DefaultQuery("format", "json") {
		case "csv":
			data, err := export.CSV(snap)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
			c.Data(http.StatusOK, "text/csv", data)
		case "json":
			data, err := export.JSON(snap)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header("Content-Disposition", `attachment; filename="attendance.json"`)
			c.Data(http.StatusOK, "application/json", data)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv"})
		}
	})

	// Accepts an exported guest ledger and pushes it into the account.
	// The caller's cached session is dropped afterwards so the next
	// request pulls the merged state.
	v1.POST("/migrate", func(c *gin.Context) {
		userID := auth.UserID(c)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		snap, err := export.FromJSON(body)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		guest, err := syncer.New(syncer.Options{
			Remote:       store,
			Log:          log,
			WriteTimeout: cfg.RemoteWriteTimeout,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := guest.ImportSnapshot(snap); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := guest.Migrate(c.Request.Context(), userID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		guest.SignOut()
		manager.Drop(userID)
		c.JSON(http.StatusOK, gin.H{"migrated": true})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced shutdown")
	}
	log.Info("server exited")
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncer.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, syncer.ErrMigrationPartial):
		return http.StatusBadGateway
	case errors.Is(err, remote.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func weekdays(days []int) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, errors.New("days must be 0 (Sunday) through 6 (Saturday)")
		}
		out = append(out, time.Weekday(d))
	}
	return out, nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
