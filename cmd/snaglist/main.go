package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/snaglist/internal/access"
	"github.com/dukerupert/snaglist/internal/audit"
	"github.com/dukerupert/snaglist/internal/auth"
	"github.com/dukerupert/snaglist/internal/backup"
	"github.com/dukerupert/snaglist/internal/config"
	"github.com/dukerupert/snaglist/internal/database"
	"github.com/dukerupert/snaglist/internal/dispatch"
	"github.com/dukerupert/snaglist/internal/email"
	"github.com/dukerupert/snaglist/internal/handler"
	"github.com/dukerupert/snaglist/internal/logging"
	"github.com/dukerupert/snaglist/internal/middleware"
	"github.com/dukerupert/snaglist/internal/model"
	"github.com/dukerupert/snaglist/internal/push"
	"github.com/dukerupert/snaglist/internal/ratelimit"
	"github.com/dukerupert/snaglist/internal/secure"
	"github.com/dukerupert/snaglist/internal/server"
	"github.com/dukerupert/snaglist/internal/store"
	ws "github.com/dukerupert/snaglist/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $SNAGLIST_CONFIG)")
	issueFor := flag.String("issue-token", "", "print an owner API token for this owner id and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	backupNow := flag.Bool("backup-now", false, "take one encrypted database snapshot and exit")
	listBackups := flag.Bool("list-backups", false, "list recent snapshots and exit")
	restoreID := flag.String("restore", "", "restore the snapshot with this id into -restore-to and exit")
	restoreTo := flag.String("restore-to", "snaglist-restored.db", "target path for -restore")
	genVAPID := flag.Bool("generate-vapid-keys", false, "print a new VAPID key pair for web push and exit")
	flag.Parse()

	if *genVAPID {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate VAPID keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("SNAGLIST_VAPID_PUBLIC_KEY=%s\nSNAGLIST_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	verifier := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	if *issueFor != "" {
		token, err := verifier.Issue(*issueFor, *tokenTTL)
		if err != nil {
			slog.Error("issue owner token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		},
		Passphrase: cfg.Backup.Passphrase,
		Interval:   cfg.Backup.Interval,
		Retention:  cfg.Backup.Retention,
	}, db, store.NewBackupStore(db), logger.With("component", "backup"))

	if *backupNow || *listBackups || *restoreID != "" {
		if err := runBackupCommand(backups, *backupNow, *listBackups, *restoreID, *restoreTo); err != nil {
			slog.Error("backup command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	limiterStore, closeLimiter, err := newLimiterStore(cfg, store.NewRateLimitStore(db))
	if err != nil {
		slog.Error("failed to set up rate limiter", "error", err)
		os.Exit(1)
	}
	defer closeLimiter()
	limiter := ratelimit.NewLimiter(limiterStore, limiterPolicies(cfg.RateLimit)...)

	queue := dispatch.New(cfg.Audit.QueueSize, cfg.Audit.Workers, logger.With("component", "dispatch"))
	auditStore := store.NewAuditStore(db)
	recorder := audit.NewRecorder(auditStore, queue, logger.With("component", "audit"))
	hub := ws.NewHub(logger.With("component", "websocket"))

	hasher, err := secure.HasherFor(cfg.PIN.Hasher)
	if err != nil {
		slog.Error("invalid pin hasher", "error", err)
		os.Exit(1)
	}

	opts := []access.Option{
		access.WithConfig(access.Config{
			MaxPINAttempts: cfg.PIN.MaxAttempts,
			Lockout:        cfg.PIN.Lockout,
			DefaultTTL:     cfg.Links.DefaultTTL,
			MaxTTL:         cfg.Links.MaxTTL,
			Hasher:         hasher,
		}),
		access.WithAuditor(recorder),
		access.WithAuditReader(auditStore),
		access.WithPublisher(hub),
		access.WithLogger(logger.With("component", "access")),
	}
	emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From, cfg.Links.BaseURL)
	if emailClient.Configured() {
		opts = append(opts, access.WithNotifier(emailClient, queue))
	} else {
		slog.Info("email not configured, contractor links will not be mailed")
	}

	serverOpts := []server.Option{server.WithBackups(backups)}
	pushCfg := push.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		Subscriber:      cfg.Push.Subscriber,
	}
	if pushCfg.Enabled() {
		pushSvc := push.NewService(pushCfg, nil)
		pushStore := store.NewPushStore(db)
		opts = append(opts, access.WithPublisher(push.NewNotifier(pushSvc, pushStore, queue, cfg.Links.BaseURL, logger)))
		serverOpts = append(serverOpts, server.WithPush(handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push"))))
	} else {
		slog.Info("web push not configured, lockout alerts go to the live feed only")
	}

	svc := access.NewService(store.NewAccessLinkStore(db), opts...)

	trusted, err := middleware.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		slog.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}

	srv := server.New(svc, limiter, verifier, hub, recorder, server.Config{
		BaseURL:        cfg.Links.BaseURL,
		OriginPatterns: cfg.HTTP.OriginPatterns,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		TrustedProxies: trusted,
	}, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	// Background counter cleanup and snapshots
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()
	sweeper := ratelimit.NewSweeper(limiter, cfg.RateLimit.SweepInterval, logger.With("component", "sweeper"))
	sweeper.Start(sweeperCtx)
	backups.Start(sweeperCtx)

	go func() {
		slog.Info("snaglist starting", "addr", cfg.HTTP.Addr, "rate_limit_backend", cfg.RateLimit.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	sweeper.Stop()
	backups.Stop()
	if err := queue.Close(ctx); err != nil {
		slog.Error("dispatch queue did not drain", "error", err, "dropped", queue.Dropped())
	}
}

func runBackupCommand(m *backup.Manager, now, list bool, restoreID, restoreTo string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case now:
		b, err := m.RunNow(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%d bytes\n", b.ID, b.ObjectKey, b.SizeBytes)
	case list:
		backups, err := m.List(ctx, 50)
		if err != nil {
			return err
		}
		for _, b := range backups {
			fmt.Printf("%s\t%s\t%s\t%d bytes\n", b.ID, b.CreatedAt.Format(time.RFC3339), b.Status, b.SizeBytes)
		}
	default:
		if err := m.Restore(ctx, restoreID, restoreTo); err != nil {
			return err
		}
		fmt.Printf("restored %s to %s; stop the server and move it over the live database to apply\n", restoreID, restoreTo)
	}
	return nil
}

// newLimiterStore returns the configured counter backend and its closer.
func newLimiterStore(cfg *config.Config, sqliteStore *store.RateLimitStore) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		return sqliteStore, func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RateLimit.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return ratelimit.NewRedisStore(client, "snaglist:rl"), func() { client.Close() }, nil
}

func limiterPolicies(rc config.RateLimitConfig) []ratelimit.Option {
	defaults := ratelimit.DefaultPolicies()
	var opts []ratelimit.Option
	for action, lc := range map[model.Action]config.LimitConfig{
		model.ActionTokenLookup: rc.TokenLookup,
		model.ActionPINAttempt:  rc.PINAttempt,
		model.ActionAPICall:     rc.APICall,
	} {
		p := defaults[action]
		if lc.Limit > 0 {
			p.Limit = lc.Limit
		}
		if lc.Window > 0 {
			p.Window = lc.Window
		}
		opts = append(opts, ratelimit.WithPolicy(action, p))
	}
	return opts
}
