package main

import (
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"ecommerce/internal/audit"
	"ecommerce/internal/bus"
	"ecommerce/internal/config"
	"ecommerce/internal/database"
	"ecommerce/internal/events"
	"ecommerce/internal/handler"
	"ecommerce/internal/mw"
	"ecommerce/internal/objectstore"
	"ecommerce/internal/service"
	"ecommerce/internal/store"
	"ecommerce/internal/worker"
	"ecommerce/internal/wsconn"
)

func main() {
	// ordersvc hash-secret <secret> prints a value for API_CLIENT_SECRET_HASH
	if len(os.Args) == 3 && os.Args[1] == "hash-secret" {
		hash, err := service.HashSecret(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg := config.New()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := database.NewDB(cfg.DatabaseURI)
	if err != nil {
		slog.Error("failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.CloseDB(context.Background(), db)

	if err := database.InitSchema(context.Background(), db); err != nil {
		slog.Error("failed to init DB schema", "error", err)
		os.Exit(1)
	}

	// Stores
	products := store.NewProductStore(db)
	orderStore := store.NewOrderStore(db)
	txStore := store.NewInvoiceTransactionStore(db)
	archive := store.NewAuditArchive(db)

	if cfg.ProductSeed != "" {
		n, err := store.SeedProducts(context.Background(), products, cfg.ProductSeed)
		if err != nil {
			slog.Error("failed to seed products", "error", err)
			os.Exit(1)
		}
		slog.Info("catalog seeded", "products", n)
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		slog.Error("invalid node id", "node_id", cfg.NodeID, "error", err)
		os.Exit(1)
	}
	eventLog := store.NewEventLog(db, node)

	// Audit
	ruleSet, err := audit.LoadRules(cfg.AuditRules)
	if err != nil {
		slog.Error("failed to load audit rules", "error", err)
		os.Exit(1)
	}
	timeouts := audit.NewDeadLetterQueue(audit.TargetInvoiceImportTimeout, cfg.DLQAlarmThreshold,
		store.NewDeadLetterStore(db, node), slog.With("component", audit.TargetInvoiceImportTimeout))
	auditRouter, err := audit.NewRouter(ruleSet.Rules, map[string]audit.Handler{
		audit.TargetOrdersErrors:         audit.CorrectiveHandler(slog.With("component", audit.TargetOrdersErrors)),
		audit.TargetInvoicesErrors:       audit.AlertHandler(slog.With("component", audit.TargetInvoicesErrors)),
		audit.TargetInvoiceImportTimeout: timeouts,
	})
	if err != nil {
		slog.Error("invalid audit rules", "error", err)
		os.Exit(1)
	}
	auditBus := audit.NewBus(auditRouter, archive, ruleSet.Archive.Source)

	// Order events
	orderEvents := bus.NewTopic("order-events")
	orderEvents.Subscribe("event-log", func(ctx context.Context, msg bus.Message) error {
		_, err := eventLog.AppendEnvelope(ctx, msg.Body)
		return err
	}, events.OrderCreated, events.OrderDeleted)
	orderEvents.Subscribe("event-trace", func(ctx context.Context, msg bus.Message) error {
		slog.InfoContext(ctx, "order event", "message_id", msg.ID, "event_type", msg.EventType)
		return nil
	})

	// Services
	hub := wsconn.NewHub(cfg.RequestTimeout)
	presigner := objectstore.NewPresigner(cfg.UploadBaseURL, cfg.UploadBucket, cfg.UploadSigningKey)

	authSvc := service.NewAuthService(cfg.APIClientID, []byte(cfg.APIClientSecretHash), cfg.JWTSecret, cfg.TokenTTL)
	orderSvc := service.NewOrderService(orderStore, products, orderEvents, auditBus)
	invoiceSvc := service.NewInvoiceService(txStore, presigner, hub, auditBus, service.InvoiceConfig{
		GrantWindow: cfg.InvoiceGrantWindow,
		URLValidity: cfg.UploadURLExpiry,
		Endpoint:    cfg.InvoiceWSEndpoint,
	})
	hub.Handle(handler.InvoiceMessageHandler(invoiceSvc, hub))

	if cfg.APIClientSecretHash == "" {
		slog.Warn("API_CLIENT_SECRET_HASH is empty, token requests will be rejected")
	}

	// Worker
	expiryWorker := worker.NewExpiryWorker(txStore, invoiceSvc, archive, cfg.SweepInterval, cfg.AuditArchiveRetention)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket clients stay connected past the request timeout
	r.Get("/invoices/ws", hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		// Public routes
		r.Post("/auth/token", handler.TokenHandler(authSvc))
		r.Put("/uploads/{bucket}/{key}", handler.UploadObjectHandler(invoiceSvc, presigner))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(mw.AuthMiddleware(cfg.JWTSecret))

			r.Get("/orders", handler.ListOrdersHandler(orderSvc))
			r.Post("/orders", handler.CreateOrderHandler(orderSvc))
			r.Delete("/orders", handler.DeleteOrderHandler(orderSvc))
			r.Get("/orders/events", handler.ListOrderEventsHandler(eventLog))

			r.Post("/invoices/uploads", handler.UploadNotificationHandler(invoiceSvc))
			r.Get("/invoices/{transactionId}/status", handler.InvoiceStatusHandler(invoiceSvc))

			r.Post("/audit/events", handler.IngestAuditHandler(auditRouter))
			r.Get("/audit/dead-letters", handler.DeadLetterStatusHandler(audit.TargetInvoiceImportTimeout, timeouts))
			r.Post("/audit/dead-letters/drain", handler.DrainDeadLettersHandler(audit.TargetInvoiceImportTimeout, timeouts))
			r.Get("/audit/archive", handler.ListArchiveHandler(archive))

			r.Handle("/debug/vars", expvar.Handler())
		})
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go expiryWorker.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop worker
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	hub.Close()

	slog.Info("server stopped")
}
