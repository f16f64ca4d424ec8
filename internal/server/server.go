package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"atomic-ledger/internal/config"
	"atomic-ledger/internal/domain"
	"atomic-ledger/internal/handler"
	"atomic-ledger/internal/logging"
	"atomic-ledger/internal/repository"
	"atomic-ledger/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	store  domain.Store
	logger *slog.Logger
	port   string
}

// New wires services and handlers over store. The server owns store and
// closes it on Stop.
func New(cfg *config.Config, store domain.Store, logger *slog.Logger) *Server {
	retry := service.DefaultRetryPolicy()
	if cfg.TransferMaxAttempts > 0 {
		retry.MaxAttempts = cfg.TransferMaxAttempts
	}

	userService := service.NewUserService(store, logger)
	accountService := service.NewAccountService(store, logger)
	transactionService := service.NewTransactionService(store, retry, logger)

	userHandler := handler.NewUserHandler(userService)
	accountHandler := handler.NewAccountHandler(accountService, transactionService)
	transactionHandler := handler.NewTransactionHandler(transactionService)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))
	router.Use(timeoutMiddleware(cfg.RequestTimeout))

	router.HandleFunc("/users", userHandler.CreateUser).Methods("POST")
	router.HandleFunc("/users/{user_id}", userHandler.GetUser).Methods("GET")

	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/transactions", accountHandler.ListTransactions).Methods("GET")
	router.HandleFunc("/accounts/{account_id}/deposit", accountHandler.Deposit).Methods("POST")
	router.HandleFunc("/accounts/{account_id}/withdraw", accountHandler.Withdraw).Methods("POST")

	router.HandleFunc("/transfers", transactionHandler.Transfer).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "store unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		store:  store,
		logger: logger,
	}
}

// OpenStore builds the ledger store selected by cfg.StoreDriver. For
// Postgres it connects, verifies the connection and applies migrations when
// auto-migrate is on.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Info("Using in-memory ledger store")
		return repository.NewMemoryStore(logger), nil
	case config.StoreDriverPostgres:
		db, err := repository.Open(ctx, cfg.GetDBConnectionString(), repository.PoolOptions{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			ConnMaxLifetime: 5 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info("Successfully connected to database", "host", cfg.DBHost, "database", cfg.DBName)

		if cfg.DBAutoMigrate {
			if err := repository.Migrate(ctx, db, logger); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}
		return repository.NewStore(db, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// timeoutMiddleware bounds every request context. Ledger operations still
// waiting for locks or the database when it expires are rolled back.
func timeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests, then closes the store.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var shutdownErr error
	if s.server != nil {
		shutdownErr = s.server.Shutdown(ctx)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close store", "error", err)
		}
	}
	return shutdownErr
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer opens the configured store and starts serving. A nil logger
// discards output.
func StartServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, string, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, "", err
	}

	server := New(cfg, store, logger)

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		store.Close()
		return nil, "", err
	}

	return server, port, nil
}
