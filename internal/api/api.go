package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/barter-market/internal/config"
	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/lib/jwt"
	"github.com/IlyasAtabaev731/barter-market/internal/services/barter"
	"github.com/gorilla/mux"
)

const envProd = "prod"

type Storage interface {
	SaveUser(ctx context.Context, id, username, email string, passHash []byte, role models.Role) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	SaveItem(ctx context.Context, item models.Item) (*models.Item, error)
	Item(ctx context.Context, id string) (*models.Item, error)
	Items(ctx context.Context, category models.Category) ([]models.Item, error)
	ItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

type BarterService interface {
	Initiate(ctx context.Context, actorID, productOfferedID, productRequestedID string) (*barter.Proposal, error)
	Decide(ctx context.Context, actorID, barterID string, decision models.BarterStatus) (*models.BarterDetails, error)
	GetByID(ctx context.Context, barterID string) (*models.BarterDetails, error)
}

type APIServer struct {
	config    *config.Config
	logger    *slog.Logger
	server    *http.Server
	storage   Storage
	barters   BarterService
	jwtSecret []byte
}

func New(config *config.Config, logger *slog.Logger, storage Storage, barters BarterService, jwtSecret []byte) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 10 * time.Second,
		},
		storage:   storage,
		barters:   barters,
		jwtSecret: jwtSecret,
	}
	s.configureRouter()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.Use(s.recoverPanic, s.logRequest)

	router.HandleFunc("/", s.rootHandler()).Methods("GET")

	router.HandleFunc("/api/auth/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/api/auth/login", s.loginHandler()).Methods("POST")

	router.HandleFunc("/api/products", s.listProductsHandler()).Methods("GET")
	router.HandleFunc("/api/products", s.authenticate(s.createProductHandler())).Methods("POST")
	router.HandleFunc("/api/products/mine", s.authenticate(s.myProductsHandler())).Methods("GET")
	router.HandleFunc("/api/products/{id}", s.getProductHandler()).Methods("GET")
	router.HandleFunc("/api/products/{id}", s.authenticate(s.deleteProductHandler())).Methods("DELETE")

	router.HandleFunc("/api/barter/initiate", s.authenticate(s.initiateBarterHandler())).Methods("POST")
	router.HandleFunc("/api/barter/{barterId}", s.authenticate(s.getBarterHandler())).Methods("GET")
	router.HandleFunc("/api/barter/{barterId}/decision", s.authenticate(s.decideBarterHandler())).Methods("PATCH")

	router.NotFoundHandler = s.notFoundHandler()

	s.server.Handler = router
}

func (s *APIServer) rootHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("API is running..."))
	}
}

func (s *APIServer) notFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondMessage(w, http.StatusNotFound, "Not Found - "+r.URL.Path)
	}
}

type ctxKey int

const claimsKey ctxKey = iota

func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenHeader := r.Header.Get("Authorization")

		parts := strings.Split(tokenHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			s.respondMessage(w, http.StatusUnauthorized, "Not authorized, token missing")
			return
		}

		claims, err := jwt.ParseToken(parts[1], string(s.jwtSecret))
		if err != nil {
			s.respondMessage(w, http.StatusUnauthorized, "Not authorized, token invalid")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
		next(w, r)
	}
}

// actor returns the claims stored by authenticate.
func actor(r *http.Request) *jwt.Claims {
	claims, _ := r.Context().Value(claimsKey).(*jwt.Claims)
	if claims == nil {
		return &jwt.Claims{}
	}
	return claims
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *APIServer) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *APIServer) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic while serving request", slog.String("path", r.URL.Path), "panic", rec)
				s.respondError(w, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type messageResponse struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (s *APIServer) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *APIServer) respondMessage(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, messageResponse{Message: message})
}

// respondError writes err as {message}. Internal details are exposed in the
// stack field outside prod only.
func (s *APIServer) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := messageResponse{Message: "Server Error"}
	internal := err

	var be *barter.Error
	if errors.As(err, &be) {
		status = statusFor(be.Kind)
		resp.Message = be.Msg
		internal = be.Err
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		if s.config.Env != envProd && internal != nil {
			resp.Stack = internal.Error()
		}
	}

	s.respondJSON(w, status, resp)
}

func statusFor(kind error) int {
	switch kind {
	case barter.ErrUnauthenticated:
		return http.StatusUnauthorized
	case barter.ErrInvalidInput, barter.ErrCategoryMismatch, barter.ErrSelfBarter:
		return http.StatusBadRequest
	case barter.ErrNotFound:
		return http.StatusNotFound
	case barter.ErrForbidden:
		return http.StatusForbidden
	case barter.ErrAlreadyDecided, barter.ErrDuplicateBarter, barter.ErrItemUnavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
