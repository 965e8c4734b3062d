package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/lib/jwt"
	"github.com/IlyasAtabaev731/barter-market/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

type userPayload struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

func (s *APIServer) registerHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Email == "" || req.Password == "" {
			s.respondMessage(w, http.StatusBadRequest, "Username, email and password are required")
			return
		}

		passHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.respondError(w, err)
			return
		}

		id := uuid.NewString()
		err = s.storage.SaveUser(r.Context(), id, req.Username, req.Email, passHash, models.RoleUser)
		if err != nil {
			if errors.Is(err, storage.ErrUserExists) {
				s.respondMessage(w, http.StatusBadRequest, "Email already in use")
				return
			}
			s.respondError(w, err)
			return
		}

		s.logger.Info("Register new user", slog.String("user_id", id), slog.String("username", req.Username))

		s.respondMessage(w, http.StatusCreated, "User registered successfully!")
	}
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		user, err := s.storage.UserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				s.respondMessage(w, http.StatusBadRequest, "User not found")
				return
			}
			s.respondError(w, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid credentials")
			return
		}

		token, err := jwt.NewToken(user, string(s.jwtSecret), s.config.JWT.TTL)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, LoginResponse{
			Token: token,
			User: userPayload{
				ID:       user.ID,
				Username: user.Username,
				Email:    user.Email,
				Role:     user.Role,
			},
		})
	}
}
