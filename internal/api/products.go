package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/IlyasAtabaev731/barter-market/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type CreateProductRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Images      []string `json:"images"`
}

func (s *APIServer) listProductsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var category models.Category
		if raw := r.URL.Query().Get("category"); raw != "" {
			c, ok := models.ParseCategory(raw)
			if !ok {
				s.respondJSON(w, http.StatusOK, []models.Item{})
				return
			}
			category = c
		}

		items, err := s.storage.Items(r.Context(), category)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, items)
	}
}

func (s *APIServer) myProductsHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.storage.ItemsByOwner(r.Context(), actor(r).UserID)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, items)
	}
}

func (s *APIServer) getProductHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := s.storage.Item(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			if errors.Is(err, storage.ErrItemNotFound) {
				s.respondMessage(w, http.StatusNotFound, "Product Not Found")
				return
			}
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, item)
	}
}

func (s *APIServer) createProductHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			s.respondMessage(w, http.StatusBadRequest, "Title is required")
			return
		}

		category := models.CategoryOther
		if req.Category != "" {
			c, ok := models.ParseCategory(req.Category)
			if !ok {
				s.respondMessage(w, http.StatusBadRequest, "Invalid category")
				return
			}
			category = c
		}

		images := req.Images
		if images == nil {
			images = []string{}
		}

		item, err := s.storage.SaveItem(r.Context(), models.Item{
			ID:          uuid.NewString(),
			Title:       title,
			Description: strings.TrimSpace(req.Description),
			Category:    category,
			Images:      images,
			OwnerID:     actor(r).UserID,
			IsAvailable: true,
		})
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.logger.Info("Product created", slog.String("item_id", item.ID), slog.String("owner_id", item.OwnerID))

		s.respondJSON(w, http.StatusCreated, item)
	}
}

func (s *APIServer) deleteProductHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := actor(r)

		item, err := s.storage.Item(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			if errors.Is(err, storage.ErrItemNotFound) {
				s.respondMessage(w, http.StatusNotFound, "Product not found")
				return
			}
			s.respondError(w, err)
			return
		}

		if item.OwnerID != claims.UserID && claims.Role != models.RoleAdmin {
			s.respondMessage(w, http.StatusForbidden, "You can only delete your own products")
			return
		}

		if err := s.storage.DeleteItem(r.Context(), item.ID); err != nil {
			if errors.Is(err, storage.ErrItemNotFound) {
				s.respondMessage(w, http.StatusNotFound, "Product not found")
				return
			}
			s.respondError(w, err)
			return
		}

		s.logger.Info("Product deleted", slog.String("item_id", item.ID), slog.String("by", claims.UserID))

		s.respondMessage(w, http.StatusOK, "Product deleted successfully")
	}
}
