package api

import (
	"encoding/json"
	"net/http"

	"github.com/IlyasAtabaev731/barter-market/internal/domain/models"
	"github.com/gorilla/mux"
)

type InitiateBarterRequest struct {
	ProductOfferedID   string `json:"productOfferedId"`
	ProductRequestedID string `json:"productIdToBarterFor"`
}

type InitiateBarterResponse struct {
	Message        string `json:"message"`
	OtherUserEmail string `json:"otherUserEmail"`
}

type DecideBarterRequest struct {
	Decision string `json:"decision"`
}

type DecideBarterResponse struct {
	Message string                `json:"message"`
	Barter  *models.BarterDetails `json:"barter"`
}

func (s *APIServer) initiateBarterHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitiateBarterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		proposal, err := s.barters.Initiate(r.Context(), actor(r).UserID, req.ProductOfferedID, req.ProductRequestedID)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, InitiateBarterResponse{
			Message:        "Barter initiated successfully. Contact the other user.",
			OtherUserEmail: proposal.Counterparty.Email,
		})
	}
}

func (s *APIServer) decideBarterHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DecideBarterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondMessage(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		decision := models.BarterStatus(req.Decision)
		details, err := s.barters.Decide(r.Context(), actor(r).UserID, mux.Vars(r)["barterId"], decision)
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, DecideBarterResponse{
			Message: "Barter " + string(decision) + ".",
			Barter:  details,
		})
	}
}

func (s *APIServer) getBarterHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := s.barters.GetByID(r.Context(), mux.Vars(r)["barterId"])
		if err != nil {
			s.respondError(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, details)
	}
}
