package api

import (
	"net/http"
)

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if s.NewRequestDecoder(w, r).DecodeJSON(&req).ValidateCustomer(&req).RespondError() {
		return
	}

	created, err := s.service.CreateCustomer(r.Context(), req.Name)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, CustomerResponse{
		ID:        created.Customer.ID,
		Name:      created.Customer.Name,
		APIKey:    created.APIKey,
		CreatedAt: created.Customer.CreatedAt,
	})
}
