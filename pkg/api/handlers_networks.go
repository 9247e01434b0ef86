package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dd0wney/roadnet/pkg/geojson"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/timequery"
)

// uploadField is the multipart field carrying the GeoJSON file.
const uploadField = "file"

// readUpload parses the multipart upload and decodes its GeoJSON file. It
// writes the error response itself and reports whether to go on.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []roadnet.Candidate, bool) {
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return "", nil, false
		}
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return "", nil, false
	}
	defer file.Close()

	// Reject a bad filename before reading the body.
	if _, _, err := geojson.ParseFilename(header.Filename); err != nil {
		s.respondServiceError(w, r, err)
		return "", nil, false
	}

	candidates, err := geojson.Decode(file)
	if err != nil {
		s.respondServiceError(w, r, err)
		return "", nil, false
	}
	return header.Filename, candidates, true
}

func (s *Server) handleUploadNetwork(w http.ResponseWriter, r *http.Request) {
	filename, candidates, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	customer := customerFrom(r)
	res, err := s.service.Upload(r.Context(), customer.ID, filename, candidates)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpdateNetwork(w http.ResponseWriter, r *http.Request) {
	filename, candidates, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	customer := customerFrom(r)
	res, err := s.service.Update(r.Context(), customer.ID, r.PathValue("name"), filename, candidates)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleGetNetwork returns the network as a GeoJSON FeatureCollection, as of
// query_time when given.
func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	var instant *time.Time
	if raw := r.URL.Query().Get("query_time"); raw != "" {
		t, err := timequery.ParseInstant(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "query_time must be an ISO 8601 timestamp")
			return
		}
		instant = &t
	}

	customer := customerFrom(r)
	view, err := s.service.Query(r.Context(), customer.ID, r.PathValue("name"), instant)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	data, err := geojson.Marshal(view.Edges.Edges)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Network-Version", view.Network.Version)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write network response",
			logging.NetworkID(view.Network.ID),
			logging.Error(err),
		)
	}
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	customer := customerFrom(r)
	name := r.PathValue("name")

	ref, err := s.service.Network(r.Context(), customer.ID, name)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	history, err := s.service.History(r.Context(), customer.ID, name)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	resp := VersionsResponse{
		ID:       ref.ID,
		Name:     ref.Name,
		Versions: make([]VersionResponse, len(history)),
	}
	for i, v := range history {
		resp.Versions[i] = VersionResponse{Version: v.Label, RegisteredAt: v.RegisteredAt}
	}
	s.respondJSON(w, http.StatusOK, resp)
}
