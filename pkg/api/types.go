package api

import "time"

// API Request/Response Types

// CustomerRequest is the body of POST /api/customers
type CustomerRequest struct {
	Name string `json:"name"`
}

// CustomerResponse is returned once, when a customer is created. It is the
// only response carrying the API key.
type CustomerResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionResponse is one entry of a network's history
type VersionResponse struct {
	Version      string    `json:"version"`
	RegisteredAt time.Time `json:"registered_at"`
}

// VersionsResponse lists a network's versions, oldest first
type VersionsResponse struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Versions []VersionResponse `json:"versions"`
}

// VersionInfoResponse is returned by GET /version
type VersionInfoResponse struct {
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
