package bonda

import "encoding/json"

// AffiliateRequest is the affiliate payload. Code is the only field the
// vendor requires; the rest depends on the microsite configuration.
type AffiliateRequest struct {
	Code      string `json:"code,omitempty"`
	Email     string `json:"email,omitempty"`
	Nombre    string `json:"nombre,omitempty"`
	Telefono  string `json:"telefono,omitempty"`
	Provincia string `json:"provincia,omitempty"`
	Localidad string `json:"localidad,omitempty"`
}

type APIError struct {
	Code   string              `json:"code"`
	Detail map[string][]string `json:"detail,omitempty"`
}

type AffiliateData struct {
	Code  string `json:"code"`
	Email string `json:"email,omitempty"`
}

type AffiliateResponse struct {
	Success bool           `json:"success"`
	Data    *AffiliateData `json:"data,omitempty"`
	Error   *APIError      `json:"error,omitempty"`

	StatusCode int             `json:"-"`
	Raw        json.RawMessage `json:"-"`
}

// Created reports whether the vendor accepted the affiliate and returned its code.
func (r *AffiliateResponse) Created() bool {
	return r != nil && r.Success && r.Data != nil && r.Data.Code != ""
}

type DeleteResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Deleted int `json:"deleted"`
	} `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`

	StatusCode int `json:"-"`
}

// Microsite identifies the storefront a call is scoped to. An empty APIKey
// falls back to the client's key.
type Microsite struct {
	ID     string
	APIKey string
}
