package envelope

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Write writes v as JSON with status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteData writes a single record or a null.
func WriteData(w http.ResponseWriter, status int, data any) {
	Write(w, status, Document{Data: data})
}

// WriteList writes one page of records with its metadata and links.
func WriteList(w http.ResponseWriter, data any, p Pagination) {
	Write(w, http.StatusOK, Document{Data: data, Meta: p.Meta(), Links: p.Links()})
}

// WriteCreated writes a 201 response with the Location of the new record.
func WriteCreated(w http.ResponseWriter, data any, location string) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	WriteData(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteFailure writes an error response.
func WriteFailure(w http.ResponseWriter, f Failure) {
	if f.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(f.RetryAfter))
	}
	Write(w, f.Status, ErrorDocument{Errors: f.Errors})
}

// WriteError maps err and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteFailure(w, FromError(err))
}
