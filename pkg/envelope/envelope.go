// Package envelope writes the JSON bodies of the synthesized API. Success
// responses carry the record or records under data, lists add meta and
// links; failures carry a list of error objects under errors.
package envelope

// Document is a success response body.
type Document struct {
	Data  any    `json:"data"`
	Meta  *Meta  `json:"meta,omitempty"`
	Links *Links `json:"links,omitempty"`
}

// ErrorDocument is a failure response body.
type ErrorDocument struct {
	Errors []Error `json:"errors"`
}

// Meta is the pagination metadata of a list response.
type Meta struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
}

// Links are the pagination links of a list response.
type Links struct {
	Self  string `json:"self,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
	Prev  string `json:"prev,omitempty"`
	Next  string `json:"next,omitempty"`
}

// Error is one error object.
type Error struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource locates the input that caused an error.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`   // JSON pointer into the body
	Parameter string `json:"parameter,omitempty"` // query or path parameter
}

// ContentType is the media type of every body.
const ContentType = "application/json"
