package envelope

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/artpar/apiforge/core/apierror"
)

// NewError creates an error object.
func NewError(status int, code, title, detail string) Error {
	return Error{Status: strconv.Itoa(status), Code: code, Title: title, Detail: detail}
}

// StatusCode returns the HTTP status code as an int.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// ErrBadRequest creates a 400 error for malformed requests.
func ErrBadRequest(detail string) Error {
	return NewError(http.StatusBadRequest, "bad_request", "Bad Request", detail)
}

// ErrNotFound creates a 404 error for unknown routes.
func ErrNotFound(detail string) Error {
	return NewError(http.StatusNotFound, "not_found", "Not Found", detail)
}

// ErrMethodNotAllowed creates a 405 error.
func ErrMethodNotAllowed(method string) Error {
	return NewError(http.StatusMethodNotAllowed, "method_not_allowed", "Method Not Allowed",
		fmt.Sprintf("The %s method is not allowed for this resource", method))
}

// ErrInternal creates a 500 error. Details of internal failures are never
// sent to callers.
func ErrInternal() Error {
	return NewError(http.StatusInternalServerError, "internal_error", "Internal Server Error", "An internal error occurred")
}

// Failure is the HTTP form of an error.
type Failure struct {
	Status int
	Errors []Error

	// RetryAfter is set for retryable failures, in seconds.
	RetryAfter int
}

// RetryAfterSeconds is the Retry-After hint of unavailable storage.
const RetryAfterSeconds = 1

// FromError maps an error of the taxonomy to its HTTP form. Anything else
// is an internal error.
func FromError(err error) Failure {
	var (
		ve *apierror.ValidationError
		nf *apierror.NotFoundError
		pd *apierror.PolicyDeniedError
		ce *apierror.ConflictError
		ue *apierror.PersistenceUnavailableError
	)

	switch {
	case errors.As(err, &ve):
		f := Failure{Status: http.StatusBadRequest}
		for _, fe := range ve.Fields {
			e := NewError(http.StatusBadRequest, "validation_failed", "Validation Failed", fe.Message)
			if fe.Constraint != "" {
				e.Code = "validation_failed." + fe.Constraint
			}
			e.Source = source(fe.Field)
			f.Errors = append(f.Errors, e)
		}
		if len(f.Errors) == 0 {
			f.Errors = []Error{NewError(http.StatusBadRequest, "validation_failed", "Validation Failed", ve.Error())}
		}
		return f

	case errors.As(err, &pd):
		if !pd.Authenticated {
			return single(NewError(http.StatusUnauthorized, "unauthorized", "Unauthorized", pd.Reason))
		}
		return single(NewError(http.StatusForbidden, "forbidden", "Forbidden", pd.Reason))

	case errors.As(err, &nf):
		return single(NewError(http.StatusNotFound, "not_found", "Not Found", nf.Error()))

	case errors.As(err, &ce):
		e := NewError(http.StatusConflict, "conflict", "Conflict", ce.Error())
		if ce.Field != "" {
			e.Source = &ErrorSource{Pointer: "/" + ce.Field}
		}
		return single(e)

	case errors.As(err, &ue):
		f := single(NewError(http.StatusServiceUnavailable, "unavailable", "Service Unavailable", "Storage is temporarily unavailable, retry later"))
		f.RetryAfter = RetryAfterSeconds
		return f
	}
	return single(ErrInternal())
}

func single(e Error) Failure {
	return Failure{Status: e.StatusCode(), Errors: []Error{e}}
}

// source locates a validation error: query.x and id are parameters, other
// fields are pointers into the body.
func source(field string) *ErrorSource {
	switch {
	case field == "":
		return nil
	case field == "id":
		return &ErrorSource{Parameter: "id"}
	case strings.HasPrefix(field, "query."):
		return &ErrorSource{Parameter: strings.TrimPrefix(field, "query.")}
	}
	return &ErrorSource{Pointer: "/" + strings.ReplaceAll(field, ".", "/")}
}
