// Package http binds synthesized operations to HTTP. One chi router is
// built per registry snapshot and swapped in atomically, so every request
// runs entirely against the snapshot that was active when it arrived.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/registry"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/pkg/envelope"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// OperationRecorder receives the outcome of every executed operation.
// *metrics.Collector implements it.
type OperationRecorder interface {
	ObserveOperation(entity, operation string, err error, d time.Duration)
}

// Channel implements the HTTP channel for synthesized operations.
type Channel struct {
	router atomic.Pointer[chi.Mux]

	prefix   string
	docs     bool
	maxBody  int64
	identity *Identity
	logger   zerolog.Logger
	recorder OperationRecorder
}

// Option configures a Channel.
type Option func(*Channel)

// WithPrefix sets the API prefix. Default "/api".
func WithPrefix(prefix string) Option {
	return func(c *Channel) { c.prefix = strings.TrimSuffix(prefix, "/") }
}

// WithDocs enables the Swagger UI under <prefix>/docs/.
func WithDocs(enabled bool) Option {
	return func(c *Channel) { c.docs = enabled }
}

// WithIdentity sets the identity resolver. Default: every caller is
// anonymous.
func WithIdentity(id *Identity) Option {
	return func(c *Channel) { c.identity = id }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithRecorder sets the operation recorder.
func WithRecorder(rec OperationRecorder) Option {
	return func(c *Channel) { c.recorder = rec }
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Channel) { c.maxBody = n }
}

// New creates a channel. It serves 503 until the first Publish.
func New(opts ...Option) *Channel {
	c := &Channel{
		prefix:   "/api",
		maxBody:  DefaultMaxBodyBytes,
		identity: NewIdentity(IdentityNone, nil),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Prefix returns the API prefix.
func (c *Channel) Prefix() string {
	return c.prefix
}

// Publish builds the router of snap and makes it the active one.
func (c *Channel) Publish(snap *registry.Snapshot) error {
	r, err := c.Router(snap)
	if err != nil {
		return err
	}
	c.router.Store(r)
	c.logger.Debug().
		Int("version", snap.Version).
		Int("routes", snap.Operations.Len()).
		Msg("http routes swapped")
	return nil
}

// ServeHTTP dispatches to the active router.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router := c.router.Load()
	if router == nil {
		envelope.WriteFailure(w, envelope.Failure{
			Status:     http.StatusServiceUnavailable,
			Errors:     []envelope.Error{envelope.NewError(http.StatusServiceUnavailable, "unavailable", "Service Unavailable", "No schema has been loaded")},
			RetryAfter: envelope.RetryAfterSeconds,
		})
		return
	}
	// Route from a fresh chi context when mounted under another router.
	if chi.RouteContext(r.Context()) != nil {
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, nil))
	}
	router.ServeHTTP(w, r)
}

// Router builds the router of one snapshot: one route per operation, the
// API description, schema introspection and, if enabled, the Swagger UI.
func (c *Channel) Router(snap *registry.Snapshot) (*chi.Mux, error) {
	spec, err := snap.Spec.ToJSON()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteFailure(w, envelope.Failure{
			Status: http.StatusNotFound,
			Errors: []envelope.Error{envelope.ErrNotFound("No route for " + r.URL.Path)},
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteFailure(w, envelope.Failure{
			Status: http.StatusMethodNotAllowed,
			Errors: []envelope.Error{envelope.ErrMethodNotAllowed(r.Method)},
		})
	})

	r.Route(c.prefixOrRoot(), func(api chi.Router) {
		api.Get("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", envelope.ContentType)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Write(spec)
		})
		if c.docs {
			api.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, c.prefix+"/docs/index.html", http.StatusMovedPermanently)
			})
			api.Get("/docs/*", httpSwagger.Handler(
				httpSwagger.URL(c.prefix+"/openapi.json"),
			))
		}
		api.Mount("/_schema", NewSchemaHandler(snap).Routes())

		api.Group(func(ops chi.Router) {
			ops.Use(c.identity.Middleware)
			for _, d := range snap.Operations.Operations {
				ops.Method(d.Method, d.Path, c.handle(d))
			}
		})
	})
	return r, nil
}

func (c *Channel) prefixOrRoot() string {
	if c.prefix == "" {
		return "/"
	}
	return c.prefix
}

// handle runs one operation and writes its envelope.
func (c *Channel) handle(d *synth.Descriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := synth.Request{ID: chi.URLParam(r, "id"), Query: r.URL.Query()}

		var (
			res *synth.Result
			err error
		)
		if d.Input != nil {
			req.Body, err = c.decodeBody(w, r)
		}
		if err == nil {
			res, err = d.Execute(r.Context(), req)
		}
		if c.recorder != nil {
			c.recorder.ObserveOperation(d.Entity.Name, string(d.Kind), err, time.Since(start))
		}

		if err != nil {
			c.fail(w, r, d, err)
			return
		}

		switch {
		case d.Kind == synth.KindCreate:
			envelope.WriteCreated(w, res.Record, c.prefix+"/"+d.Entity.Slug+"/"+res.Record.ID())
		case d.Kind == synth.KindDelete:
			envelope.WriteNoContent(w)
		case res.Many:
			envelope.WriteList(w, res.Records, envelope.Pagination{
				Total:   res.Total,
				Page:    res.Page,
				PerPage: res.PerPage,
				URL:     r.URL,
			})
		case res.Record == nil:
			envelope.WriteData(w, http.StatusOK, nil)
		default:
			envelope.WriteData(w, http.StatusOK, res.Record)
		}
	}
}

// decodeBody reads a JSON object. An empty body is an empty object.
func (c *Channel) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, c.maxBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierror.NewValidation("", "size", "request body is too large")
		}
		return nil, apierror.NewValidation("", "json", "request body must be a JSON object")
	}
	if body == nil {
		return nil, apierror.NewValidation("", "json", "request body must be a JSON object")
	}
	return body, nil
}

func (c *Channel) fail(w http.ResponseWriter, r *http.Request, d *synth.Descriptor, err error) {
	f := envelope.FromError(err)
	if f.Status >= http.StatusInternalServerError {
		c.logger.Error().
			Err(err).
			Str("operation", d.ID).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("operation failed")
	}
	envelope.WriteFailure(w, f)
}
