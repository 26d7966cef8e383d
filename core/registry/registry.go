// Package registry holds the active compiled schema. Each Register builds a
// complete Snapshot off to the side (compiled entities, operation set, API
// description), brings storage up to date, then publishes it with one
// atomic store. Readers always see one whole snapshot, never a mix.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/entity"
	"github.com/artpar/apiforge/core/openapi"
	"github.com/artpar/apiforge/core/schema"
	"github.com/artpar/apiforge/core/synth"
	"github.com/rs/zerolog"
)

// Registration results, as logged and counted.
const (
	ResultPublished = "published"
	ResultKept      = "kept"
	ResultRejected  = "rejected"
)

// Snapshot is one immutable compiled schema.
type Snapshot struct {
	Version     int
	Fingerprint string
	Document    schema.Document
	Graph       *entity.Graph
	Operations  *synth.Set
	Spec        *openapi.Spec
	PublishedAt time.Time
}

// Migrator brings storage in line with a set of entities.
// *storage.Mapper implements it.
type Migrator interface {
	Migrate(ctx context.Context, entities []*entity.Compiled) error
}

// Recorder receives registration outcomes. *metrics.Collector
// implements it.
type Recorder interface {
	RegistryReload(result string)
	RegistryActive(version, operations int)
}

// Registry publishes snapshots.
type Registry struct {
	current atomic.Pointer[Snapshot]

	// mu serializes Register; reads never take it.
	mu        sync.Mutex
	version   int
	listeners []func(*Snapshot)

	synth    *synth.Synthesizer
	migrator Migrator
	info     openapi.Info
	prefix   string
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithInfo sets the API description metadata. Empty fields fall back to
// the document name and version.
func WithInfo(info openapi.Info) Option {
	return func(r *Registry) { r.info = info }
}

// WithPrefix sets the path prefix of the API description.
func WithPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

// New creates an empty registry. Migrator may be nil when storage is
// managed elsewhere, as in offline commands.
func New(s *synth.Synthesizer, m Migrator, opts ...Option) *Registry {
	r := &Registry{
		synth:    s,
		migrator: m,
		prefix:   "/api",
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register compiles doc and publishes it. If doc is identical to the active
// document the active snapshot is kept and returned. On any failure the
// active snapshot stays in place.
func (r *Registry) Register(ctx context.Context, doc schema.Document) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp, err := Fingerprint(doc)
	if err != nil {
		return nil, r.reject(err)
	}

	if cur := r.current.Load(); cur != nil && cur.Fingerprint == fp {
		r.logger.Info().
			Int("version", cur.Version).
			Str("fingerprint", short(fp)).
			Msg("schema unchanged, keeping active snapshot")
		r.record(ResultKept)
		return cur, nil
	}

	snap, err := r.build(doc)
	if err != nil {
		return nil, r.reject(err)
	}
	snap.Fingerprint = fp

	if r.migrator != nil {
		if err := r.migrator.Migrate(ctx, snap.Graph.Entities); err != nil {
			return nil, r.reject(fmt.Errorf("migrate storage: %w", err))
		}
	}

	r.version++
	snap.Version = r.version
	snap.PublishedAt = r.now().UTC()
	r.current.Store(snap)

	r.logger.Info().
		Int("version", snap.Version).
		Str("fingerprint", short(fp)).
		Int("entities", len(snap.Graph.Entities)).
		Int("operations", snap.Operations.Len()).
		Msg("schema snapshot published")
	r.record(ResultPublished)
	if r.recorder != nil {
		r.recorder.RegistryActive(snap.Version, snap.Operations.Len())
	}

	for _, fn := range r.listeners {
		fn(snap)
	}
	return snap, nil
}

// build runs the pure compilation stages.
func (r *Registry) build(doc schema.Document) (*Snapshot, error) {
	g, err := entity.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("compile entities: %w", err)
	}
	set, err := r.synth.Synthesize(g)
	if err != nil {
		return nil, fmt.Errorf("synthesize operations: %w", err)
	}

	info := r.info
	if info.Title == "" {
		info.Title = doc.Name
	}
	if info.Version == "" {
		info.Version = doc.Version
	}
	spec := openapi.NewGenerator(info, r.prefix).Generate(set)

	return &Snapshot{Document: doc, Graph: g, Operations: set, Spec: spec}, nil
}

func (r *Registry) reject(err error) error {
	ev := r.logger.Error().Err(err)
	if cur := r.current.Load(); cur != nil {
		ev = ev.Int("active_version", cur.Version)
	}
	ev.Msg("schema rejected, keeping active snapshot")
	r.record(ResultRejected)
	return err
}

func (r *Registry) record(result string) {
	if r.recorder != nil {
		r.recorder.RegistryReload(result)
	}
}

// Current returns the active snapshot, or nil before the first Register.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Lookup returns the active compiled entity named name, matched
// case-insensitively.
func (r *Registry) Lookup(name string) (*entity.Compiled, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, &apierror.NotFoundError{Entity: name}
	}
	e, ok := snap.Graph.Lookup(name)
	if !ok {
		return nil, &apierror.NotFoundError{Entity: name}
	}
	return e, nil
}

// All returns the active compiled entities in declaration order.
func (r *Registry) All() []*entity.Compiled {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	return snap.Graph.Entities
}

// OnChange registers a callback run after every publish, in registration
// order, before Register returns.
func (r *Registry) OnChange(fn func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Fingerprint returns the sha256 of doc's canonical JSON form.
// This is a PURE function.
func Fingerprint(doc schema.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint document: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
