package synth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/policy"
	"github.com/artpar/apiforge/core/storage"
	"github.com/artpar/apiforge/core/validation"
)

// authorize runs the checks in order and returns the first denial.
// This is a PURE function.
func authorize(checks []Check, rc policy.RequestContext) error {
	for _, c := range checks {
		d := c.table.Authorize(c.Operation, rc)
		if !d.Allowed {
			return &apierror.PolicyDeniedError{
				Entity:        c.Entity,
				Operation:     string(c.Operation),
				Reason:        d.Reason,
				Authenticated: rc.Authenticated,
			}
		}
	}
	return nil
}

// validateID checks the {id} path parameter and merges the violations of
// the rest of the request. In first mode a bad id stops validation.
func (s *Synthesizer) validateID(id string, rest func() error) error {
	errs := &apierror.ValidationError{}
	if _, err := uuid.Parse(id); err != nil {
		errs.Add("id", "format", "must be a valid UUID")
		if s.Validator.Mode == validation.ModeFirst {
			return errs
		}
	}
	if rest != nil {
		if err := rest(); err != nil {
			var ve *apierror.ValidationError
			if !errors.As(err, &ve) {
				return err
			}
			errs.Merge(ve)
		}
	}
	return errs.Err()
}

func (s *Synthesizer) list(d *Descriptor) func(context.Context, Request) (*Result, error) {
	e := d.Entity
	return func(ctx context.Context, req Request) (*Result, error) {
		lq, err := s.Validator.List(e, req.Query)
		if err != nil {
			return nil, err
		}
		if err := authorizeRead(ctx, d, e, lq.Relations); err != nil {
			return nil, err
		}
		recs, total, err := s.Store.FindMany(ctx, e, lq)
		if err != nil {
			return nil, err
		}
		if err := s.expand(ctx, e, recs, lq.Relations); err != nil {
			return nil, err
		}
		return &Result{Many: true, Records: recs, Total: total, Page: lq.Page, PerPage: lq.PerPage}, nil
	}
}

func (s *Synthesizer) get(d *Descriptor) func(context.Context, Request) (*Result, error) {
	e := d.Entity
	return func(ctx context.Context, req Request) (*Result, error) {
		var rels []string
		err := s.validateID(req.ID, func() (err error) {
			rels, err = s.Validator.Single(e, req.Query)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := authorizeRead(ctx, d, e, rels); err != nil {
			return nil, err
		}
		rec, err := s.Store.FindOne(ctx, e, req.ID)
		if err != nil {
			return nil, err
		}
		if err := s.expand(ctx, e, []storage.Record{rec}, rels); err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	}
}

func (s *Synthesizer) create(d *Descriptor) func(context.Context, Request) (*Result, error) {
	e := d.Entity
	return func(ctx context.Context, req Request) (*Result, error) {
		body := req.Body
		if body == nil {
			body = map[string]any{}
		}
		values, err := s.Validator.Body(d.Input, body)
		if err != nil {
			return nil, err
		}
		if err := authorize(d.Auth, policy.FromContext(ctx)); err != nil {
			return nil, err
		}
		rec, err := s.Store.Insert(ctx, e, values)
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	}
}

func (s *Synthesizer) update(d *Descriptor) func(context.Context, Request) (*Result, error) {
	e := d.Entity
	return func(ctx context.Context, req Request) (*Result, error) {
		var values map[string]any
		err := s.validateID(req.ID, func() (err error) {
			body := req.Body
			if body == nil {
				body = map[string]any{}
			}
			values, err = s.Validator.Body(d.Input, body)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := authorize(d.Auth, policy.FromContext(ctx)); err != nil {
			return nil, err
		}
		rec, err := s.Store.Update(ctx, e, req.ID, values)
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	}
}

func (s *Synthesizer) delete(d *Descriptor) func(context.Context, Request) (*Result, error) {
	e := d.Entity
	return func(ctx context.Context, req Request) (*Result, error) {
		if err := s.validateID(req.ID, nil); err != nil {
			return nil, err
		}
		if err := authorize(d.Auth, policy.FromContext(ctx)); err != nil {
			return nil, err
		}
		if err := s.Store.Delete(ctx, e, req.ID); err != nil {
			return nil, err
		}
		return &Result{}, nil
	}
}

func (s *Synthesizer) relatedExec(d *Descriptor) func(context.Context, Request) (*Result, error) {
	r := d.Relation
	if r.Many() {
		return func(ctx context.Context, req Request) (*Result, error) {
			var lq validation.ListQuery
			err := s.validateID(req.ID, func() (err error) {
				lq, err = s.Validator.List(r.Target, req.Query)
				return err
			})
			if err != nil {
				return nil, err
			}
			if err := authorizeRead(ctx, d, r.Target, lq.Relations); err != nil {
				return nil, err
			}
			recs, total, err := s.Store.ListRelated(ctx, r, req.ID, lq)
			if err != nil {
				return nil, err
			}
			if err := s.expand(ctx, r.Target, recs, lq.Relations); err != nil {
				return nil, err
			}
			return &Result{Many: true, Records: recs, Total: total, Page: lq.Page, PerPage: lq.PerPage}, nil
		}
	}

	return func(ctx context.Context, req Request) (*Result, error) {
		var rels []string
		err := s.validateID(req.ID, func() (err error) {
			rels, err = s.Validator.Single(r.Target, req.Query)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := authorizeRead(ctx, d, r.Target, rels); err != nil {
			return nil, err
		}
		parent, err := s.Store.FindOne(ctx, r.Owner, req.ID)
		if err != nil {
			return nil, err
		}
		key, _ := parent[r.ForeignKey].(string)
		if key == "" {
			return &Result{}, nil
		}
		rec, err := s.Store.FindOne(ctx, r.Target, key)
		if err != nil {
			return nil, err
		}
		if err := s.expand(ctx, r.Target, []storage.Record{rec}, rels); err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	}
}
