package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/artpar/apiforge/config"
	"github.com/artpar/apiforge/core/apierror"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/openapi"
	"github.com/artpar/apiforge/core/registry"
	"github.com/artpar/apiforge/core/synth"
	"github.com/artpar/apiforge/core/validation"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

// schemaOptions are the flags shared by commands that compile a schema
// without serving it.
type schemaOptions struct {
	prefix  string
	title   string
	version string
}

// schemaPath returns the schema argument, or schema.path of the config.
func schemaPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return "", fmt.Errorf("no schema argument and %w", err)
	}
	return cfg.Schema.Path, nil
}

// compileSchema runs the registration pipeline without a database.
func compileSchema(path string, opts schemaOptions) (*registry.Snapshot, error) {
	doc, err := manifest.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if opts.prefix == "" {
		opts.prefix = "/api"
	}
	reg := registry.New(synth.New(nil, validation.Default()), nil,
		registry.WithPrefix(opts.prefix),
		registry.WithInfo(openapi.Info{Title: opts.title, Version: opts.version}),
	)
	return reg.Register(context.Background(), doc)
}

// printSchemaError writes each violation of a rejected schema on its own
// line.
func printSchemaError(w io.Writer, err error) {
	var verr *apierror.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			field := f.Field
			if field == "" {
				field = "(document)"
			}
			fmt.Fprintf(w, "      %s: %s [%s]\n", field, f.Message, f.Constraint)
		}
		return
	}
	fmt.Fprintf(w, "      %v\n", err)
}
