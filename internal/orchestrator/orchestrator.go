// Package orchestrator assembles the storage backends named in the
// configuration and hands out per-namespace actions.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/storage/fs"
	"github.com/nandoflorestan/keepluggable/internal/storage/memory"
	"github.com/nandoflorestan/keepluggable/internal/storage/pg"
	"github.com/nandoflorestan/keepluggable/internal/storage/s3"
)

type PayloadFactory func(ctx context.Context, cfg *config.Config) (action.PayloadStorage, error)
type MetadataFactory func(ctx context.Context, cfg *config.Config) (action.MetadataStorage, error)

// Registry maps backend names, as written in configuration files, to
// factories. The composition root owns a registry instance and extends
// it with custom backends; there is no process-wide registry.
type Registry struct {
	payloads map[string]PayloadFactory
	metadata map[string]MetadataFactory
}

func NewRegistry() *Registry {
	return &Registry{
		payloads: make(map[string]PayloadFactory),
		metadata: make(map[string]MetadataFactory),
	}
}

// DefaultRegistry returns a registry with the built-in backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterPayload("fs", func(ctx context.Context, cfg *config.Config) (action.PayloadStorage, error) {
		return fs.New(cfg.Storage.Fs.Path, cfg.Storage.Fs.BaseURL)
	})
	r.RegisterPayload("s3", func(ctx context.Context, cfg *config.Config) (action.PayloadStorage, error) {
		return s3.New(ctx, cfg.Storage.S3)
	})
	r.RegisterMetadata("pg", func(ctx context.Context, cfg *config.Config) (action.MetadataStorage, error) {
		storage, err := pg.New(cfg.Storage.Pg)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(ctx); err != nil {
			return nil, err
		}
		return storage, nil
	})
	r.RegisterMetadata("memory", func(ctx context.Context, cfg *config.Config) (action.MetadataStorage, error) {
		return memory.New(), nil
	})
	return r
}

func (r *Registry) RegisterPayload(name string, factory PayloadFactory) {
	r.payloads[name] = factory
}

func (r *Registry) RegisterMetadata(name string, factory MetadataFactory) {
	r.metadata[name] = factory
}

// Orchestrator holds one built storage pair and the configuration that
// produced it.
type Orchestrator struct {
	Name     string
	Payloads action.PayloadStorage
	Metadata action.MetadataStorage

	cfg *config.Config
}

// Build instantiates the backends cfg names.
func (r *Registry) Build(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	payloadFactory, ok := r.payloads[cfg.Storage.Payload]
	if !ok {
		return nil, fmt.Errorf("unknown payload storage backend %q", cfg.Storage.Payload)
	}
	metadataFactory, ok := r.metadata[cfg.Storage.Metadata]
	if !ok {
		return nil, fmt.Errorf("unknown metadata storage backend %q", cfg.Storage.Metadata)
	}

	payloads, err := payloadFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building payload storage %q: %w", cfg.Storage.Payload, err)
	}
	metadata, err := metadataFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building metadata storage %q: %w", cfg.Storage.Metadata, err)
	}
	return &Orchestrator{Name: cfg.Name, Payloads: payloads, Metadata: metadata, cfg: cfg}, nil
}

// Action returns the workflow coordinator for one namespace. Extra
// options are applied after the configured ones, so callers can still
// override the version strategy or inject hooks.
func (o *Orchestrator) Action(namespace string, opts ...action.Option) *action.Action {
	combined := make([]action.Option, 0, len(opts)+1)
	if o.cfg.Action.Kind == "image" {
		combined = append(combined, action.WithVersionStrategy(action.NewImageVersions(o.cfg.Image)))
	}
	combined = append(combined, opts...)
	return action.New(o.Payloads, o.Metadata, namespace, o.cfg.Action, combined...)
}
