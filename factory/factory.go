// Package factory wires a weave.Config into a running Engine: it opens
// the configured storage back end, parses the schema/procedure source,
// and returns an Engine ready to invoke procedures by name.
package factory

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/adapter/postgres"
	"github.com/weaveql/weave/adapter/snapshot"
	"github.com/weaveql/weave/dsl"
	"github.com/weaveql/weave/schema"
)

// Engine is the public entry point: parsed procedures keyed by name,
// ready to run against the schema/adapter an Engine was built with.
type Engine struct {
	Config    *weave.Config
	Adapter   weave.Adapter
	Schema    *schema.Schema
	Evaluator *dsl.Evaluator

	procedures map[string]*dsl.Procedure
}

// NewEngine validates config, opens the configured back end, parses the
// schema portion of the source, and compiles every transaction block
// found in it.
//
// Usage:
//
//	config := weave.DefaultConfig()
//	config.Schema.SourcePath = "app.weave"
//	config.Snapshot.Path = "app.json"
//	engine, err := factory.NewEngine(ctx, config)
func NewEngine(ctx context.Context, config *weave.Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ad, err := newAdapter(config)
	if err != nil {
		return nil, err
	}
	if err := ad.Init(ctx); err != nil {
		return nil, err
	}

	source, err := readSource(config)
	if err != nil {
		return nil, err
	}

	sch, err := schema.Parse(ctx, source, ad)
	if err != nil {
		return nil, err
	}

	procedures, err := parseProcedures(source)
	if err != nil {
		return nil, err
	}

	zap.S().Infow("engine ready", "entities", len(sch.Order), "procedures", len(procedures), "backend", config.Backend())
	return &Engine{
		Config:     config,
		Adapter:    ad,
		Schema:     sch,
		Evaluator:  dsl.NewEvaluator(sch, ad),
		procedures: procedures,
	}, nil
}

func newAdapter(config *weave.Config) (weave.Adapter, error) {
	switch config.Backend() {
	case weave.BackendSnapshot:
		return snapshot.New(config.Snapshot.Path), nil
	case weave.BackendPostgres:
		return postgres.New(postgres.Config{
			Host:           config.Database.Host,
			Port:           config.Database.Port,
			Database:       config.Database.Database,
			User:           config.Database.Username,
			Password:       config.Database.Password,
			SSLMode:        config.Database.SSLMode,
			IsolationLevel: config.Transaction.IsolationLevel,
		}), nil
	default:
		return nil, weave.NewSchemaError("config: unknown backend %q", config.Backend())
	}
}

func readSource(config *weave.Config) (string, error) {
	if config.Schema.SourceText != "" {
		return config.Schema.SourceText, nil
	}
	b, err := os.ReadFile(config.Schema.SourcePath)
	if err != nil {
		return "", weave.NewSchemaError("read schema source %s: %v", config.Schema.SourcePath, err).WithCause(err)
	}
	return string(b), nil
}

// Close closes the underlying adapter.
func (e *Engine) Close(ctx context.Context) error {
	return e.Adapter.Close(ctx)
}

// Invoke runs the named procedure with the given arguments inside a
// single ACID transaction, returning its serialized result tree.
func (e *Engine) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	proc, ok := e.procedures[name]
	if !ok {
		return nil, weave.NewResolutionError("unknown procedure %q", name)
	}
	return e.Evaluator.Invoke(ctx, proc, args)
}

// Procedures lists every compiled procedure name, for introspection.
func (e *Engine) Procedures() []string {
	out := make([]string, 0, len(e.procedures))
	for name := range e.procedures {
		out = append(out, name)
	}
	return out
}

func parseProcedures(source string) (map[string]*dsl.Procedure, error) {
	blocks := splitProcedureBlocks(source)
	out := make(map[string]*dsl.Procedure, len(blocks))
	for _, block := range blocks {
		proc, err := dsl.ParseProcedure(block)
		if err != nil {
			return nil, err
		}
		if _, dup := out[proc.Name]; dup {
			return nil, weave.NewSchemaError("duplicate procedure name %q", proc.Name)
		}
		out[proc.Name] = proc
	}
	return out, nil
}
