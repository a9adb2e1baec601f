package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/factory"
	"github.com/weaveql/weave/schema"
)

func main() {
	logger, _ := zap.NewProduction()
	zap.ReplaceGlobals(logger)

	rootCmd := &cobra.Command{
		Use:   "weave",
		Short: "Parse and run weave schema/procedure sources",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")

	rootCmd.AddCommand(
		newSchemaCmd(),
		newRunCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect a schema source without opening a storage back end",
	}

	checkCmd := &cobra.Command{
		Use:   "check <source.weave>",
		Short: "Validate a schema, failing on the first schema-integrity error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			ad := noopAdapter{}
			sch, err := schema.Parse(context.Background(), string(source), ad)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d entities, %d orphan triggers\n", len(sch.Order), len(sch.Triggers))
			return nil
		},
	}

	describeCmd := &cobra.Command{
		Use:   "describe <source.weave>",
		Short: "Print each entity's fields and relations as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			sch, err := schema.Parse(context.Background(), string(source), noopAdapter{})
			if err != nil {
				return err
			}
			out := make(map[string]any, len(sch.Order))
			for _, name := range sch.Order {
				entity := sch.Entities[name]
				jsonSchema, err := buildJSONSchema(entity)
				if err != nil {
					return err
				}
				desc := describeEntity(entity)
				desc["jsonSchema"] = jsonSchema
				out[name] = desc
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}

	schemaCmd.AddCommand(checkCmd, describeCmd)
	return schemaCmd
}

func describeEntity(e *schema.EntityDef) map[string]any {
	fields := make([]map[string]any, 0, len(e.FieldOrder))
	for _, name := range e.FieldOrder {
		f := e.Fields[name]
		fields = append(fields, map[string]any{
			"name":    f.Name,
			"kind":    f.Kind.String(),
			"primary": f.Primary,
			"notNull": f.NotNull,
			"unique":  f.Unique,
		})
	}
	relations := make([]map[string]any, 0, len(e.Relations))
	for _, r := range e.Relations {
		relations = append(relations, map[string]any{"field": r.Field, "target": r.Target})
	}
	return map[string]any{
		"fields":    fields,
		"relations": relations,
		"owners":    e.Owners,
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var argPairs []string
	runCmd := &cobra.Command{
		Use:   "run <procedure> [--arg name=value]...",
		Short: "Invoke a procedure from a configured engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := weave.LoadConfigFile(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			engine, err := factory.NewEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			callArgs, err := parseArgPairs(argPairs)
			if err != nil {
				return err
			}

			result, err := engine.Invoke(ctx, args[0], callArgs)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	runCmd.Flags().StringArrayVar(&argPairs, "arg", nil, "procedure argument as name=value (repeatable)")
	return runCmd
}

func parseArgPairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		idx := strings.Index(p, "=")
		if idx < 0 {
			return nil, fmt.Errorf("malformed --arg %q: expected name=value", p)
		}
		out[p[:idx]] = p[idx+1:]
	}
	return out, nil
}

// noopAdapter satisfies weave.Adapter for schema-only inspection: every
// table/trigger synthesis call is a no-op, since `schema check`/`describe`
// never touch a live store.
type noopAdapter struct{}

func (noopAdapter) Init(ctx context.Context) error  { return nil }
func (noopAdapter) Close(ctx context.Context) error { return nil }
func (noopAdapter) EnsureTable(ctx context.Context, name string, columns []weave.ColumnSpec, primaryKey string) error {
	return nil
}
func (noopAdapter) EnsureRelationTable(ctx context.Context, table, col1, col2 string) error {
	return nil
}
func (noopAdapter) EnsureOrphanTrigger(ctx context.Context, name, entity, entityPK, triggerTable, triggerCol string, checks []weave.OrphanCheckSpec) error {
	return nil
}
func (noopAdapter) FindOne(ctx context.Context, entity string, criteria weave.Criteria) (weave.Record, bool, error) {
	return nil, false, nil
}
func (noopAdapter) Find(ctx context.Context, entity string, criteria weave.Criteria) ([]weave.Record, error) {
	return nil, nil
}
func (noopAdapter) Insert(ctx context.Context, entity string, record weave.Record) error { return nil }
func (noopAdapter) Update(ctx context.Context, entity string, criteria weave.Criteria, updates weave.Record) error {
	return nil
}
func (noopAdapter) FindRelation(ctx context.Context, table, sourceCol, targetCol string, sourceID any) ([]weave.Record, error) {
	return nil, nil
}
func (noopAdapter) BeginTransaction(ctx context.Context) error { return nil }
func (noopAdapter) Commit(ctx context.Context) error           { return nil }
func (noopAdapter) Rollback(ctx context.Context) error         { return nil }
