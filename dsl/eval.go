package dsl

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weaveql/weave"
	"github.com/weaveql/weave/schema"
)

// returnSignal carries a return value up through nested If/ForEach bodies,
// short-circuiting the remaining statements in every enclosing block.
type returnSignal struct {
	value any
}

// Evaluator invokes parsed procedures against a schema and an adapter, one
// ACID transaction per call.
type Evaluator struct {
	Schema  *schema.Schema
	Adapter weave.Adapter
}

// NewEvaluator binds an Evaluator to a parsed schema and its storage adapter.
func NewEvaluator(s *schema.Schema, ad weave.Adapter) *Evaluator {
	return &Evaluator{Schema: s, Adapter: ad}
}

// Invoke runs proc against args: it builds a fresh scope, opens a
// transaction, walks the statement tree, and commits or rolls back
// depending on the outcome.
func (ev *Evaluator) Invoke(ctx context.Context, proc *Procedure, args map[string]any) (any, error) {
	txnID := uuid.New().String()
	log := zap.S().With("txn_id", txnID, "procedure", proc.Name)

	scope, err := ev.bindParams(proc, args)
	if err != nil {
		return nil, err
	}

	log.Debugw("begin transaction")
	if err := ev.Adapter.BeginTransaction(ctx); err != nil {
		return nil, weave.NewTransactionError("begin: %v", err).WithCause(err).WithProcedure(proc.Name)
	}

	result, sig, err := ev.execBlock(ctx, proc.Body, scope, proc.Name)
	if err != nil {
		log.Warnw("rolling back", "error", err)
		if rbErr := ev.Adapter.Rollback(ctx); rbErr != nil {
			log.Errorw("rollback failed", "error", rbErr)
		}
		return nil, err
	}

	if err := ev.Adapter.Commit(ctx); err != nil {
		return nil, weave.NewTransactionError("commit: %v", err).WithCause(err).WithProcedure(proc.Name)
	}
	log.Debugw("committed")

	if sig {
		return serializeResult(result), nil
	}
	return nil, nil
}

// bindParams builds the procedure's initial scope from the declared
// parameter list and the supplied argument mapping.
func (ev *Evaluator) bindParams(proc *Procedure, args map[string]any) (Scope, error) {
	scope := make(Scope)
	for _, p := range proc.Params {
		raw, present := args[p.Name]
		if !present {
			if !p.HasDefault {
				if p.IsList {
					return nil, weave.NewResolutionError("missing required list parameter %q", p.Name).WithProcedure(proc.Name)
				}
				return nil, weave.NewResolutionError("missing required parameter %q", p.Name).WithProcedure(proc.Name)
			}
			v, err := coerceParam(p, p.Default)
			if err != nil {
				return nil, err
			}
			scope[p.Name] = v
			continue
		}
		if v, ok := raw.(weave.Value); ok {
			scope[p.Name] = v
			continue
		}
		v, err := coerceParam(p, raw)
		if err != nil {
			return nil, err
		}
		scope[p.Name] = v
	}
	return scope, nil
}

func coerceParam(p Param, raw any) (weave.Value, error) {
	text, ok := raw.(string)
	if !ok {
		return weave.WrapRaw(p.Kind, raw, p.Precision, p.Scale, p.MaxLen)
	}
	switch p.Kind {
	case weave.KindNumber:
		return weave.NewNumber(text, p.Precision, p.Scale)
	case weave.KindString:
		return weave.NewString(text, p.MaxLen)
	case weave.KindBool:
		return weave.WrapRaw(weave.KindBool, text, nil, nil, nil)
	case weave.KindDateTime:
		return weave.ParseDateTime(text)
	default:
		return weave.Value{}, weave.NewResolutionError("unknown parameter kind for %q", p.Name)
	}
}

// execBlock runs a statement list in order; it returns (value, true, nil)
// the moment a Return statement (at this level or in a nested block) fires.
func (ev *Evaluator) execBlock(ctx context.Context, body []*Stmt, scope Scope, procName string) (any, bool, error) {
	for _, stmt := range body {
		v, returned, err := ev.execStmt(ctx, stmt, scope, procName)
		if err != nil {
			return nil, false, err
		}
		if returned {
			return v, true, nil
		}
	}
	return nil, false, nil
}

func (ev *Evaluator) execStmt(ctx context.Context, stmt *Stmt, scope Scope, procName string) (any, bool, error) {
	switch stmt.Kind {
	case StmtGet:
		return nil, false, ev.execGet(ctx, stmt, scope, procName)
	case StmtCreate:
		return nil, false, ev.execCreate(ctx, stmt, scope, procName)
	case StmtUpdate:
		return nil, false, ev.execUpdate(ctx, stmt, scope, procName)
	case StmtSet:
		v, err := Eval(ctx, stmt.SetExpr, scope)
		if err != nil {
			return nil, false, err
		}
		scope[stmt.SetVar] = v
		return nil, false, nil
	case StmtIf:
		ok, err := EvalCondition(ctx, stmt.Cond, scope)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		return ev.execBlock(ctx, stmt.Body, scope, procName)
	case StmtForEach:
		list, err := Eval(ctx, stmt.ListExpr, scope)
		if err != nil {
			return nil, false, err
		}
		items, ok := asList(list)
		if !ok {
			zap.S().Warnw("for-each target is not iterable; skipping loop", "procedure", procName, "item", stmt.Item)
			return nil, false, nil
		}
		for _, it := range items {
			scope[stmt.Item] = it
			v, returned, err := ev.execBlock(ctx, stmt.Body, scope, procName)
			if err != nil {
				return nil, false, err
			}
			if returned {
				return v, true, nil
			}
		}
		return nil, false, nil
	case StmtReturn:
		v, err := Eval(ctx, stmt.ReturnExpr, scope)
		if err != nil {
			return nil, false, err
		}
		return v, true, nil
	case StmtExpr:
		if strings.TrimSpace(stmt.RawText) == "" {
			return nil, false, nil
		}
		expr, err := ParseExpr(stmt.RawText)
		if err != nil {
			return nil, false, weave.NewResolutionError("unrecognized statement %q", stmt.RawText).WithProcedure(procName)
		}
		if _, err := Eval(ctx, expr, scope); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	default:
		return nil, false, weave.NewResolutionError("unknown statement kind").WithProcedure(procName)
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		return l, true
	case []*weave.Entity:
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// resolveEntityName matches name against the schema case-insensitively,
// falling back to stripping a trailing "s" (the source's pluralization
// heuristic) only when the exact name does not resolve.
func resolveEntityName(s *schema.Schema, name string) (*schema.EntityDef, error) {
	if e, ok := s.Lookup(name); ok {
		return e, nil
	}
	if strings.HasSuffix(name, "s") {
		if e, ok := s.Lookup(strings.TrimSuffix(name, "s")); ok {
			return e, nil
		}
	}
	return nil, weave.NewResolutionError("unknown entity %q", name)
}

func (ev *Evaluator) execGet(ctx context.Context, stmt *Stmt, scope Scope, procName string) error {
	def, err := resolveEntityName(ev.Schema, stmt.GetEntity)
	if err != nil {
		return err.(*weave.WeaveError).WithProcedure(procName)
	}
	pk, ok := def.PrimaryField()
	if !ok {
		return weave.NewSchemaError("entity %q has no primary key", def.Name).WithProcedure(procName)
	}
	idVal, err := Eval(ctx, stmt.GetByID, scope)
	if err != nil {
		return err
	}
	id := rawOf(idVal)

	rec, found, err := ev.Adapter.FindOne(ctx, def.Name, weave.Criteria{pk.Name: id})
	if err != nil {
		return weave.NewStorageError("find_one %s: %v", def.Name, err).WithCause(err).WithProcedure(procName)
	}
	if !found {
		return weave.NewResolutionError("no %s found with %s = %v", def.Name, pk.Name, id).WithProcedure(procName)
	}

	entity := weave.NewEntity(def, map[string]any(rec), ev.relationLoader())
	scope[stmt.Alias] = entity
	return nil
}

func (ev *Evaluator) execCreate(ctx context.Context, stmt *Stmt, scope Scope, procName string) error {
	def, err := resolveEntityName(ev.Schema, stmt.CreateEntity)
	if err != nil {
		return err.(*weave.WeaveError).WithProcedure(procName)
	}
	rec := make(weave.Record, len(stmt.CreateAssigns))
	for _, a := range stmt.CreateAssigns {
		v, err := Eval(ctx, a.Expr, scope)
		if err != nil {
			return err
		}
		if fi, ok := def.Field(a.Field); ok {
			if val, isVal := v.(weave.Value); isVal {
				coerced, err := weave.WrapRaw(fi.Kind, val.Raw(), fi.Precision, fi.Scale, fi.MaxLen)
				if err != nil {
					return err.(*weave.WeaveError).WithEntity(def.Name).WithField(a.Field).WithProcedure(procName)
				}
				v = coerced
			}
		}
		rec[a.Field] = rawOf(v)
	}
	if err := ev.Adapter.Insert(ctx, def.Name, rec); err != nil {
		if we, ok := err.(*weave.WeaveError); ok {
			return we.WithProcedure(procName)
		}
		return weave.NewStorageError("insert %s: %v", def.Name, err).WithCause(err).WithProcedure(procName)
	}
	if stmt.CreateAlias != "" {
		entity := weave.NewEntity(def, map[string]any(rec), ev.relationLoader())
		scope[stmt.CreateAlias] = entity
	}
	return nil
}

func (ev *Evaluator) execUpdate(ctx context.Context, stmt *Stmt, scope Scope, procName string) error {
	bound, ok := scope[stmt.UpdateAlias]
	if !ok {
		return weave.NewResolutionError("unresolved alias %q", stmt.UpdateAlias).WithProcedure(procName)
	}
	entity, ok := bound.(*weave.Entity)
	if !ok {
		return weave.NewResolutionError("alias %q is not an entity", stmt.UpdateAlias).WithProcedure(procName)
	}
	def, ok := entity.Type().(*schema.EntityDef)
	if !ok {
		return weave.NewResolutionError("alias %q has no schema type", stmt.UpdateAlias).WithProcedure(procName)
	}
	pk, ok := def.PrimaryField()
	if !ok {
		return weave.NewSchemaError("entity %q has no primary key", def.Name).WithProcedure(procName)
	}
	pkVal, _, err := entity.Get(pk.Name)
	if err != nil {
		return err
	}

	updates := make(weave.Record, len(stmt.UpdateAssigns))
	for _, a := range stmt.UpdateAssigns {
		v, err := Eval(ctx, a.Expr, scope)
		if err != nil {
			return err
		}
		val, ok := v.(weave.Value)
		if !ok {
			return weave.NewResolutionError("assignment to %q did not evaluate to a value", a.Field).WithProcedure(procName)
		}
		if err := entity.Set(a.Field, val); err != nil {
			return err
		}
		updates[a.Field] = entity.Raw()[a.Field]
	}
	if err := ev.Adapter.Update(ctx, def.Name, weave.Criteria{pk.Name: rawOf(pkVal)}, updates); err != nil {
		if we, ok := err.(*weave.WeaveError); ok {
			return we.WithProcedure(procName)
		}
		return weave.NewStorageError("update %s: %v", def.Name, err).WithCause(err).WithProcedure(procName)
	}
	return nil
}

func rawOf(v any) any {
	if val, ok := v.(weave.Value); ok {
		return val.Raw()
	}
	return v
}

// serializeResult converts a procedure's return value into a plain tree:
// an Entity serializes via ToTree, a list serializes element-wise, a
// weave.Value unwraps to its raw scalar, anything else passes through.
func serializeResult(v any) any {
	switch r := v.(type) {
	case *weave.Entity:
		return r.ToTree()
	case []any:
		out := make([]any, len(r))
		for i, item := range r {
			out[i] = serializeResult(item)
		}
		return out
	case []*weave.Entity:
		out := make([]any, len(r))
		for i, item := range r {
			out[i] = item.ToTree()
		}
		return out
	case weave.Value:
		return r.Raw()
	default:
		return r
	}
}

// relationLoader returns a weave.RelationLoader closure bound to this
// Evaluator's schema and adapter, implementing the §4.5 lazy loader
// contract: lex-order the junction table, read matching junction rows,
// fetch each target row, and wrap it transitively with the same loader.
func (ev *Evaluator) relationLoader() weave.RelationLoader {
	return func(ctx context.Context, e *weave.Entity, field string) ([]*weave.Entity, error) {
		sourceDef, ok := e.Type().(*schema.EntityDef)
		if !ok {
			return nil, weave.NewResolutionError("entity has no schema type for relation %q", field)
		}
		targetName, ok := sourceDef.RelationField(field)
		if !ok {
			return nil, weave.NewResolutionError("entity %q has no relation %q", sourceDef.Name, field)
		}
		targetDef, ok := ev.Schema.Lookup(targetName)
		if !ok {
			return nil, weave.NewResolutionError("relation %q targets unknown entity %q", field, targetName)
		}
		entry, ok := ev.Schema.Registry.Lookup(sourceDef.Name, targetDef.Name)
		if !ok {
			return nil, weave.NewResolutionError("no relation registered between %q and %q", sourceDef.Name, targetDef.Name)
		}
		pk, ok := sourceDef.PrimaryField()
		if !ok {
			return nil, weave.NewSchemaError("entity %q has no primary key", sourceDef.Name)
		}
		idVal, present, err := e.Get(pk.Name)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}

		junctionRows, err := ev.Adapter.FindRelation(ctx, entry.Table, entry.SourceCol, entry.TargetCol, idVal.Raw())
		if err != nil {
			return nil, weave.NewStorageError("find_relation %s: %v", entry.Table, err).WithCause(err)
		}

		targetPK, ok := targetDef.PrimaryField()
		if !ok {
			return nil, weave.NewSchemaError("entity %q has no primary key", targetDef.Name)
		}

		out := make([]*weave.Entity, 0, len(junctionRows))
		for _, row := range junctionRows {
			targetID, ok := row[entry.TargetCol]
			if !ok {
				continue
			}
			rec, found, err := ev.Adapter.FindOne(ctx, targetDef.Name, weave.Criteria{targetPK.Name: targetID})
			if err != nil {
				return nil, weave.NewStorageError("find_one %s: %v", targetDef.Name, err).WithCause(err)
			}
			if !found {
				continue
			}
			out = append(out, weave.NewEntity(targetDef, map[string]any(rec), ev.relationLoader()))
		}
		return out, nil
	}
}
