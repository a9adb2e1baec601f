package schema

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/weaveql/weave"
)

// Schema is the immutable result of parsing the schema portion of a
// source document: every entity definition, the fully-populated relation
// registry, and the synthesized orphan-removal triggers.
type Schema struct {
	Entities  map[string]*EntityDef
	Order     []string // declaration order, for deterministic iteration
	Registry  *Registry
	Triggers  []OrphanTrigger
}

// Lookup resolves an entity name case-insensitively, as required
// throughout §4 (entity names are matched case-insensitively; type tokens
// are not case-sensitive either, but field/procedure keywords are).
func (s *Schema) Lookup(name string) (*EntityDef, bool) {
	for _, n := range s.Order {
		if strings.EqualFold(n, name) {
			return s.Entities[n], true
		}
	}
	return nil, false
}

var (
	entityHeaderRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(([^)]*)\))?\s*\{\s*$`)
	fieldNameRe    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)(.*)$`)
	bracketOrParen = regexp.MustCompile(`\[([^\]]*)\]|\(([^)]*)\)`)
	typeRe         = regexp.MustCompile(`^([A-Za-z]+)(?:\[([^\]]*)\])?$`)
)

// Parse runs all four schema passes over source against the given
// adapter: lexical entity parse, validation, relation-table synthesis, and
// orphan-trigger synthesis. EnsureTable runs for every entity once
// validation has passed, so a lexical or validation error leaves the
// adapter untouched; a later error leaves the already-created tables as
// the only side effect (tables are idempotent to create again on a
// retried parse).
func Parse(ctx context.Context, source string, ad weave.Adapter) (*Schema, error) {
	entities, order, err := lexParse(source)
	if err != nil {
		return nil, err
	}
	if err := validate(entities, order); err != nil {
		return nil, err
	}
	for _, name := range order {
		if err := ensureTable(ctx, ad, entities[name]); err != nil {
			return nil, err
		}
	}

	reg := NewRegistry()
	if err := synthesizeRelations(ctx, ad, entities, order, reg); err != nil {
		return nil, err
	}

	var triggers []OrphanTrigger
	for _, name := range order {
		ts, err := SynthesizeOrphanTriggers(entities[name], reg)
		if err != nil {
			return nil, weave.NewSchemaError("%v", err).WithEntity(name)
		}
		for _, t := range ts {
			checks := make([]weave.OrphanCheckSpec, 0, len(t.Checks))
			for _, c := range t.Checks {
				checks = append(checks, weave.OrphanCheckSpec{JunctionTable: c.JunctionTable, Col: c.Col})
			}
			if err := ad.EnsureOrphanTrigger(ctx, t.Name, t.Entity, t.EntityPK, t.TriggerTable, t.TriggerCol, checks); err != nil {
				return nil, weave.NewStorageError("ensure_orphan_trigger %s: %v", t.Name, err).WithCause(err)
			}
			triggers = append(triggers, t)
		}
	}

	return &Schema{Entities: entities, Order: order, Registry: reg, Triggers: triggers}, nil
}

// --- pass 1: lexical entity parse -----------------------------------------

func lexParse(source string) (map[string]*EntityDef, []string, error) {
	entities := make(map[string]*EntityDef)
	var order []string

	lines := strings.Split(source, "\n")
	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			i++
			continue
		}
		m := entityHeaderRe.FindStringSubmatch(line)
		if m == nil {
			i++
			continue
		}
		name := m[1]
		var owners []string
		if m[2] != "" {
			for _, o := range strings.Split(m[2], ",") {
				o = strings.TrimSpace(o)
				if o != "" {
					owners = append(owners, o)
				}
			}
		}
		if _, dup := entities[name]; dup {
			return nil, nil, weave.NewSchemaError("duplicate entity name %q", name)
		}

		def := &EntityDef{Name: name, Fields: make(map[string]*FieldDef), Owners: owners}
		i++
		for i < len(lines) {
			bodyLine := strings.TrimSpace(lines[i])
			if bodyLine == "}" {
				i++
				break
			}
			if bodyLine == "" || strings.HasPrefix(bodyLine, "#") || strings.HasPrefix(bodyLine, "//") {
				i++
				continue
			}
			if err := parseFieldLine(bodyLine, def); err != nil {
				return nil, nil, weave.NewSchemaError("entity %q: %v", name, err).WithEntity(name)
			}
			i++
		}
		entities[name] = def
		order = append(order, name)
	}
	return entities, order, nil
}

func parseFieldLine(line string, def *EntityDef) error {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return fmt.Errorf("malformed field line %q: missing ':'", line)
	}
	typePart := strings.TrimSpace(line[:colon])
	rest := strings.TrimSpace(line[colon+1:])

	nm := fieldNameRe.FindStringSubmatch(rest)
	if nm == nil {
		return fmt.Errorf("malformed field line %q: missing field name", line)
	}
	fieldName := nm[1]
	remainder := strings.TrimSpace(nm[2])

	var attrs []string
	var defaultText string
	hasDefault := false
	// Distinguish bracket (attribute) groups from paren (default) groups
	// by which submatch the regex populated, not by content — either can
	// legitimately be empty text.
	for _, loc := range bracketOrParen.FindAllStringSubmatchIndex(remainder, -1) {
		if loc[2] != -1 {
			attrs = append(attrs, strings.TrimSpace(remainder[loc[2]:loc[3]]))
		} else if loc[4] != -1 {
			defaultText = strings.TrimSpace(remainder[loc[4]:loc[5]])
			hasDefault = true
		}
	}

	tm := typeRe.FindStringSubmatch(typePart)
	if tm == nil {
		return fmt.Errorf("malformed type %q for field %q", typePart, fieldName)
	}
	base := strings.ToLower(tm[1])
	bracket := tm[2]

	if base == "list" {
		if bracket == "" {
			return fmt.Errorf("List field %q missing target entity", fieldName)
		}
		def.Relations = append(def.Relations, RelationDef{Field: fieldName, Target: bracket})
		return nil
	}

	fd := &FieldDef{Name: fieldName, Default: defaultText, HasDefault: hasDefault}
	switch base {
	case "number":
		if bracket != "" {
			parts := strings.SplitN(bracket, ".", 2)
			p, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return fmt.Errorf("invalid precision in %q", typePart)
			}
			fd.Precision = &p
			if len(parts) == 2 {
				s, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err != nil {
					return fmt.Errorf("invalid scale in %q", typePart)
				}
				fd.Scale = &s
			}
		}
		fd.Kind = weave.KindNumber
	case "str":
		if bracket != "" {
			l, err := strconv.Atoi(strings.TrimSpace(bracket))
			if err != nil {
				return fmt.Errorf("invalid max length in %q", typePart)
			}
			fd.MaxLen = &l
		}
		fd.Kind = weave.KindString
	case "bool":
		fd.Kind = weave.KindBool
	case "datetime":
		fd.Kind = weave.KindDateTime
	default:
		return fmt.Errorf("unknown type %q", typePart)
	}

	for _, a := range attrs {
		switch strings.ToLower(strings.TrimSpace(a)) {
		case "primary":
			fd.Primary = true
		case "not null":
			fd.NotNull = true
		case "unique":
			fd.Unique = true
		case "":
		default:
			return fmt.Errorf("unknown attribute %q on field %q", a, fieldName)
		}
	}

	def.Fields[fieldName] = fd
	def.FieldOrder = append(def.FieldOrder, fieldName)
	return nil
}

// --- pass 2: schema validation ---------------------------------------------

func validate(entities map[string]*EntityDef, order []string) error {
	exists := func(name string) bool {
		for _, n := range order {
			if strings.EqualFold(n, name) {
				return true
			}
		}
		return false
	}
	for _, name := range order {
		e := entities[name]
		primaryCount := 0
		for _, fn := range e.FieldOrder {
			if e.Fields[fn].Primary {
				primaryCount++
			}
		}
		if primaryCount > 1 {
			return weave.NewSchemaError("entity %q declares more than one primary field", name).WithEntity(name)
		}
		for _, rel := range e.Relations {
			if !exists(rel.Target) {
				return weave.NewSchemaError("entity %q: relation %q targets unknown entity %q", name, rel.Field, rel.Target).WithEntity(name).WithField(rel.Field)
			}
		}
		for _, owner := range e.Owners {
			if !exists(owner) {
				return weave.NewSchemaError("entity %q: owner %q is not a known entity", name, owner).WithEntity(name)
			}
		}
	}
	return nil
}

// --- adapter glue: EnsureTable, run after validation -----------------------

func ensureTable(ctx context.Context, ad weave.Adapter, e *EntityDef) error {
	cols := make([]weave.ColumnSpec, 0, len(e.FieldOrder))
	pk := ""
	for _, name := range e.FieldOrder {
		f := e.Fields[name]
		cols = append(cols, weave.ColumnSpec{
			Name: f.Name, Kind: f.Kind, NotNull: f.NotNull, Unique: f.Unique, Primary: f.Primary,
		})
		if f.Primary {
			pk = f.Name
		}
	}
	if err := ad.EnsureTable(ctx, e.Name, cols, pk); err != nil {
		return weave.NewStorageError("ensure_table %s: %v", e.Name, err).WithCause(err).WithEntity(e.Name)
	}
	return nil
}

// --- pass 3: relation synthesis --------------------------------------------

func synthesizeRelations(ctx context.Context, ad weave.Adapter, entities map[string]*EntityDef, order []string, reg *Registry) error {
	type pending struct{ source, target string }
	seen := make(map[string]bool)
	var pendings []pending

	resolve := func(name string) (*EntityDef, string) {
		for _, n := range order {
			if strings.EqualFold(n, name) {
				return entities[n], n
			}
		}
		return nil, name
	}

	for _, name := range order {
		e := entities[name]
		for _, rel := range e.Relations {
			target, targetName := resolve(rel.Target)
			if target == nil {
				return weave.NewSchemaError("entity %q: relation target %q not found", name, rel.Target).WithEntity(name)
			}
			key := registryKey(name, targetName)
			reverse := registryKey(targetName, name)
			if seen[key] || seen[reverse] {
				continue
			}
			seen[key] = true
			pendings = append(pendings, pending{source: name, target: targetName})
		}
	}

	for _, p := range pendings {
		src := entities[p.source]
		tgt := entities[p.target]
		pkSrc, ok := src.PrimaryField()
		if !ok {
			return weave.NewSchemaError("entity %q has no primary key, required for relation to %q", p.source, p.target).WithEntity(p.source)
		}
		pkTgt, ok := tgt.PrimaryField()
		if !ok {
			return weave.NewSchemaError("entity %q has no primary key, required for relation to %q", p.target, p.source).WithEntity(p.target)
		}
		table, col1, col2 := JunctionTable(p.source, p.target, pkSrc.Name, pkTgt.Name)
		if strings.ToLower(p.target) < strings.ToLower(p.source) {
			col1, col2 = col2, col1
		}
		if err := ad.EnsureRelationTable(ctx, table, col1, col2); err != nil {
			return weave.NewStorageError("ensure_relation_table %s: %v", table, err).WithCause(err)
		}
		reg.Register(p.source, p.target, pkSrc.Name, pkTgt.Name)
	}
	return nil
}
