package schema

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RelationEntry is one directed view of a many-to-many relation: looking
// it up by (source, target) names the junction table and which of its two
// columns refers to which side, regardless of which entity declared the
// List[...] field.
type RelationEntry struct {
	Source, Target       string
	Table                string
	SourceCol, TargetCol string
}

// Registry holds the relation registry (both directions of every
// declared relation) built during schema pass 3.
type Registry struct {
	entries map[string]RelationEntry // key: lower(source)+"|"+lower(target)
}

// NewRegistry returns an empty relation registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]RelationEntry)}
}

func registryKey(source, target string) string {
	return strings.ToLower(source) + "|" + strings.ToLower(target)
}

// JunctionTable computes the junction table name and column pair for two
// entities given their primary-key field names. The table name depends
// only on the case-insensitive lexicographic order of the entity names,
// never on which side declared the relation; colA is always a's column
// and colB is b's, whatever their lexicographic order.
func JunctionTable(a, b, pkA, pkB string) (table, colA, colB string) {
	e1, e2, pk1, pk2 := a, b, pkA, pkB
	if strings.ToLower(b) < strings.ToLower(a) {
		e1, e2, pk1, pk2 = b, a, pkB, pkA
	}
	table = strings.ToLower(e1) + "_" + strings.ToLower(e2)
	col1 := strings.ToLower(e1) + "_" + pk1
	col2 := strings.ToLower(e2) + "_" + pk2
	if e1 == a {
		return table, col1, col2
	}
	return table, col2, col1
}

// Register adds both directions of a relation between source and target
// to the registry: source->target and target->source. pkSource/pkTarget
// are the primary-key field names of the two entities.
func (r *Registry) Register(source, target, pkSource, pkTarget string) {
	table, colSource, colTarget := JunctionTable(source, target, pkSource, pkTarget)
	r.entries[registryKey(source, target)] = RelationEntry{
		Source: source, Target: target, Table: table,
		SourceCol: colSource, TargetCol: colTarget,
	}
	r.entries[registryKey(target, source)] = RelationEntry{
		Source: target, Target: source, Table: table,
		SourceCol: colTarget, TargetCol: colSource,
	}
}

// Lookup returns the registry entry for source->target, if any. Per the
// open question in the design notes, a relation declared on only one side
// is still exposed from both directions — this is intentional, not a bug.
func (r *Registry) Lookup(source, target string) (RelationEntry, bool) {
	e, ok := r.entries[registryKey(source, target)]
	return e, ok
}

// All returns every registered directed entry, for diagnostics/introspection.
func (r *Registry) All() []RelationEntry {
	out := make([]RelationEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// OrphanCheck is one NOT EXISTS clause inside an orphan-removal trigger
// body: "no row remains in JunctionTable referencing this target pk".
type OrphanCheck struct {
	JunctionTable string
	Col           string
}

// OrphanTrigger is one AFTER DELETE trigger to synthesize on the relational
// back end: firing on TriggerTable, it removes the owned Entity row when,
// and only when, no owner-junction still references it.
type OrphanTrigger struct {
	Name          string // auto_gc_{target_lower}_from_{trigger_table}
	Entity        string // the owned entity E
	EntityPK      string
	TriggerTable  string // Ji: the junction whose deletion fires this trigger
	TriggerCol    string // the column in TriggerTable referring to E's pk
	Checks        []OrphanCheck
}

// SynthesizeOrphanTriggers implements schema pass 4: for an owned entity E
// with owners [O1..On], produce one trigger per owner-junction Ji, each
// checking NOT EXISTS across every owner-junction (including itself).
func SynthesizeOrphanTriggers(e *EntityDef, reg *Registry) ([]OrphanTrigger, error) {
	if !e.IsOwned() {
		return nil, nil
	}
	pk, ok := e.PrimaryField()
	if !ok {
		return nil, fmt.Errorf("owned entity %q has no primary key field", e.Name)
	}

	type ownerJunction struct {
		table, col string
	}
	junctions := make([]ownerJunction, 0, len(e.Owners))
	for _, owner := range e.Owners {
		entry, ok := reg.Lookup(owner, e.Name)
		if !ok {
			zap.S().Warnw("owner declares no relation linking it to the owned entity; skipping orphan GC for this owner",
				"entity", e.Name, "owner", owner)
			continue
		}
		junctions = append(junctions, ownerJunction{table: entry.Table, col: entry.TargetCol})
	}
	if len(junctions) == 0 {
		return nil, nil
	}

	checks := make([]OrphanCheck, 0, len(junctions))
	for _, j := range junctions {
		checks = append(checks, OrphanCheck{JunctionTable: j.table, Col: j.col})
	}

	triggers := make([]OrphanTrigger, 0, len(junctions))
	for _, j := range junctions {
		triggers = append(triggers, OrphanTrigger{
			Name:         fmt.Sprintf("auto_gc_%s_from_%s", strings.ToLower(e.Name), j.table),
			Entity:       e.Name,
			EntityPK:     pk.Name,
			TriggerTable: j.table,
			TriggerCol:   j.col,
			Checks:       checks,
		})
	}
	return triggers, nil
}
