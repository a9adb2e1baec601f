package schema

import "testing"

func TestJunctionTable_LexOrderedRegardlessOfDeclarationSide(t *testing.T) {
	table, col1, col2 := JunctionTable("Post", "Author", "id", "id")
	if table != "author_post" {
		t.Fatalf("table = %q, want author_post", table)
	}
	// Author sorts first lexicographically and names the table first, but
	// the returned columns follow argument order: Post's column comes first.
	if col1 != "post_id" || col2 != "author_id" {
		t.Fatalf("cols = %q, %q, want post_id, author_id", col1, col2)
	}

	table2, col1b, col2b := JunctionTable("Author", "Post", "id", "id")
	if table2 != table {
		t.Fatalf("table name must not depend on argument order")
	}
	if col1b != col2 || col2b != col1 {
		t.Fatalf("column identity must track entity name, not argument position")
	}
}

func TestRegistry_RegisterBothDirections(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Author", "Post", "id", "id")

	fwd, ok := reg.Lookup("Author", "Post")
	if !ok {
		t.Fatal("expected Author->Post entry")
	}
	rev, ok := reg.Lookup("Post", "Author")
	if !ok {
		t.Fatal("expected Post->Author entry")
	}
	if fwd.SourceCol != rev.TargetCol || fwd.TargetCol != rev.SourceCol {
		t.Fatal("reverse entry must swap source/target columns")
	}
}

func TestSynthesizeOrphanTriggers_UnownedEntityProducesNone(t *testing.T) {
	e := &EntityDef{Name: "Standalone", Fields: map[string]*FieldDef{}}
	triggers, err := SynthesizeOrphanTriggers(e, NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if len(triggers) != 0 {
		t.Fatalf("expected no triggers for unowned entity, got %d", len(triggers))
	}
}

func TestSynthesizeOrphanTriggers_OneTriggerPerOwner(t *testing.T) {
	owned := &EntityDef{
		Name:       "Post",
		Owners:     []string{"Author", "Magazine"},
		Fields:     map[string]*FieldDef{"id": {Name: "id", Primary: true}},
		FieldOrder: []string{"id"},
	}
	reg := NewRegistry()
	reg.Register("Author", "Post", "id", "id")
	reg.Register("Magazine", "Post", "id", "id")

	triggers, err := SynthesizeOrphanTriggers(owned, reg)
	if err != nil {
		t.Fatal(err)
	}
	if len(triggers) != 2 {
		t.Fatalf("expected one trigger per owner junction, got %d", len(triggers))
	}
	for _, tr := range triggers {
		if len(tr.Checks) != 2 {
			t.Fatalf("each trigger must check every owner junction including itself, got %d checks", len(tr.Checks))
		}
	}
}

func TestSynthesizeOrphanTriggers_UnlinkedOwnerIsSkippedNotFatal(t *testing.T) {
	owned := &EntityDef{
		Name:       "Post",
		Owners:     []string{"Author", "Magazine"},
		Fields:     map[string]*FieldDef{"id": {Name: "id", Primary: true}},
		FieldOrder: []string{"id"},
	}
	reg := NewRegistry()
	reg.Register("Author", "Post", "id", "id")
	// Magazine is declared as an owner but never linked via a relation.

	triggers, err := SynthesizeOrphanTriggers(owned, reg)
	if err != nil {
		t.Fatalf("unlinked owner must produce a warning, not a schema error: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("expected exactly one trigger for the linked owner, got %d", len(triggers))
	}
	if triggers[0].TriggerTable != "author_post" {
		t.Fatalf("trigger must come from the linked Author junction, got %q", triggers[0].TriggerTable)
	}
}

func TestSynthesizeOrphanTriggers_AllOwnersUnlinkedProducesNoTriggers(t *testing.T) {
	owned := &EntityDef{
		Name:       "Post",
		Owners:     []string{"Ghost"},
		Fields:     map[string]*FieldDef{"id": {Name: "id", Primary: true}},
		FieldOrder: []string{"id"},
	}
	triggers, err := SynthesizeOrphanTriggers(owned, NewRegistry())
	if err != nil {
		t.Fatalf("unlinked owner must not be fatal: %v", err)
	}
	if len(triggers) != 0 {
		t.Fatalf("expected no triggers when no owner is linked, got %d", len(triggers))
	}
}
