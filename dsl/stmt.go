package dsl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/weaveql/weave"
)

var (
	headerRe  = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*:\s*$`)
	getRe     = regexp.MustCompile(`(?i)^Get\s+(?:a\s+|an\s+|the\s+)?([A-Za-z_][A-Za-z0-9_]*)\s+by\s+id\s+of\s+(\{[^}]*\})(?:\s+as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*$`)
	createRe  = regexp.MustCompile(`(?i)^Create\s+(?:a\s+|an\s+)?([A-Za-z_][A-Za-z0-9_]*)\s+with\s+(.*?)(?:\s+as\s+([A-Za-z_][A-Za-z0-9_]*))?\s*$`)
	updateRe  = regexp.MustCompile(`(?i)^Update\s+(?:the\s+)?([A-Za-z_][A-Za-z0-9_]*)\s+to\s+set\s+(.*)$`)
	setRe     = regexp.MustCompile(`(?i)^Set\s+\{([^}]*)\}\s*=\s*(.*)$`)
	ifRe      = regexp.MustCompile(`(?i)^If\s+(.*):\s*$`)
	forEachRe = regexp.MustCompile(`(?i)^For\s+Each\s+([A-Za-z_][A-Za-z0-9_]*)\s+in\s+(.*):\s*$`)
	returnRe  = regexp.MustCompile(`(?i)^return\s+(.*)$`)
)

// ParseParams splits a parameter list on commas that are not nested inside
// [...], then parses each as type:name(default).
func ParseParams(text string) ([]Param, error) {
	parts := splitRespectingBrackets(text, ',')
	var params []Param
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		param, err := parseOneParam(p)
		if err != nil {
			return nil, err
		}
		params = append(params, param)
	}
	return params, nil
}

func parseOneParam(text string) (Param, error) {
	colon := strings.Index(text, ":")
	if colon < 0 {
		return Param{}, weave.NewSchemaError("malformed parameter %q: missing ':'", text)
	}
	typePart := strings.TrimSpace(text[:colon])
	rest := strings.TrimSpace(text[colon+1:])

	name := rest
	var def string
	hasDefault := false
	if p := strings.Index(rest, "("); p >= 0 && strings.HasSuffix(rest, ")") {
		name = strings.TrimSpace(rest[:p])
		def = strings.TrimSpace(rest[p+1 : len(rest)-1])
		hasDefault = true
	}

	isList := false
	base := typePart
	var precision, scale, maxLen *int
	if strings.HasPrefix(strings.ToLower(typePart), "list") {
		isList = true
		if lb := strings.Index(typePart, "["); lb >= 0 {
			base = typePart[lb+1 : strings.LastIndex(typePart, "]")]
		}
	}

	var kind weave.Kind
	var target string
	lowerBase := strings.ToLower(base)
	baseName := lowerBase
	bracket := ""
	if lb := strings.Index(lowerBase, "["); lb >= 0 {
		baseName = lowerBase[:lb]
		bracket = base[lb+1 : strings.LastIndex(base, "]")]
	}
	switch baseName {
	case "number":
		kind = weave.KindNumber
		if bracket != "" {
			pieces := strings.SplitN(bracket, ".", 2)
			p, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
			if err == nil {
				precision = &p
			}
			if len(pieces) == 2 {
				s, err := strconv.Atoi(strings.TrimSpace(pieces[1]))
				if err == nil {
					scale = &s
				}
			}
		}
	case "str":
		kind = weave.KindString
		if bracket != "" {
			l, err := strconv.Atoi(strings.TrimSpace(bracket))
			if err == nil {
				maxLen = &l
			}
		}
	case "bool":
		kind = weave.KindBool
	case "datetime":
		kind = weave.KindDateTime
	default:
		if !isList {
			return Param{}, weave.NewSchemaError("unknown parameter type %q", typePart)
		}
		// List[Target]: base names an entity (e.g. "Tag"), not one of the
		// four primitive kinds, so it carries a Target instead of a Kind.
		target = base
	}

	return Param{
		Name: name, Kind: kind, Precision: precision, Scale: scale, MaxLen: maxLen,
		Default: def, HasDefault: hasDefault, IsList: isList, Target: target,
	}, nil
}

func splitRespectingBrackets(text string, sep rune) []string {
	var parts []string
	depth := 0
	var cur strings.Builder
	for _, c := range text {
		switch c {
		case '[':
			depth++
			cur.WriteRune(c)
		case ']':
			depth--
			cur.WriteRune(c)
		case sep:
			if depth == 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			} else {
				cur.WriteRune(c)
			}
		default:
			cur.WriteRune(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// ParseProcedure parses one transaction block: a header line followed by
// an indented statement body, using an indent-based scope stack.
func ParseProcedure(source string) (*Procedure, error) {
	lines := strings.Split(source, "\n")
	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) {
		return nil, weave.NewSchemaError("empty procedure source")
	}
	header := headerRe.FindStringSubmatch(strings.TrimSpace(lines[i]))
	if header == nil {
		return nil, weave.NewSchemaError("malformed procedure header %q", lines[i])
	}
	params, err := ParseParams(header[2])
	if err != nil {
		return nil, err
	}
	proc := &Procedure{Name: header[1], Params: params}
	i++

	type frame struct {
		indent int
		body   *[]*Stmt
	}
	stack := []frame{{indent: -1, body: &proc.Body}}

	for i < len(lines) {
		raw := lines[i]
		i++
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}
		indent := leadingWidth(raw)

		for len(stack) > 1 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}
		top := &stack[len(stack)-1]

		stmt, opensBlock, err := parseStmtLine(trimmed, indent)
		if err != nil {
			return nil, err
		}
		*top.body = append(*top.body, stmt)
		if opensBlock {
			stack = append(stack, frame{indent: indent, body: &stmt.Body})
		}
	}

	return proc, nil
}

func leadingWidth(s string) int {
	n := 0
	for _, c := range s {
		switch c {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func parseStmtLine(line string, indent int) (*Stmt, bool, error) {
	if m := getRe.FindStringSubmatch(line); m != nil {
		byID, err := ParseExpr(m[2])
		if err != nil {
			return nil, false, err
		}
		alias := m[3]
		if alias == "" {
			alias = m[1]
		}
		return &Stmt{Kind: StmtGet, Indent: indent, GetEntity: m[1], GetByID: byID, Alias: alias}, false, nil
	}
	if m := createRe.FindStringSubmatch(line); m != nil {
		assigns, err := parseAssignments(m[2], " and ")
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtCreate, Indent: indent, CreateEntity: m[1], CreateAssigns: assigns, CreateAlias: m[3]}, false, nil
	}
	if m := updateRe.FindStringSubmatch(line); m != nil {
		assigns, err := parseAssignments(m[2], ",")
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtUpdate, Indent: indent, UpdateAlias: m[1], UpdateAssigns: assigns}, false, nil
	}
	if m := setRe.FindStringSubmatch(line); m != nil {
		expr, err := ParseExpr(m[2])
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtSet, Indent: indent, SetVar: m[1], SetExpr: expr}, false, nil
	}
	if m := ifRe.FindStringSubmatch(line); m != nil {
		cond, err := ParseCondition(m[1])
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtIf, Indent: indent, Cond: cond}, true, nil
	}
	if m := forEachRe.FindStringSubmatch(line); m != nil {
		listExpr, err := ParseExpr(m[2])
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtForEach, Indent: indent, Item: m[1], ListExpr: listExpr}, true, nil
	}
	if m := returnRe.FindStringSubmatch(line); m != nil {
		expr, err := ParseExpr(m[1])
		if err != nil {
			return nil, false, err
		}
		return &Stmt{Kind: StmtReturn, Indent: indent, ReturnExpr: expr}, false, nil
	}
	return &Stmt{Kind: StmtExpr, Indent: indent, RawText: line}, false, nil
}

// parseAssignments splits a `FIELD of EXPR [sep FIELD of EXPR]*` (Create)
// or `FIELD = EXPR [, FIELD = EXPR]*` (Update) clause list.
func parseAssignments(text string, sep string) ([]Assignment, error) {
	var clauses []string
	if sep == "," {
		clauses = splitRespectingBrackets(text, ',')
	} else {
		clauses = strings.Split(text, sep)
	}
	var assigns []Assignment
	for _, c := range clauses {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		var field, exprText string
		if idx := strings.Index(c, " of "); idx >= 0 {
			field = strings.TrimSpace(c[:idx])
			exprText = strings.TrimSpace(c[idx+4:])
		} else if idx := strings.Index(c, "="); idx >= 0 {
			field = strings.TrimSpace(c[:idx])
			exprText = strings.TrimSpace(c[idx+1:])
		} else {
			return nil, weave.NewSchemaError("malformed assignment clause %q", c)
		}
		expr, err := ParseExpr(exprText)
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Field: field, Expr: expr})
	}
	return assigns, nil
}
