package factory

import "strings"

// splitProcedureBlocks scans source line-wise and extracts every
// transaction block: a `Name(params):` header followed by its indented
// body. A header is distinguished from a schema entity header (`Name {`
// or `Name (owners) {`) by ending in `:` rather than opening a `{` body.
func splitProcedureBlocks(source string) []string {
	lines := strings.Split(source, "\n")
	var blocks []string
	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if !isProcedureHeader(trimmed) {
			i++
			continue
		}
		start := i
		headerIndent := leadingWidth(lines[i])
		i++
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, "//") {
				i++
				continue
			}
			if leadingWidth(lines[i]) <= headerIndent {
				break
			}
			i++
		}
		blocks = append(blocks, strings.Join(lines[start:i], "\n"))
	}
	return blocks
}

func isProcedureHeader(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return false
	}
	return strings.Contains(line, "(") && strings.HasSuffix(line, ":")
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
