// Package extract implements the Function Extractor (C3): per-language
// structural extraction of function/method units with owning class and line
// span, via tree-sitter grammars, falling back to a brace-balancing scanner
// for languages without a registered grammar.
package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Record is a function record before the caller stamps its File field (the
// extractor itself is agnostic to where the bytes came from).
type Record struct {
	Name      string
	Code      string
	Lineno    int
	EndLineno int
	ClassName string
	Docstring string
}

// span is an internal bookkeeping type for a matched class or function node.
type span struct {
	name                         string
	startByte, endByte           int
	startLine, endLine           int
	node                         *sitter.Node
}

// File extracts function records from content. It dispatches on path's
// extension; unsupported extensions use the fallback scanner.
func File(ctx context.Context, path string, content []byte) ([]Record, error) {
	spec := specForPath(path)
	if spec == nil {
		return fallbackExtract(content), nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	classTypeSet := toSet(spec.ClassTypes)
	funcTypeSet := toSet(spec.FuncTypes)

	classes := collectSpans(tree.RootNode(), classTypeSet, content, spec.NameFields, false)
	funcs := collectSpans(tree.RootNode(), funcTypeSet, content, spec.NameFields, true)

	// Innermost containment: try narrowest class spans first.
	sort.SliceStable(classes, func(i, j int) bool {
		return (classes[i].endByte - classes[i].startByte) < (classes[j].endByte - classes[j].startByte)
	})

	var jsdocs []jsdocBlock
	if spec.Name == "typescript" || spec.Name == "tsx" || spec.Name == "javascript" {
		jsdocs = findJSDocs(content)
	}

	records := make([]Record, 0, len(funcs))
	for _, fn := range funcs {
		name := fn.name
		if name == "" {
			name = "<anonymous>"
		}
		rec := Record{
			Name:      name,
			Code:      string(content[fn.startByte:fn.endByte]),
			Lineno:    fn.startLine,
			EndLineno: fn.endLine,
		}
		for _, cls := range classes {
			if cls.startLine <= fn.startLine && fn.startLine <= cls.endLine {
				rec.ClassName = cls.name
				break
			}
		}
		switch spec.Name {
		case "python":
			rec.Docstring = pythonDocstring(fn.node, content)
		case "typescript", "tsx", "javascript":
			rec.Docstring = nearestJSDoc(jsdocs, fn.startByte)
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Lineno < records[j].Lineno })
	return records, nil
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

// collectSpans walks the whole tree (never stopping at a match) so that
// nested functions-in-classes and nested classes are both found. When
// requireBody is set, a matching node with no "body" field is skipped: Java's
// method_declaration, for one, covers both concrete methods and bodyless
// interface/abstract signatures, and only the former are function units.
func collectSpans(root *sitter.Node, types map[string]bool, content []byte, nameFields []string, requireBody bool) []span {
	var out []span
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if types[n.Type()] && (!requireBody || n.ChildByFieldName("body") != nil) {
			startLine := int(n.StartPoint().Row) + 1
			endLine := int(n.EndPoint().Row) + 1
			if n.EndPoint().Column == 0 && endLine > startLine {
				endLine--
			}
			out = append(out, span{
				name:      extractName(n, content, nameFields),
				startByte: int(n.StartByte()),
				endByte:   int(n.EndByte()),
				startLine: startLine,
				endLine:   endLine,
				node:      n,
			})
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

// extractName tries each configured field name in order, falling back to
// the first identifier-shaped child. A configured field is also searched one
// level down, to resolve nested declarators (C/C++ function names live under
// a declarator node).
func extractName(n *sitter.Node, content []byte, fields []string) string {
	for _, field := range fields {
		if nameNode := n.ChildByFieldName(field); nameNode != nil {
			if name := identifierIn(nameNode, content); name != "" {
				return name
			}
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "identifier", "property_identifier", "private_property_identifier", "field_identifier", "constant":
			return string(content[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

// identifierIn returns n's own text if it already is an identifier-shaped
// node, otherwise searches one level of children (handles C/C++ declarators
// like `int foo(int x)` where the name is nested under the declarator).
func identifierIn(n *sitter.Node, content []byte) string {
	switch n.Type() {
	case "identifier", "property_identifier", "private_property_identifier", "field_identifier", "type_identifier", "constant":
		return string(content[n.StartByte():n.EndByte()])
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "identifier", "field_identifier", "property_identifier":
			return string(content[child.StartByte():child.EndByte()])
		}
	}
	return ""
}

func pythonDocstring(n *sitter.Node, content []byte) string {
	body := n.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Type() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	strNode := first.Child(0)
	if strNode.Type() != "string" {
		return ""
	}
	text := string(content[strNode.StartByte():strNode.EndByte()])
	text = strings.TrimPrefix(text, `"""`)
	text = strings.TrimSuffix(text, `"""`)
	text = strings.TrimPrefix(text, "'''")
	text = strings.TrimSuffix(text, "'''")
	text = strings.Trim(text, `"'`)
	return strings.TrimSpace(text)
}

type jsdocBlock struct {
	start, end int
	text       string
}

var jsdocPattern = regexp.MustCompile(`(?s)/\*\*.*?\*/`)

func findJSDocs(content []byte) []jsdocBlock {
	locs := jsdocPattern.FindAllIndex(content, -1)
	blocks := make([]jsdocBlock, 0, len(locs))
	for _, loc := range locs {
		blocks = append(blocks, jsdocBlock{start: loc[0], end: loc[1], text: string(content[loc[0]:loc[1]])})
	}
	return blocks
}

var jsdocLinePrefix = regexp.MustCompile(`(?m)^[ \t]*\*[ \t]?`)

// nearestJSDoc returns the closest preceding JSDoc block's cleaned content,
// or "" if none precedes funcStartByte.
func nearestJSDoc(blocks []jsdocBlock, funcStartByte int) string {
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].end <= funcStartByte {
			inner := strings.TrimSuffix(strings.TrimPrefix(blocks[i].text, "/**"), "*/")
			inner = jsdocLinePrefix.ReplaceAllString(inner, "")
			return strings.TrimSpace(inner)
		}
	}
	return ""
}
