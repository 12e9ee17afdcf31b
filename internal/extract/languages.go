package extract

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Spec is the tagged variant for one language: its grammar, the node types
// that count as a class-like declaration versus a function/method
// declaration, and the field names tried (in order) to pull a name out of a
// matched node. Adding a language means adding one Spec, never touching the
// extractor itself.
type Spec struct {
	Language   *sitter.Language
	Name       string
	ClassTypes []string
	FuncTypes  []string
	NameFields []string
}

var specs = map[string]*Spec{
	"python": {
		Language:   python.GetLanguage(),
		Name:       "python",
		ClassTypes: []string{"class_definition"},
		FuncTypes:  []string{"function_definition"},
		NameFields: []string{"name"},
	},
	"java": {
		Language:   java.GetLanguage(),
		Name:       "java",
		ClassTypes: []string{"class_declaration", "interface_declaration"},
		FuncTypes:  []string{"method_declaration", "constructor_declaration"},
		NameFields: []string{"name"},
	},
	"typescript": {
		Language:   typescript.GetLanguage(),
		Name:       "typescript",
		ClassTypes: []string{"class_declaration"},
		FuncTypes:  []string{"function_declaration", "method_definition"},
		NameFields: []string{"name"},
	},
	"tsx": {
		Language:   tsx.GetLanguage(),
		Name:       "tsx",
		ClassTypes: []string{"class_declaration"},
		FuncTypes:  []string{"function_declaration", "method_definition"},
		NameFields: []string{"name"},
	},
	"javascript": {
		Language:   javascript.GetLanguage(),
		Name:       "javascript",
		ClassTypes: []string{"class_declaration"},
		FuncTypes:  []string{"function_declaration", "method_definition"},
		NameFields: []string{"name"},
	},
	"go": {
		Language:   golang.GetLanguage(),
		Name:       "go",
		ClassTypes: []string{"type_declaration"},
		FuncTypes:  []string{"function_declaration", "method_declaration"},
		NameFields: []string{"name"},
	},
	"rust": {
		Language:   rust.GetLanguage(),
		Name:       "rust",
		ClassTypes: []string{"struct_item", "impl_item", "trait_item"},
		FuncTypes:  []string{"function_item"},
		NameFields: []string{"name"},
	},
	"c": {
		Language:   c.GetLanguage(),
		Name:       "c",
		ClassTypes: []string{"struct_specifier"},
		FuncTypes:  []string{"function_definition"},
		NameFields: []string{"declarator", "name"},
	},
	"cpp": {
		Language:   cpp.GetLanguage(),
		Name:       "cpp",
		ClassTypes: []string{"class_specifier", "struct_specifier"},
		FuncTypes:  []string{"function_definition"},
		NameFields: []string{"declarator", "name"},
	},
	"ruby": {
		Language:   ruby.GetLanguage(),
		Name:       "ruby",
		ClassTypes: []string{"class", "module"},
		FuncTypes:  []string{"method", "singleton_method"},
		NameFields: []string{"name"},
	},
}

var extToLang = map[string]string{
	".py":   "python",
	".java": "java",
	".ts":   "typescript",
	".tsx":  "tsx",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".go":   "go",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".hxx":  "cpp",
	".rb":   "ruby",
}

// specForPath returns the Spec for path's extension, or nil if unsupported.
func specForPath(path string) *Spec {
	ext := strings.ToLower(filepath.Ext(path))
	name, ok := extToLang[ext]
	if !ok {
		return nil
	}
	return specs[name]
}

// Supported reports whether path's extension has a structural parser.
func Supported(path string) bool {
	return specForPath(path) != nil
}
