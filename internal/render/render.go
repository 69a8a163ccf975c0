// Package render turns a test summary into boilerplate test source. Each
// template variant is selected by Kind and is a pure function of the
// summary's file, its feature tag and the source file text.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
)

// Kind selects a template variant.
type Kind int

const (
	KindGeneric Kind = iota
	KindComponent
	KindScript
	KindPython
	KindJava
)

func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindScript:
		return "script"
	case KindPython:
		return "python"
	case KindJava:
		return "java"
	default:
		return "generic"
	}
}

// KindOf matches framework case-insensitively against the variants in
// priority order: component, script, python, java, then generic.
func KindOf(framework string) Kind {
	fw := strings.ToLower(framework)
	switch {
	case strings.Contains(fw, "jest") && strings.Contains(fw, "react"):
		return KindComponent
	case strings.Contains(fw, "jest"):
		return KindScript
	case strings.Contains(fw, "pytest"):
		return KindPython
	case strings.Contains(fw, "junit"):
		return KindJava
	default:
		return KindGeneric
	}
}

// BaseName is the last path segment with its extension stripped.
func BaseName(filePath string) string {
	base := path.Base(strings.TrimRight(filePath, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// FileName derives the output file name for a test of filePath.
func FileName(filePath, framework string) string {
	base := BaseName(filePath)
	if base == "" {
		base = "test"
	}
	fw := strings.ToLower(framework)
	switch {
	case strings.Contains(fw, "jest"):
		return base + ".test.js"
	case strings.Contains(fw, "pytest"):
		return "test_" + base + ".py"
	case strings.Contains(fw, "junit"):
		return base + "Test.java"
	default:
		return base + ".test.js"
	}
}

// Rendered is generated test source and the file it should be written to.
type Rendered struct {
	Code     string `json:"testCode"`
	FileName string `json:"fileName"`
	Kind     string `json:"kind"`
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("render").
	Funcs(template.FuncMap{"join": strings.Join}).
	ParseFS(templateFS, "templates/*.tmpl"))

var templateNames = map[Kind]string{
	KindComponent: "component.tmpl",
	KindScript:    "script.tmpl",
	KindPython:    "python.tmpl",
	KindJava:      "java.tmpl",
	KindGeneric:   "generic.tmpl",
}

// Input is everything a variant may interpolate.
type Input struct {
	Summary  analyzer.TestSummary
	Features map[string]bool
	Source   string
}

// Render produces test source for s. source is the text of the analyzed file and may
// be empty; only the script variant reads it.
func Render(s analyzer.TestSummary, source string) (*Rendered, error) {
	kind := KindOf(s.Framework)
	in := Input{Summary: s, Source: source, Features: map[string]bool{}}
	if tag := analyzer.TagOf(s); tag != "" {
		in.Features[tag] = true
	}
	code, err := Variant(kind, in)
	if err != nil {
		return nil, err
	}
	return &Rendered{Code: code, FileName: FileName(s.File, s.Framework), Kind: kind.String()}, nil
}

// Combine renders one file covering every summary in group. The summaries
// must share a file and a variant; their feature tags are merged so the
// variant emits each block once.
func Combine(group []analyzer.TestSummary, source string) (*Rendered, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("combine: no summaries")
	}
	first := group[0]
	kind := KindOf(first.Framework)
	in := Input{Summary: first, Source: source, Features: map[string]bool{}}
	for _, s := range group {
		if s.File != first.File {
			return nil, fmt.Errorf("combine: %s and %s are different files", first.File, s.File)
		}
		if k := KindOf(s.Framework); k != kind {
			return nil, fmt.Errorf("combine %s: %s and %s variants differ", first.File, kind, k)
		}
		if tag := analyzer.TagOf(s); tag != "" {
			in.Features[tag] = true
		}
	}
	code, err := Variant(kind, in)
	if err != nil {
		return nil, err
	}
	return &Rendered{Code: code, FileName: FileName(first.File, first.Framework), Kind: kind.String()}, nil
}

// Variant executes the template for kind.
func Variant(kind Kind, in Input) (string, error) {
	name, ok := templateNames[kind]
	if !ok {
		return "", fmt.Errorf("no template for kind %d", kind)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, newData(in)); err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return buf.String(), nil
}

type data struct {
	Name          string
	Ident         string
	ImportPath    string
	Module        string
	ClassName     string
	Instance      string
	Functions     []string
	FirstFunction string
	Title         string
	Framework     string
	Type          string
	features      map[string]bool
}

// Has reports whether the summary carries feature tag.
func (d data) Has(tag string) bool { return d.features[tag] }

func newData(in Input) data {
	file := in.Summary.File
	name := BaseName(file)
	if name == "" {
		name = "module"
	}
	stripped := strings.TrimSuffix(file, path.Ext(file))

	d := data{
		Name:       name,
		Ident:      identifier(name),
		ImportPath: "../" + strings.TrimPrefix(stripped, "/"),
		Module:     strings.ReplaceAll(strings.TrimPrefix(stripped, "/"), "/", "."),
		ClassName:  upperFirst(identifier(name)),
		Instance:   lowerFirst(identifier(name)),
		Functions:  ExportedFunctions(in.Source),
		Title:      in.Summary.Title,
		Framework:  in.Summary.Framework,
		Type:       string(in.Summary.Type),
		features:   in.Features,
	}
	if len(d.Functions) > 0 {
		d.FirstFunction = d.Functions[0]
	} else {
		d.FirstFunction = d.Ident + ".default"
	}
	return d
}

var exportedName = regexp.MustCompile(`export\s+(?:default\s+)?(?:async\s+)?(?:function\*?\s+(\w+)|const\s+(\w+)|let\s+(\w+))`)

// ExportedFunctions lists the names of exported functions and bindings in
// source order, without duplicates.
func ExportedFunctions(source string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range exportedName.FindAllStringSubmatch(source, -1) {
		for _, name := range m[1:] {
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func identifier(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "subject"
	}
	return b.String()
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
