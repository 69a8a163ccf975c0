// Package analyzer flags coarse features in source text and turns them into
// test-case summaries. Detection is substring and regular-expression matching
// only; nothing here parses the language.
package analyzer

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Family groups extensions that share a set of feature checks.
type Family string

const (
	FamilyNone      Family = ""
	FamilyComponent Family = "component"
	FamilyScript    Family = "script"
	FamilyPython    Family = "python"
	FamilyJava      Family = "java"
)

// Kind is the scope of a proposed test.
type Kind string

const (
	KindUnit        Kind = "unit"
	KindIntegration Kind = "integration"
	KindE2E         Kind = "e2e"
)

// Priority ranks proposed tests.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// BaselineTag marks the summary emitted when no feature of a family matched.
const BaselineTag = "core"

// File is the input to Analyze. Name defaults to the last segment of Path.
type File struct {
	Path    string `json:"path"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
}

// TestSummary describes one proposed test case. ID is "<path>-<tag>" and is
// unique per file per detected feature.
type TestSummary struct {
	ID          string   `json:"id" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Framework   string   `json:"framework" validate:"required"`
	Type        Kind     `json:"type"`
	File        string   `json:"file" validate:"required"`
	Priority    Priority `json:"priority"`
	Tag         string   `json:"tag,omitempty"`
}

type feature struct {
	tag         string
	title       string
	description string
	framework   string
	kind        Kind
	priority    Priority
	match       func(content string) bool
}

type family struct {
	features []feature
	baseline *feature // nil when the first feature always matches
}

var (
	propsPattern  = regexp.MustCompile(`\w+:\s*\w+`)
	eventPattern  = regexp.MustCompile(`on\w+=`)
	exportPattern = regexp.MustCompile(`export\s+(?:default\s+)?(?:async\s+)?(function\*?\s+\w+|const\s+\w+|let\s+\w+|class\s+\w+)`)
)

func always(string) bool { return true }

func containsAny(subs ...string) func(string) bool {
	return func(content string) bool {
		for _, s := range subs {
			if strings.Contains(content, s) {
				return true
			}
		}
		return false
	}
}

const (
	frameworkReact    = "Jest + React Testing Library"
	frameworkJest     = "Jest"
	frameworkJestMSW  = "Jest + MSW"
	frameworkPytest   = "pytest"
	frameworkRequests = "pytest + requests-mock"
	frameworkSelenium = "pytest + Selenium"
	frameworkJUnit    = "JUnit 5"
	frameworkSpring   = "JUnit 5 + Spring Test"
)

var families = map[Family]family{
	FamilyComponent: {
		features: []feature{
			{"render", "%s - Render Test", "Test that %s renders without crashing and displays expected content", frameworkReact, KindUnit, PriorityHigh, always},
			{"props", "%s - Props Test", "Test %s with different prop combinations and edge cases", frameworkReact, KindUnit, PriorityHigh, func(c string) bool {
				return strings.Contains(c, "props") || propsPattern.MatchString(c)
			}},
			{"state", "%s - State Management Test", "Test state updates and re-rendering of %s driven by useState hooks", frameworkReact, KindUnit, PriorityMedium, containsAny("useState")},
			{"events", "%s - Event Handling Test", "Test user interactions and event handlers of %s (clicks, form submissions)", frameworkReact, KindIntegration, PriorityHigh, eventPattern.MatchString},
			{"effects", "%s - Side Effects Test", "Test useEffect hooks in %s, including API calls and cleanup", frameworkReact, KindIntegration, PriorityMedium, containsAny("useEffect")},
		},
	},
	FamilyScript: {
		features: []feature{
			{"functions", "%s - Function Tests", "Test the functions exported by %s with various inputs and edge cases", frameworkJest, KindUnit, PriorityHigh, exportPattern.MatchString},
			{"async", "%s - Async Operations Test", "Test asynchronous code in %s, promises and error handling", frameworkJest, KindIntegration, PriorityHigh, containsAny("async", "await")},
			{"api", "%s - API Integration Test", "Test network requests made by %s and response handling", frameworkJestMSW, KindIntegration, PriorityMedium, containsAny("fetch", "axios", "http")},
		},
		baseline: &feature{BaselineTag, "%s - Core Behavior Test", "Test that %s loads and exposes its expected behavior", frameworkJest, KindUnit, PriorityLow, always},
	},
	FamilyPython: {
		features: []feature{
			{"functions", "%s - Function Tests", "Test the functions in %s with the pytest framework", frameworkPytest, KindUnit, PriorityHigh, containsAny("def ")},
			{"classes", "%s - Class Tests", "Test class methods, initialization and inheritance in %s", frameworkPytest, KindUnit, PriorityHigh, containsAny("class ")},
			{"requests", "%s - HTTP Client Tests", "Test outbound HTTP calls made by %s against mocked responses", frameworkRequests, KindIntegration, PriorityMedium, containsAny("requests", "urllib", "httpx")},
			{"selenium", "%s - Selenium Tests", "Test web automation and browser interactions driven by %s", frameworkSelenium, KindE2E, PriorityMedium, containsAny("selenium", "webdriver")},
		},
		baseline: &feature{BaselineTag, "%s - Core Behavior Test", "Test that %s imports cleanly and behaves as expected", frameworkPytest, KindUnit, PriorityLow, always},
	},
	FamilyJava: {
		features: []feature{
			{"junit", "%s - JUnit Tests", "Test the methods and business logic of %s", frameworkJUnit, KindUnit, PriorityHigh, func(c string) bool {
				return strings.Contains(c, "class ") && containsAny("public ", "private ")(c)
			}},
			{"spring", "%s - Spring Integration Tests", "Test %s as a Spring component and its web layer", frameworkSpring, KindIntegration, PriorityMedium, containsAny("@Controller", "@RestController", "@Service", "@Component", "@Repository")},
		},
		baseline: &feature{BaselineTag, "%s - Core Behavior Test", "Test that %s can be constructed and used", frameworkJUnit, KindUnit, PriorityLow, always},
	},
}

// FamilyFor maps a file extension, with or without the leading dot, to its
// family. Unknown extensions map to FamilyNone.
func FamilyFor(ext string) Family {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "tsx", "jsx":
		return FamilyComponent
	case "ts", "js":
		return FamilyScript
	case "py":
		return FamilyPython
	case "java":
		return FamilyJava
	default:
		return FamilyNone
	}
}

// Analyze returns one summary per feature detected in f, in the family's
// declared feature order. Files of an unknown family yield nil. The result
// depends only on f.
func Analyze(f File) []TestSummary {
	name := f.Name
	if name == "" {
		name = path.Base(f.Path)
	}
	fam, ok := families[FamilyFor(path.Ext(name))]
	if !ok {
		return nil
	}
	base := strings.TrimSuffix(name, path.Ext(name))

	var out []TestSummary
	for _, ft := range fam.features {
		if ft.match(f.Content) {
			out = append(out, ft.summary(f.Path, base))
		}
	}
	if len(out) == 0 && fam.baseline != nil {
		out = append(out, fam.baseline.summary(f.Path, base))
	}
	return out
}

func (ft feature) summary(filePath, base string) TestSummary {
	return TestSummary{
		ID:          filePath + "-" + ft.tag,
		Title:       fmt.Sprintf(ft.title, base),
		Description: fmt.Sprintf(ft.description, base),
		Framework:   ft.framework,
		Type:        ft.kind,
		File:        filePath,
		Priority:    ft.priority,
		Tag:         ft.tag,
	}
}

// TagOf returns the feature tag of s, falling back to the suffix of its ID
// for summaries that arrive without one.
func TagOf(s TestSummary) string {
	if s.Tag != "" {
		return s.Tag
	}
	if s.File != "" && strings.HasPrefix(s.ID, s.File+"-") {
		return strings.TrimPrefix(s.ID, s.File+"-")
	}
	if i := strings.LastIndex(s.ID, "-"); i >= 0 {
		return s.ID[i+1:]
	}
	return ""
}

// Dedupe removes summaries with repeated IDs, keeping the first.
func Dedupe(summaries []TestSummary) []TestSummary {
	seen := make(map[string]struct{}, len(summaries))
	out := summaries[:0:0]
	for _, s := range summaries {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}
