// Package classify assigns a two-level failure taxonomy to raw failure text
// using ordered regex pattern groups.
package classify

import (
	"errors"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reportstack/triage-engine/internal/models"
)

// Confidence weights per pattern group. These are calibration constants
// reflecting pattern specificity; keep the relative ordering when retuning.
const (
	confidenceEnvironment = 0.85
	confidenceAutomation  = 0.80
	confidenceTestData    = 0.75
	confidenceApplication = 0.70
	confidenceAssertion   = 0.60
	confidenceDefault     = 0.25
	confidenceFault       = 0.10
)

type subClassRule struct {
	name    string
	pattern *regexp.Regexp
}

type classGroup struct {
	class      models.PrimaryClass
	confidence float64
	patterns   []*regexp.Regexp
	subClasses []subClassRule
	defaultSub string
}

// Classifier evaluates pattern groups in strict priority order; the first
// matching group wins and later groups are not considered.
type Classifier struct {
	groups []classGroup
	logger *slog.Logger
}

// PatternPack is the optional YAML extension format. Packs append sub-class
// rules to a built-in class; they cannot change class priority or weights.
type PatternPack struct {
	Classes []PatternPackClass `yaml:"classes"`
}

// PatternPackClass names a built-in class and the sub-class rules to append.
type PatternPackClass struct {
	Class      string             `yaml:"class"`
	SubClasses []PatternPackEntry `yaml:"subclasses"`
}

// PatternPackEntry is one additional sub-class rule.
type PatternPackEntry struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// NewClassifier builds a classifier with the built-in pattern groups,
// optionally extended by a YAML pattern pack. A missing pack file is not an
// error; the built-in groups are used as-is.
func NewClassifier(packPath string, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{groups: builtinGroups(), logger: logger}

	if packPath != "" {
		data, err := os.ReadFile(packPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else {
			var pack PatternPack
			if err := yaml.Unmarshal(data, &pack); err != nil {
				return nil, err
			}
			if err := c.applyPack(pack); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Classifier) applyPack(pack PatternPack) error {
	for _, pc := range pack.Classes {
		for gi := range c.groups {
			if string(c.groups[gi].class) != pc.Class {
				continue
			}
			for _, entry := range pc.SubClasses {
				re, err := regexp.Compile(entry.Pattern)
				if err != nil {
					return err
				}
				c.groups[gi].subClasses = append(c.groups[gi].subClasses, subClassRule{name: entry.Name, pattern: re})
			}
		}
	}
	return nil
}

// Classify assigns a primary class, sub-class, and confidence for the given
// failure text. It never panics: an unexpected fault during matching yields a
// low-confidence ApplicationDefect so one bad record cannot abort a batch.
func (c *Classifier) Classify(errorText, stackTrace string) (result models.Classification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("classification fault", slog.Any("panic", r))
			result = models.Classification{
				PrimaryClass: models.ClassApplicationDefect,
				SubClass:     "Classification Error",
				Confidence:   confidenceFault,
				ClassifiedAt: time.Now().UTC(),
			}
		}
	}()

	buffer := strings.ToLower(errorText + " " + stackTrace)

	for _, group := range c.groups {
		if !matchesAny(group.patterns, buffer) {
			continue
		}
		return models.Classification{
			PrimaryClass: group.class,
			SubClass:     subClassFor(group, buffer),
			Confidence:   group.confidence,
			ClassifiedAt: time.Now().UTC(),
		}
	}

	return models.Classification{
		PrimaryClass: models.ClassUnknown,
		SubClass:     "Unclassified",
		Confidence:   confidenceDefault,
		ClassifiedAt: time.Now().UTC(),
	}
}

func matchesAny(patterns []*regexp.Regexp, buffer string) bool {
	for _, p := range patterns {
		if p.MatchString(buffer) {
			return true
		}
	}
	return false
}

func subClassFor(group classGroup, buffer string) string {
	for _, rule := range group.subClasses {
		if rule.pattern.MatchString(buffer) {
			return rule.name
		}
	}
	return group.defaultSub
}

func builtinGroups() []classGroup {
	return []classGroup{
		{
			class:      models.ClassEnvironmentIssue,
			confidence: confidenceEnvironment,
			patterns: compileAll(
				`connection refused`,
				`econnrefused`,
				`getaddrinfo`,
				`dns`,
				`ssl|certificate`,
				`grid`,
				`node is (down|not available)`,
				`no route to host`,
				`network is unreachable`,
				`clock skew|time sync`,
				`tunnel`,
			),
			subClasses: []subClassRule{
				{name: "Connection_Refused", pattern: regexp.MustCompile(`connection refused|econnrefused`)},
				{name: "DNS_Failure", pattern: regexp.MustCompile(`dns|getaddrinfo`)},
				{name: "SSL_Certificate", pattern: regexp.MustCompile(`ssl|certificate`)},
				{name: "Grid_Node_Down", pattern: regexp.MustCompile(`grid|node is (down|not available)`)},
				{name: "Time_Sync", pattern: regexp.MustCompile(`clock skew|time sync`)},
			},
			defaultSub: "Infrastructure",
		},
		{
			class:      models.ClassAutomationScriptError,
			confidence: confidenceAutomation,
			patterns: compileAll(
				`timeout waiting`,
				`wait(ing)? timed out`,
				`no such element`,
				`element.*not (found|visible|interactable)`,
				`stale element`,
				`locator|selector`,
				`webdriver`,
				`is not a function`,
				`nullpointerexception`,
				`typeerror|referenceerror`,
			),
			subClasses: []subClassRule{
				{name: "Wait_Timeout", pattern: regexp.MustCompile(`timeout waiting|wait(ing)? timed out`)},
				{name: "Locator_Failure", pattern: regexp.MustCompile(`no such element|element.*not (found|visible|interactable)|locator|selector`)},
				{name: "Stale_Element", pattern: regexp.MustCompile(`stale element`)},
				{name: "WebDriver_Error", pattern: regexp.MustCompile(`webdriver`)},
				{name: "Script_Defect", pattern: regexp.MustCompile(`is not a function|nullpointerexception|typeerror|referenceerror`)},
			},
			defaultSub: "Automation_General",
		},
		{
			class:      models.ClassTestDataIssue,
			confidence: confidenceTestData,
			patterns: compileAll(
				`test data`,
				`fixture`,
				`seed`,
				`no rows? (found|returned)`,
				`unique constraint`,
				`duplicate (entry|key)`,
				`foreign key`,
				`invalid credentials`,
				`account (locked|expired)`,
			),
			subClasses: []subClassRule{
				{name: "Missing_Fixture", pattern: regexp.MustCompile(`fixture|seed|no rows? (found|returned)`)},
				{name: "Constraint_Violation", pattern: regexp.MustCompile(`unique constraint|duplicate (entry|key)|foreign key`)},
				{name: "Credential_Issue", pattern: regexp.MustCompile(`invalid credentials|account (locked|expired)`)},
			},
			defaultSub: "Test_Data_General",
		},
		{
			class:      models.ClassApplicationDefect,
			confidence: confidenceApplication,
			patterns: compileAll(
				`internal server error`,
				`status( code)? 5\d\d`,
				`http 5\d\d`,
				`unhandled exception`,
				`stack overflow`,
				`out ?of ?memory`,
				`sql (error|exception)`,
				`database error`,
			),
			subClasses: []subClassRule{
				{name: "Server_Error", pattern: regexp.MustCompile(`internal server error|status( code)? 5\d\d|http 5\d\d`)},
				{name: "Database_Error", pattern: regexp.MustCompile(`sql (error|exception)|database error`)},
				{name: "Memory_Error", pattern: regexp.MustCompile(`stack overflow|out ?of ?memory`)},
				{name: "Unhandled_Exception", pattern: regexp.MustCompile(`unhandled exception`)},
			},
			defaultSub: "Application_General",
		},
		{
			class:      models.ClassUnknown,
			confidence: confidenceAssertion,
			patterns: compileAll(
				`assert`,
				`expected .* (but|to)`,
				`should (be|have|equal)`,
				`comparison failure`,
				`mismatch`,
			),
			subClasses: nil,
			defaultSub: "Assertion_Failure",
		},
	}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(expr))
	}
	return out
}
