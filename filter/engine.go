package filter

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Engine evaluates an ordered rule list against paths. Rules are consulted
// in insertion order and the first match decides: include keeps the path,
// exclude drops it. A path matching no rule is kept.
type Engine struct {
	// rules is the ordered rule list.
	rules []Rule
}

// NewEngine creates an empty filter engine.
func NewEngine() *Engine {
	return &Engine{}
}

// AddInclude appends an include rule.
func (e *Engine) AddInclude(pattern string) error {
	return e.add(pattern, PolarityInclude)
}

// AddExclude appends an exclude rule.
func (e *Engine) AddExclude(pattern string) error {
	return e.add(pattern, PolarityExclude)
}

func (e *Engine) add(pattern string, polarity Polarity) error {
	rule, err := NewRule(pattern, polarity)
	if err != nil {
		return err
	}
	e.rules = append(e.rules, rule)
	return nil
}

// AddIncludeFile appends include rules read from a rule file.
func (e *Engine) AddIncludeFile(path string) error {
	return e.addFromFile(path, PolarityInclude)
}

// AddExcludeFile appends exclude rules read from a rule file.
func (e *Engine) AddExcludeFile(path string) error {
	return e.addFromFile(path, PolarityExclude)
}

// addFromFile reads one pattern per line, ignoring blank lines and lines
// starting with '#'.
func (e *Engine) addFromFile(path string, polarity Polarity) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "unable to open rule file")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := e.add(line, polarity); err != nil {
			return errors.Wrapf(err, "unable to add rule from %s", path)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "unable to read rule file")
	}

	// Success.
	return nil
}

// ShouldInclude evaluates a slash-separated relative path against the rule
// list.
func (e *Engine) ShouldInclude(path string) bool {
	for _, rule := range e.rules {
		if rule.Matches(path) {
			return rule.Polarity == PolarityInclude
		}
	}
	return true
}

// Len returns the number of loaded rules.
func (e *Engine) Len() int {
	return len(e.rules)
}
