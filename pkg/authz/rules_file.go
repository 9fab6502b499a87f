package authz

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk ruleset format. Each rule declares either a
// single trigger or an all_of group, plus the permissions it implies.
type RulesFile struct {
	Version string          `yaml:"version"`
	Rules   []RulesFileRule `yaml:"rules"`
}

// RulesFileRule is one dependency rule entry
type RulesFileRule struct {
	Trigger  string   `yaml:"trigger,omitempty"`
	AllOf    []string `yaml:"all_of,omitempty"`
	Implies  []string `yaml:"implies"`
	Priority int      `yaml:"priority"`
}

// LoadRulesFile reads and validates a YAML ruleset. The returned graph is
// already cycle-checked; a cyclic file never reaches the resolver.
func LoadRulesFile(path string) (*RuleGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset %s: %w", path, err)
	}

	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ruleset %s: %w", path, err)
	}

	rules, err := file.toRules()
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", path, err)
	}

	graph, err := NewRuleGraph(rules)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", path, err)
	}
	return graph, nil
}

// toRules converts file entries into DependencyRules, rejecting malformed
// permission strings up front.
func (f *RulesFile) toRules() ([]DependencyRule, error) {
	rules := make([]DependencyRule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		if fr.Trigger == "" && len(fr.AllOf) == 0 {
			return nil, fmt.Errorf("rule %d: trigger or all_of is required", i)
		}
		if fr.Trigger != "" && len(fr.AllOf) > 0 {
			return nil, fmt.Errorf("rule %d: trigger and all_of are mutually exclusive", i)
		}
		if len(fr.Implies) == 0 {
			return nil, fmt.Errorf("rule %d: implies must not be empty", i)
		}

		r := DependencyRule{Priority: fr.Priority}
		if fr.Trigger != "" {
			p, err := parsePermissionString(fr.Trigger)
			if err != nil {
				return nil, fmt.Errorf("rule %d trigger: %w", i, err)
			}
			r.Trigger = p
		}
		for _, s := range fr.AllOf {
			p, err := parsePermissionString(s)
			if err != nil {
				return nil, fmt.Errorf("rule %d all_of: %w", i, err)
			}
			r.AllOf = append(r.AllOf, p)
		}
		for _, s := range fr.Implies {
			p, err := parsePermissionString(s)
			if err != nil {
				return nil, fmt.Errorf("rule %d implies: %w", i, err)
			}
			r.Implies = append(r.Implies, p)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// RulesWatcher reloads the ruleset when the file changes, swapping the
// validated graph into the resolver. An invalid edit keeps the previous
// graph in service.
type RulesWatcher struct {
	path     string
	resolver *Resolver
	log      *logrus.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewRulesWatcher starts watching the ruleset file's directory. Watching
// the directory rather than the file itself survives editors that replace
// the file on save.
func NewRulesWatcher(path string, resolver *Resolver, log *logrus.Logger) (*RulesWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create ruleset watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &RulesWatcher{
		path:     path,
		resolver: resolver,
		log:      log,
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher
func (w *RulesWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *RulesWatcher) run() {
	// Debounce bursts of write events from a single save.
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("ruleset watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *RulesWatcher) reload() {
	graph, err := LoadRulesFile(w.path)
	if err != nil {
		w.log.WithError(err).WithField("path", w.path).
			Error("ruleset reload failed, keeping previous rules")
		return
	}
	w.resolver.SetRuleGraph(graph)
	w.log.WithFields(logrus.Fields{
		"path":  w.path,
		"rules": graph.Len(),
	}).Info("ruleset reloaded")
}
