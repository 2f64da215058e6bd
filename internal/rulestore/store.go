package rulestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vmark.io/vmark-node/internal/xerr"
)

// Store is a mutex-guarded, JSON-backed set of rules. It is the single
// owner of forwarding_table.json; concurrent mutation from outside a
// Store is not supported.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store backed by path. The file is not read until Load.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the rule set from disk. A missing file yields an empty set,
// not an error.
func (s *Store) Load() ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]Rule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Rule{}, nil
		}
		return nil, xerr.Wrapf(err, xerr.KindIO, "read rule store %s", s.path)
	}
	if len(data) == 0 {
		return []Rule{}, nil
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, xerr.Wrapf(err, xerr.KindIO, "parse rule store %s", s.path)
	}
	return rules, nil
}

// Save writes rules to disk, replacing the file atomically: write a temp
// file in the same directory, then rename over the target so a concurrent
// reader never observes a partially-written file.
func (s *Store) Save(rules []Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(rules)
}

func (s *Store) saveLocked(rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return xerr.Wrap(err, xerr.KindInternal, "marshal rule store")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "create state dir %s", dir)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "write temp rule store %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return xerr.Wrapf(err, xerr.KindIO, "rename temp rule store into place")
	}
	return nil
}

// matchKey is the conflict-detection tuple: (in_interface, match_cvlan,
// match_svlan), with absent VLANs compared as null.
type matchKey struct {
	inInterface string
	cvlan       *uint16
	svlan       *uint16
}

func ruleMatchKey(r Rule) matchKey {
	return matchKey{inInterface: r.InInterface, cvlan: r.MatchCVLAN, svlan: r.MatchSVLAN}
}

func (a matchKey) equal(b matchKey) bool {
	return a.inInterface == b.inInterface && vlanEqual(a.cvlan, b.cvlan) && vlanEqual(a.svlan, b.svlan)
}

// DetectConflicts rejects a candidate rule that would duplicate an
// existing name or (in_interface, match_cvlan, match_svlan) tuple.
func DetectConflicts(existing []Rule, candidate Rule) error {
	for _, r := range existing {
		if r.Name == candidate.Name {
			return xerr.Errorf(xerr.KindConflict, "rule %q already exists", candidate.Name)
		}
		if ruleMatchKey(r).equal(ruleMatchKey(candidate)) {
			return xerr.Errorf(xerr.KindConflict, "a rule already matches in_interface=%s cvlan=%v svlan=%v",
				candidate.InInterface, vlanStr(candidate.MatchCVLAN), vlanStr(candidate.MatchSVLAN))
		}
	}
	return nil
}

func vlanStr(v *uint16) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *v)
}

// CreateRule validates no conflicts exist, appends r and its egress pair,
// and persists the result.
func (s *Store) CreateRule(r Rule) (Rule, Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.loadLocked()
	if err != nil {
		return Rule{}, Rule{}, err
	}

	if err := DetectConflicts(rules, r); err != nil {
		return Rule{}, Rule{}, err
	}
	egress := DeriveEgress(r)
	if err := DetectConflicts(rules, egress); err != nil {
		return Rule{}, Rule{}, err
	}

	rules = append(rules, r, egress)
	if err := s.saveLocked(rules); err != nil {
		return Rule{}, Rule{}, err
	}
	return r, egress, nil
}

// FindRule returns the rule named name, or a not-found error.
func FindRule(rules []Rule, name string) (Rule, error) {
	for _, r := range rules {
		if r.Name == name {
			return r, nil
		}
	}
	return Rule{}, xerr.Errorf(xerr.KindNotFound, "rule %q not found", name)
}

// RemoveByNames returns rules with any rule named in names removed.
func RemoveByNames(rules []Rule, names ...string) []Rule {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !skip[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

// SetActive returns rules with the Active flag of every rule named in names
// set to active (true or false).
func SetActive(rules []Rule, active bool, names ...string) []Rule {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if set[r.Name] {
			r.Active = active
		}
		out[i] = r
	}
	return out
}
