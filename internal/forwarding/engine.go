// Package forwarding implements the five forwarding verbs and the map
// rebuild / startup reconciliation algorithms that keep the kernel's XDP
// forwarding table converged with the rule store's intent.
package forwarding

import (
	"vmark.io/vmark-node/internal/datapath"
	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/metrics"
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/validation"
	"vmark.io/vmark-node/internal/xdpmap"
	"vmark.io/vmark-node/internal/xerr"
)

// datapathDriver is the subset of *datapath.Driver the engine needs,
// narrowed to an interface so tests can substitute a fake instead of a
// live kernel.
type datapathDriver interface {
	Attach(parent string) error
	Detach(parent string) error
	IsAttached(parent string) (bool, error)
	PutRule(parent string, key xdpmap.Key, value xdpmap.Value) error
	DeleteRule(parent string, key xdpmap.Key) error
	ListKeys(parent string) ([]xdpmap.Key, error)
	ClearMap(parent string) error
}

// Engine wires the rule store to the datapath driver: it is the only
// component that ever writes a forwarding map.
type Engine struct {
	store   *rulestore.Store
	driver  datapathDriver
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEngine returns an Engine backed by store and driver.
func NewEngine(store *rulestore.Store, driver *datapath.Driver, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Engine{store: store, driver: driver, logger: logger.WithComponent("forwarding")}
}

// SetMetrics injects the collector the engine reports rule and map-rebuild
// counts to. Optional: an Engine with no metrics set simply skips recording.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Engine) countRulesActive(rules []rulestore.Rule) {
	if e.metrics == nil {
		return
	}
	active := 0
	for _, r := range rules {
		if r.Active {
			active++
		}
	}
	e.metrics.RulesActive.Set(float64(active))
}

func validateRule(r rulestore.Rule) error {
	if r.Name == "" {
		return xerr.New(xerr.KindValidation, "rule name cannot be empty")
	}
	if rulestore.IsEgress(r.Name) {
		return xerr.Errorf(xerr.KindValidation, "rule name %q is reserved for derived egress rules", r.Name)
	}
	if err := validation.ValidateInterfaceName(r.InInterface); err != nil {
		return err
	}
	if err := validation.ValidateInterfaceName(r.OutInterface); err != nil {
		return err
	}
	for _, v := range []*uint16{r.MatchCVLAN, r.MatchSVLAN, r.PushCVLAN, r.PushSVLAN} {
		if v != nil {
			if err := validation.ValidateVLAN(int(*v)); err != nil {
				return err
			}
		}
	}
	if r.PopTags > 2 {
		return xerr.Errorf(xerr.KindValidation, "pop_tags must be 0, 1 or 2, got %d", r.PopTags)
	}
	return nil
}

// CreateRule validates fields, detects conflicts against both the rule
// and its derived egress pair, and persists both. No map change: a
// created rule starts inactive.
func (e *Engine) CreateRule(r rulestore.Rule) (rulestore.Rule, rulestore.Rule, error) {
	if err := validateRule(r); err != nil {
		return rulestore.Rule{}, rulestore.Rule{}, err
	}
	r.Active = false
	ingress, egress, err := e.store.CreateRule(r)
	if err != nil {
		return rulestore.Rule{}, rulestore.Rule{}, err
	}
	e.logger.Info("rule created", "name", ingress.Name)
	return ingress, egress, nil
}

// DeleteRule removes name and its egress pair. Fails if either half is
// active: an active rule must be disabled first. Rebuilds the map for
// every parent affected by the removal.
func (e *Engine) DeleteRule(name string) error {
	rules, err := e.store.Load()
	if err != nil {
		return err
	}

	r, err := rulestore.FindRule(rules, name)
	if err != nil {
		return err
	}
	pairName := rulestore.PairName(name)
	pair, pairErr := rulestore.FindRule(rules, pairName)

	if r.Active || (pairErr == nil && pair.Active) {
		return xerr.Errorf(xerr.KindConflict, "rule %q is active; disable it before deleting", name)
	}

	parents := parentSet(e.interfaceParent(r.InInterface))
	if pairErr == nil {
		parents = append(parents, e.interfaceParent(pair.InInterface))
	}

	rules = rulestore.RemoveByNames(rules, name, pairName)
	if err := e.store.Save(rules); err != nil {
		return err
	}

	for _, parent := range dedupe(parents) {
		if err := e.rebuildMap(parent, rules); err != nil {
			return err
		}
	}
	e.logger.Info("rule deleted", "name", name)
	return nil
}

// EnableRule activates name and its egress pair, ensures the XDP program
// is attached to each affected parent, rebuilds the map for each, and
// enables promiscuous mode on the ingress interface.
func (e *Engine) EnableRule(name string) error {
	rules, err := e.store.Load()
	if err != nil {
		return err
	}
	r, err := rulestore.FindRule(rules, name)
	if err != nil {
		return err
	}
	pairName := rulestore.PairName(name)
	pair, pairErr := rulestore.FindRule(rules, pairName)

	rules = rulestore.SetActive(rules, true, name, pairName)
	if err := e.store.Save(rules); err != nil {
		return err
	}
	e.countRulesActive(rules)

	parents := parentSet(e.interfaceParent(r.InInterface))
	if pairErr == nil {
		parents = append(parents, e.interfaceParent(pair.InInterface))
	}
	for _, parent := range dedupe(parents) {
		attached, _ := e.driver.IsAttached(parent)
		if !attached {
			if err := e.driver.Attach(parent); err != nil {
				return err
			}
		}
		if err := e.rebuildMap(parent, rules); err != nil {
			return err
		}
	}

	if err := datapath.SetPromiscuous(datapath.BaseName(r.InInterface), true); err != nil {
		e.logger.Warn("failed to enable promiscuous mode", "interface", r.InInterface, "error", err)
	}
	e.logger.Info("rule enabled", "name", name)
	return nil
}

// DisableRule deactivates name and its egress pair, rebuilds the map for
// each affected parent, and detaches the XDP program (plus promiscuous
// mode) from any parent left with no active rule.
func (e *Engine) DisableRule(name string) error {
	rules, err := e.store.Load()
	if err != nil {
		return err
	}
	r, err := rulestore.FindRule(rules, name)
	if err != nil {
		return err
	}
	pairName := rulestore.PairName(name)
	pair, pairErr := rulestore.FindRule(rules, pairName)

	rules = rulestore.SetActive(rules, false, name, pairName)
	if err := e.store.Save(rules); err != nil {
		return err
	}
	e.countRulesActive(rules)

	parents := parentSet(e.interfaceParent(r.InInterface))
	if pairErr == nil {
		parents = append(parents, e.interfaceParent(pair.InInterface))
	}
	for _, parent := range dedupe(parents) {
		if err := e.rebuildMap(parent, rules); err != nil {
			return err
		}
		if !parentHasActiveRule(rules, parent, e.interfaceParent) {
			if err := e.driver.Detach(parent); err != nil {
				return err
			}
		}
	}
	if !parentHasActiveRule(rules, e.interfaceParent(r.InInterface), e.interfaceParent) {
		if err := datapath.SetPromiscuous(datapath.BaseName(r.InInterface), false); err != nil {
			e.logger.Warn("failed to disable promiscuous mode", "interface", r.InInterface, "error", err)
		}
	}
	e.logger.Info("rule disabled", "name", name)
	return nil
}

func (e *Engine) interfaceParent(iface string) string {
	parent, err := datapath.ResolveParent(iface)
	if err != nil {
		return datapath.BaseName(iface)
	}
	return parent
}

func parentHasActiveRule(rules []rulestore.Rule, parent string, resolve func(string) string) bool {
	for _, r := range rules {
		if r.Active && resolve(r.InInterface) == parent {
			return true
		}
	}
	return false
}

func parentSet(first string) []string { return []string{first} }

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
