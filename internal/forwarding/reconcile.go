package forwarding

import (
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/xdpmap"
)

// Reconcile runs at process start: the store is the authority for
// intent, the kernel is the authority for reality. For every rule marked
// active, confirm the kernel map actually contains its key. If the
// parent has no program attached, try to re-attach and rebuild; if that
// fails, or if the program is attached but the key is missing, downgrade
// the rule to inactive in the store. Never silently re-activates a rule
// that is not actually in the datapath.
func (e *Engine) Reconcile() error {
	rules, err := e.store.Load()
	if err != nil {
		return err
	}

	changed := false
	for i := range rules {
		if !rules[i].Active {
			continue
		}
		parent := e.interfaceParent(rules[i].InInterface)

		attached, _ := e.driver.IsAttached(parent)
		if !attached {
			if attachErr := e.driver.Attach(parent); attachErr != nil {
				e.logger.Warn("reconcile: could not re-attach, deactivating", "rule", rules[i].Name, "parent", parent, "error", attachErr)
				rules[i].Active = false
				changed = true
				continue
			}
			if rebuildErr := e.rebuildMap(parent, rules); rebuildErr != nil {
				e.logger.Warn("reconcile: could not rebuild after re-attach, deactivating", "rule", rules[i].Name, "parent", parent, "error", rebuildErr)
				rules[i].Active = false
				changed = true
			}
			continue
		}

		if !e.keyPresent(parent, rules[i]) {
			e.logger.Warn("reconcile: active rule missing from kernel map, deactivating", "rule", rules[i].Name, "parent", parent)
			rules[i].Active = false
			changed = true
		}
	}

	if changed {
		if err := e.store.Save(rules); err != nil {
			return err
		}
	}
	e.countRulesActive(rules)
	return nil
}

func (e *Engine) keyPresent(parent string, r rulestore.Rule) bool {
	key, _, err := ruleToMapEntry(r)
	if err != nil {
		return false
	}
	want := xdpmap.PackKey(key)

	keys, err := e.driver.ListKeys(parent)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if string(xdpmap.PackKey(k)) == string(want) {
			return true
		}
	}
	return false
}
