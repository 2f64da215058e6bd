package forwarding

import (
	"path/filepath"
	"testing"

	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/xdpmap"
	"vmark.io/vmark-node/internal/xerr"
)

type fakeDriver struct {
	attached map[string]bool
	maps     map[string]map[xdpmap.Key]xdpmap.Value
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{attached: map[string]bool{}, maps: map[string]map[xdpmap.Key]xdpmap.Value{}}
}

func (f *fakeDriver) Attach(parent string) error {
	f.attached[parent] = true
	return nil
}

func (f *fakeDriver) Detach(parent string) error {
	f.attached[parent] = false
	delete(f.maps, parent)
	return nil
}

func (f *fakeDriver) IsAttached(parent string) (bool, error) { return f.attached[parent], nil }

func (f *fakeDriver) PutRule(parent string, key xdpmap.Key, value xdpmap.Value) error {
	if f.maps[parent] == nil {
		f.maps[parent] = map[xdpmap.Key]xdpmap.Value{}
	}
	f.maps[parent][key] = value
	return nil
}

func (f *fakeDriver) DeleteRule(parent string, key xdpmap.Key) error {
	delete(f.maps[parent], key)
	return nil
}

func (f *fakeDriver) ListKeys(parent string) ([]xdpmap.Key, error) {
	var keys []xdpmap.Key
	for k := range f.maps[parent] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeDriver) ClearMap(parent string) error {
	f.maps[parent] = map[xdpmap.Key]xdpmap.Value{}
	return nil
}

func fakeIfindex(name string) (int, error) {
	switch name {
	case "eth0.100", "eth0":
		return 10, nil
	case "eth1.200", "eth1":
		return 20, nil
	}
	return 0, xerr.Errorf(xerr.KindNotFound, "no such fake interface: %s", name)
}

func newTestEngine(t *testing.T) (*Engine, *fakeDriver) {
	t.Helper()
	old := interfaceIndexFunc
	interfaceIndexFunc = fakeIfindex
	t.Cleanup(func() { interfaceIndexFunc = old })

	store := rulestore.New(filepath.Join(t.TempDir(), "forwarding_table.json"))
	driver := newFakeDriver()
	engine := NewEngine(store, nil, logging.New(logging.Config{Output: discardWriter{}, Level: logging.LevelError}))
	engine.driver = driver
	return engine, driver
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func ptr(v uint16) *uint16 { return &v }

func TestCreateRuleRejectsEgressReservedName(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, _, err := engine.CreateRule(rulestore.Rule{Name: "egress-foo", InInterface: "eth0.100", OutInterface: "eth1.200"})
	if xerr.GetKind(err) != xerr.KindValidation {
		t.Errorf("expected KindValidation, got %v", xerr.GetKind(err))
	}
}

func TestCreateRuleStartsInactiveNoMapChange(t *testing.T) {
	engine, driver := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	ingress, egress, err := engine.CreateRule(r)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if ingress.Active || egress.Active {
		t.Error("created rules must start inactive")
	}
	if len(driver.maps) != 0 {
		t.Error("create-rule must not touch the map")
	}
}

func TestEnableRuleAttachesAndProgramsMap(t *testing.T) {
	engine, driver := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	if _, _, err := engine.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := engine.EnableRule("r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	if !driver.attached["eth0.100"] || !driver.attached["eth1.200"] {
		t.Error("expected both parents attached")
	}
	if len(driver.maps["eth0.100"]) != 1 {
		t.Errorf("expected 1 entry in eth0.100 map, got %d", len(driver.maps["eth0.100"]))
	}
	if len(driver.maps["eth1.200"]) != 1 {
		t.Errorf("expected 1 entry in eth1.200 map (egress), got %d", len(driver.maps["eth1.200"]))
	}
}

func TestDisableRuleDetachesWhenNoActiveRuleRemains(t *testing.T) {
	engine, driver := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	if _, _, err := engine.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := engine.EnableRule("r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	if err := engine.DisableRule("r1"); err != nil {
		t.Fatalf("DisableRule: %v", err)
	}
	if driver.attached["eth0.100"] || driver.attached["eth1.200"] {
		t.Error("expected both parents detached after disabling the only rule")
	}
}

func TestDeleteRuleRejectsActiveRule(t *testing.T) {
	engine, _ := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	if _, _, err := engine.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := engine.EnableRule("r1"); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	if err := engine.DeleteRule("r1"); xerr.GetKind(err) != xerr.KindConflict {
		t.Errorf("expected KindConflict deleting an active rule, got %v", xerr.GetKind(err))
	}
}

func TestDeleteRuleRemovesBothHalves(t *testing.T) {
	engine, _ := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	if _, _, err := engine.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := engine.DeleteRule("r1"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	rules, err := engine.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("expected both halves removed, got %d rules remaining", len(rules))
	}
}

func TestShowTableAndJSON(t *testing.T) {
	engine, _ := newTestEngine(t)
	r := rulestore.Rule{Name: "r1", InInterface: "eth0.100", MatchCVLAN: ptr(100), OutInterface: "eth1.200"}
	if _, _, err := engine.CreateRule(r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	table, err := engine.Show("", false)
	if err != nil {
		t.Fatalf("Show table: %v", err)
	}
	if table == "" {
		t.Error("expected non-empty table output")
	}

	single, err := engine.Show("r1", false)
	if err != nil {
		t.Fatalf("Show single: %v", err)
	}
	if single == "" {
		t.Error("expected non-empty single-rule output")
	}

	asJSON, err := engine.Show("", true)
	if err != nil {
		t.Fatalf("Show json: %v", err)
	}
	if asJSON == "" {
		t.Error("expected non-empty JSON output")
	}
}

func TestShowUnknownRuleIsNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Show("missing", false); xerr.GetKind(err) != xerr.KindNotFound {
		t.Errorf("expected KindNotFound, got %v", xerr.GetKind(err))
	}
}
