package forwarding

import (
	"encoding/json"
	"fmt"
	"strings"

	"vmark.io/vmark-node/internal/datapath"
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/xerr"
)

// Show implements show-forwarding. With name empty and asJSON false, it
// returns a table of every rule. With name set, it returns that single
// rule's fields. With asJSON true, it returns the full store (or a
// single rule, if name is also set) as JSON.
func (e *Engine) Show(name string, asJSON bool) (string, error) {
	rules, err := e.store.Load()
	if err != nil {
		return "", err
	}

	if name != "" {
		r, err := rulestore.FindRule(rules, name)
		if err != nil {
			return "", err
		}
		if asJSON {
			return marshalIndent(r)
		}
		return formatRule(r) + formatInterfaceDiagnostics(r), nil
	}

	if asJSON {
		return marshalIndent(rules)
	}
	return formatTable(rules), nil
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", xerr.Wrap(err, xerr.KindInternal, "marshal forwarding state")
	}
	return string(data), nil
}

func formatRule(r rulestore.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "name:          %s\n", r.Name)
	fmt.Fprintf(&b, "in_interface:  %s\n", r.InInterface)
	fmt.Fprintf(&b, "out_interface: %s\n", r.OutInterface)
	fmt.Fprintf(&b, "match_cvlan:   %s\n", vlanField(r.MatchCVLAN))
	fmt.Fprintf(&b, "match_svlan:   %s\n", vlanField(r.MatchSVLAN))
	fmt.Fprintf(&b, "pop_tags:      %d\n", r.PopTags)
	fmt.Fprintf(&b, "push_cvlan:    %s\n", vlanField(r.PushCVLAN))
	fmt.Fprintf(&b, "push_svlan:    %s\n", vlanField(r.PushSVLAN))
	fmt.Fprintf(&b, "active:        %t\n", r.Active)
	if r.Description != "" {
		fmt.Fprintf(&b, "description:   %s\n", r.Description)
	}
	return b.String()
}

func formatTable(rules []rulestore.Rule) string {
	if len(rules) == 0 {
		return "no rules configured\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-12s %-6s %-6s %-4s %-6s %-6s %s\n",
		"NAME", "IN", "OUT", "CVLAN", "SVLAN", "POP", "PUSHC", "PUSHS", "ACTIVE")
	for _, r := range rules {
		fmt.Fprintf(&b, "%-20s %-12s %-12s %-6s %-6s %-4d %-6s %-6s %t\n",
			r.Name, r.InInterface, r.OutInterface,
			vlanField(r.MatchCVLAN), vlanField(r.MatchSVLAN), r.PopTags,
			vlanField(r.PushCVLAN), vlanField(r.PushSVLAN), r.Active)
	}
	return b.String()
}

// formatInterfaceDiagnostics reports the driver and offload capabilities
// of a rule's two interfaces, the way show-forwarding surfaces whether
// this rule can realistically run in native/driver XDP mode.
func formatInterfaceDiagnostics(r rulestore.Rule) string {
	var b strings.Builder
	b.WriteString("\ninterface diagnostics:\n")
	for _, labelIface := range [][2]string{{"in", r.InInterface}, {"out", r.OutInterface}} {
		label, iface := labelIface[0], labelIface[1]
		parent := datapath.BaseName(iface)
		info := datapath.QueryOffload(parent)
		driver := info.Driver
		if driver == "" {
			driver = "unknown"
		}
		fmt.Fprintf(&b, "  %-3s %-12s driver=%-10s tc_offload=%t xdp_offload=%t\n",
			label, iface, driver, info.TCOffload, info.XDPOffload)
	}
	return b.String()
}

func vlanField(v *uint16) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
