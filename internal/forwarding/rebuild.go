package forwarding

import (
	"vmark.io/vmark-node/internal/rulestore"
	"vmark.io/vmark-node/internal/xdpmap"
	"vmark.io/vmark-node/internal/xerr"
)

// rebuildMap clears parent's pinned map, then inserts one key/value pair
// per active rule whose ingress interface resolves to parent: POP the
// ingress tags, PUSH any egress tags, FORWARD to the target interface.
func (e *Engine) rebuildMap(parent string, rules []rulestore.Rule) error {
	if err := e.driver.ClearMap(parent); err != nil {
		e.countMapRebuild(parent, false)
		return err
	}

	for _, r := range rules {
		if !r.Active || e.interfaceParent(r.InInterface) != parent {
			continue
		}

		key, value, err := ruleToMapEntry(r)
		if err != nil {
			e.countMapRebuild(parent, false)
			return xerr.Wrapf(err, xerr.KindInternal, "build action program for rule %q", r.Name)
		}
		if err := e.driver.PutRule(parent, key, value); err != nil {
			e.countMapRebuild(parent, false)
			return err
		}
	}
	e.countMapRebuild(parent, true)
	return nil
}

func (e *Engine) countMapRebuild(parent string, ok bool) {
	if e.metrics == nil {
		return
	}
	if ok {
		e.metrics.MapRebuilds.WithLabelValues(parent).Inc()
	} else {
		e.metrics.MapRebuildErrors.WithLabelValues(parent).Inc()
	}
}

func ruleToMapEntry(r rulestore.Rule) (xdpmap.Key, xdpmap.Value, error) {
	ifindex, err := interfaceIndexFunc(r.InInterface)
	if err != nil {
		return xdpmap.Key{}, xdpmap.Value{}, err
	}
	targetIfindex, err := interfaceIndexFunc(r.OutInterface)
	if err != nil {
		return xdpmap.Key{}, xdpmap.Value{}, err
	}

	key := xdpmap.Key{IfIndex: uint32(ifindex)}
	if r.MatchCVLAN != nil {
		key.VLANID = *r.MatchCVLAN
	}
	if r.MatchSVLAN != nil {
		key.SVLANID = *r.MatchSVLAN
	}

	var actions []xdpmap.Action
	switch r.PopTags {
	case 2:
		actions = append(actions,
			xdpmap.Action{Type: xdpmap.ActionPop, TagType: xdpmap.TagSVLAN},
			xdpmap.Action{Type: xdpmap.ActionPop, TagType: xdpmap.TagCVLAN},
		)
	case 1:
		actions = append(actions, xdpmap.Action{Type: xdpmap.ActionPop, TagType: xdpmap.TagCVLAN})
	}
	if r.PushSVLAN != nil {
		actions = append(actions, xdpmap.Action{Type: xdpmap.ActionPush, TagType: xdpmap.TagSVLAN, VLANID: *r.PushSVLAN})
	}
	if r.PushCVLAN != nil {
		actions = append(actions, xdpmap.Action{Type: xdpmap.ActionPush, TagType: xdpmap.TagCVLAN, VLANID: *r.PushCVLAN})
	}
	actions = append(actions, xdpmap.Action{Type: xdpmap.ActionForward, TargetIfIndex: uint32(targetIfindex)})

	return key, xdpmap.Value{Actions: actions}, nil
}
