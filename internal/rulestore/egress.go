package rulestore

// DeriveEgress builds the mirror rule for an ingress rule r: the egress
// rule matches the tag stack r's frame has after r's own pop/push, pops
// whatever r pushed, and pushes back whatever r originally matched.
//
// Grounded on the original CLI's build_egress_rule_from: the tag-stack
// algebra below (normalize, pop, push, renormalize) is transliterated
// step for step rather than re-derived, since several corner cases
// (push_cvlan-only, pop=1 with only a C-VLAN matched) are not obvious
// from the rule fields alone.
func DeriveEgress(r Rule) Rule {
	// 1. Normalize: a rule matching only an S-VLAN is treated as matching
	// only a C-VLAN (single outer tag).
	matchSVLAN, matchCVLAN := r.MatchSVLAN, r.MatchCVLAN
	if matchSVLAN != nil && matchCVLAN == nil {
		matchCVLAN, matchSVLAN = matchSVLAN, nil
	}

	// 2. Tag stack after the ingress rule's own pop.
	var sAfterPop, cAfterPop *uint16
	switch r.PopTags {
	case 0:
		sAfterPop, cAfterPop = matchSVLAN, matchCVLAN
	case 1:
		if matchSVLAN != nil {
			cAfterPop = matchCVLAN
		}
		// else: nothing survives a single pop of a single tag.
	case 2:
		// both tags removed.
	}

	// 3. Tag stack after the ingress rule's push — what the egress rule
	// must match.
	var matchS, matchC *uint16
	switch {
	case r.PushSVLAN != nil:
		matchS = r.PushSVLAN
		switch {
		case r.PushCVLAN != nil:
			matchC = r.PushCVLAN
		case r.PopTags == 0:
			matchC = matchCVLAN
		case r.PopTags == 1 && matchSVLAN != nil:
			matchC = matchSVLAN
		}
	case r.PushCVLAN != nil:
		switch {
		case matchSVLAN != nil:
			matchS, matchC = r.PushCVLAN, matchSVLAN
		default:
			matchC = r.PushCVLAN
		}
	default:
		matchS, matchC = sAfterPop, cAfterPop
	}

	// 4. Egress pop count: the egress rule must undo everything the
	// ingress rule pushed.
	var egressPop uint8
	if r.PushSVLAN != nil {
		egressPop++
	}
	if r.PushCVLAN != nil {
		egressPop++
	}

	// 5. Egress push: restore the ingress rule's original match, but only
	// for fields not already present after the egress rule's own pop.
	sAfterEgressPop, cAfterEgressPop := matchS, matchC
	switch egressPop {
	case 1:
		if sAfterEgressPop != nil {
			sAfterEgressPop = nil
		} else {
			cAfterEgressPop = nil
		}
	case 2:
		sAfterEgressPop, cAfterEgressPop = nil, nil
	}

	var pushS, pushC *uint16
	switch {
	case r.PopTags == 1 && matchSVLAN == nil && matchCVLAN != nil && r.PushSVLAN == nil && r.PushCVLAN == nil:
		// Corner case called out by the original implementation: the
		// ingress rule pops its only matched tag and pushes nothing, so
		// the frame leaves untagged in both directions. Pushing the
		// original match back on egress would re-tag traffic the ingress
		// rule explicitly untags, so this is a no-op instead of the
		// general restore-the-match formula below.
	default:
		if !vlanEqual(matchSVLAN, sAfterEgressPop) {
			pushS = matchSVLAN
		}
		if !vlanEqual(matchCVLAN, cAfterEgressPop) {
			pushC = matchCVLAN
		}
	}

	// Renormalize the derived match, same rule as step 1.
	if matchS != nil && matchC == nil {
		matchC, matchS = matchS, nil
	}

	return Rule{
		Name:         EgressName(r.Name),
		InInterface:  r.OutInterface,
		OutInterface: r.InInterface,
		MatchSVLAN:   matchS,
		MatchCVLAN:   matchC,
		PopTags:      egressPop,
		PushSVLAN:    pushS,
		PushCVLAN:    pushC,
		Active:       r.Active,
	}
}
