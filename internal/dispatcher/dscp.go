package dispatcher

import (
	"fmt"
	"sort"
	"strings"
)

// dscpTable is the standard DiffServ code point name->value map, in the
// order the original twamp plugin's dscpmap dict defines it.
var dscpTable = map[string]int{
	"be": 0, "cp1": 1, "cp2": 2, "cp3": 3, "cp4": 4, "cp5": 5, "cp6": 6, "cp7": 7,
	"cs1": 8, "cp9": 9, "af11": 10, "cp11": 11, "af12": 12, "cp13": 13, "af13": 14, "cp15": 15,
	"cs2": 16, "cp17": 17, "af21": 18, "cp19": 19, "af22": 20, "cp21": 21, "af23": 22, "cp23": 23,
	"cs3": 24, "cp25": 25, "af31": 26, "cp27": 27, "af32": 28, "cp29": 29, "af33": 30, "cp31": 31,
	"cs4": 32, "cp33": 33, "af41": 34, "cp35": 35, "af42": 36, "cp37": 37, "af43": 38, "cp39": 39,
	"cs5": 40, "cp41": 41, "cp42": 42, "cp43": 43, "cp44": 44, "cp45": 45, "ef": 46, "cp47": 47,
	"nc1": 48, "cp49": 49, "cp50": 50, "cp51": 51, "cp52": 52, "cp53": 53, "cp54": 54, "cp55": 55,
	"nc2": 56, "cp57": 57, "cp58": 58, "cp59": 59, "cp60": 60, "cp61": 61, "cp62": 62, "cp63": 63,
}

// dscpValue resolves a DSCP name (case-insensitive, e.g. "ef", "cs5") or a
// decimal string in 0..63 into its numeric codepoint.
func dscpValue(s string) (int, error) {
	lower := strings.ToLower(s)
	if v, ok := dscpTable[lower]; ok {
		return v, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n >= 0 && n <= 63 {
		return n, nil
	}
	return 0, fmt.Errorf("unrecognized DSCP name or value: %s", s)
}

// formatDSCPTable renders the DSCP name/value table, sorted by value.
func formatDSCPTable() string {
	names := make([]string, 0, len(dscpTable))
	for name := range dscpTable {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return dscpTable[names[i]] < dscpTable[names[j]] })

	var b strings.Builder
	b.WriteString("DSCP Name   Value   ToS (dec)\n")
	for _, name := range names {
		v := dscpTable[name]
		fmt.Fprintf(&b, "%-11s %-7d %d\n", name, v, v<<2)
	}
	return b.String()
}
