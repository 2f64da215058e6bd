package forwarding

import "vmark.io/vmark-node/internal/datapath"

// interfaceIndexFunc resolves an interface name to a kernel ifindex.
// A package-level var so tests can substitute a fake without a live
// network namespace.
var interfaceIndexFunc = datapath.InterfaceIndex
