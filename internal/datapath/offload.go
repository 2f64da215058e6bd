package datapath

import (
	"github.com/safchain/ethtool"
)

// OffloadInfo summarizes the driver-reported capabilities relevant to XDP
// attachment: whether the NIC driver exposes native/offloaded XDP, the
// feature vMark's MEF-style VLAN rewrite depends on (hw-tc-offload), and
// the driver name itself, surfaced to show-forwarding interface
// diagnostics.
type OffloadInfo struct {
	Driver     string
	XDPOffload bool
	TCOffload  bool
}

// QueryOffload reports iface's driver name and offload feature flags via
// ethtool, the same library the rest of the pack uses for hardware
// capability detection. A query failure (common for virtual interfaces,
// veth pairs, and non-Linux test environments) yields a zero-value
// OffloadInfo rather than an error: offload support is advisory, never a
// precondition for XDP attachment.
func QueryOffload(iface string) OffloadInfo {
	eth, err := ethtool.NewEthtool()
	if err != nil {
		return OffloadInfo{}
	}
	defer eth.Close()

	info := OffloadInfo{}
	if driverInfo, err := eth.DriverInfo(iface); err == nil {
		info.Driver = driverInfo.Driver
	}

	features, err := eth.Features(iface)
	if err != nil {
		return info
	}
	info.TCOffload = features["hw-tc-offload"]
	// Native/offloaded XDP is itself exposed as a generic TC-offload
	// capable NIC in ethtool's feature vocabulary on most drivers that
	// support it. These flags only describe capability; they do not say
	// which XDP mode Attach actually used.
	info.XDPOffload = features["hw-tc-offload"] || features["rx-xdp-offload"]
	return info
}
