// Package host provides host/kernel introspection used by the datapath
// driver's fatal-error checks: BPF filesystem mounting, kernel version and
// eBPF JIT status.
package host

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const bpfFSPath = "/sys/fs/bpf"

// MemoryInfo holds system memory statistics.
type MemoryInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
}

// GetMemoryInfo reads and parses /proc/meminfo.
func GetMemoryInfo() (*MemoryInfo, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info := &MemoryInfo{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		valBytes := val * 1024
		switch fields[0] {
		case "MemTotal:":
			info.TotalBytes = valBytes
		case "MemFree:":
			info.FreeBytes = valBytes
		case "MemAvailable:":
			info.AvailableBytes = valBytes
		}
	}
	if info.AvailableBytes == 0 {
		info.AvailableBytes = info.FreeBytes
	}
	return info, nil
}

// CheckBPFJIT checks if eBPF JIT is enabled.
func CheckBPFJIT() (bool, error) {
	data, err := os.ReadFile("/proc/sys/net/core/bpf_jit_enable")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// GetDeviceID returns a stable identifier for this host, read from the DMI
// product uuid or /etc/machine-id. The registration node_id is derived from
// the hostname, not from this value.
func GetDeviceID() string {
	if data, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return "unknown-device"
}

// RequirementIssue represents one missing or degraded host requirement.
type RequirementIssue struct {
	Feature string
	Message string
	Fatal   bool
}

func (e RequirementIssue) Error() string {
	return fmt.Sprintf("%s: %s", e.Feature, e.Message)
}

// IsBPFFSMounted reports whether the BPF filesystem is mounted at the
// conventional pin root.
func IsBPFFSMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[1] == bpfFSPath && fields[2] == "bpf" {
			return true
		}
	}
	return false
}

// EnsureBPFFS mounts the BPF filesystem at /sys/fs/bpf if it is not already
// mounted. Fatal if this fails, per the datapath driver's contract.
func EnsureBPFFS() error {
	if IsBPFFSMounted() {
		return nil
	}
	if err := os.MkdirAll(bpfFSPath, 0755); err != nil {
		return fmt.Errorf("create %s: %w", bpfFSPath, err)
	}
	if err := unix.Mount("bpf", bpfFSPath, "bpf", 0, ""); err != nil {
		return fmt.Errorf("mount bpffs at %s: %w", bpfFSPath, err)
	}
	return nil
}

// KernelRelease returns the running kernel release string (e.g. "6.1.0").
func KernelRelease() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	n := 0
	for n < len(uts.Release) && uts.Release[n] != 0 {
		n++
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(uts.Release[i])
	}
	return string(b), nil
}

// VerifyXDPSupport checks host requirements for loading an XDP program:
// that the kernel exposes eBPF JIT controls, that the JIT is enabled, and
// that at least 256 MB of memory is available. Missing JIT controls is
// the only fatal issue; the rest are advisory. It does not check or mount
// the BPF filesystem.
func VerifyXDPSupport() []RequirementIssue {
	var issues []RequirementIssue

	if _, err := os.Stat("/proc/sys/net/core/bpf_jit_enable"); os.IsNotExist(err) {
		return []RequirementIssue{{
			Feature: "eBPF",
			Message: "kernel does not expose eBPF JIT controls",
			Fatal:   true,
		}}
	}

	if enabled, err := CheckBPFJIT(); err != nil || !enabled {
		issues = append(issues, RequirementIssue{
			Feature: "JIT",
			Message: "eBPF JIT is not enabled",
			Fatal:   false,
		})
	}

	if mem, err := GetMemoryInfo(); err == nil && mem.AvailableBytes < 256*1024*1024 {
		issues = append(issues, RequirementIssue{
			Feature: "Memory",
			Message: fmt.Sprintf("low available memory (%d MB)", mem.AvailableBytes/1024/1024),
			Fatal:   false,
		})
	}

	return issues
}
