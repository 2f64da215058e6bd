// Package datapath operates the kernel XDP facility: attaching the
// precompiled forwarding object to a parent interface, pinning its
// program and map, and driving the forwarding map's CRUD operations.
//
// Attach/detach/pin/map-CRUD are implemented with github.com/cilium/ebpf,
// mirroring the teacher's internal/ebpf/loader and internal/ebpf/maps
// packages. A handful of operations are genuinely CLI-tool shaped and are
// implemented with os/exec against bpftool/ip instead, mirroring the
// exec.Command idiom in internal/firewall/atomic.go: the is-attached
// query (cilium/ebpf has no "is some XDP program attached" query), the
// sub@parent fallback when netlink's ParentIndex is unset, and the
// promiscuous-mode fallback when netlink itself is unavailable.
package datapath

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/vishvananda/netlink"

	"vmark.io/vmark-node/internal/host"
	"vmark.io/vmark-node/internal/logging"
	"vmark.io/vmark-node/internal/xerr"
	"vmark.io/vmark-node/internal/xdpmap"
)

const pinRoot = "/sys/fs/bpf/vmark"

// fwTableMapName is the map name inside the precompiled object, per the
// kernel object's layout.
const fwTableMapName = "fw_table"

// Driver loads/attaches/pins the XDP object and programs its forwarding
// map. One Driver instance owns all parents on a host.
type Driver struct {
	ObjectPath  string
	ProgramName string

	mu     sync.Mutex
	links  map[string]link.Link
	logger *logging.Logger
}

// NewDriver returns a Driver for the object at objectPath, whose XDP
// program section is named programName.
func NewDriver(objectPath, programName string, logger *logging.Logger) *Driver {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Driver{
		ObjectPath:  objectPath,
		ProgramName: programName,
		links:       make(map[string]link.Link),
		logger:      logger.WithComponent("datapath"),
	}
}

func programPin(parent string) string { return filepath.Join(pinRoot, "xdp_prog_"+parent) }
func mapPin(parent string) string     { return filepath.Join(pinRoot, "fw_table_"+parent) }

// EnsureReady verifies the BPF filesystem is mounted and the XDP object
// exists. Fatal if either check fails, per the kind used by the caller.
func (d *Driver) EnsureReady() error {
	if err := host.EnsureBPFFS(); err != nil {
		return xerr.Wrap(err, xerr.KindFatal, "BPF filesystem unavailable")
	}
	if _, err := os.Stat(d.ObjectPath); err != nil {
		return xerr.Wrapf(err, xerr.KindFatal, "XDP object missing at %s", d.ObjectPath)
	}
	return nil
}

// Attach loads and pins the XDP program and the forwarding map for
// parent, then attaches with preference offload -> driver -> generic.
// Uses overwrite semantics: any existing XDP program on parent is
// replaced.
func (d *Driver) Attach(parent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.links[parent]; ok {
		return nil
	}

	spec, err := ebpf.LoadCollectionSpec(d.ObjectPath)
	if err != nil {
		return xerr.Wrapf(err, xerr.KindFatal, "load XDP object %s", d.ObjectPath)
	}

	mSpec, ok := spec.Maps[fwTableMapName]
	if !ok {
		return xerr.Errorf(xerr.KindFatal, "object %s has no %s map", d.ObjectPath, fwTableMapName)
	}
	mSpec.Pinning = ebpf.PinByName
	mSpec.Name = "fw_table_" + parent

	if err := os.MkdirAll(pinRoot, 0755); err != nil {
		return xerr.Wrapf(err, xerr.KindIO, "create pin root %s", pinRoot)
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		Maps: ebpf.MapOptions{PinPath: pinRoot},
	})
	if err != nil {
		return xerr.Wrapf(err, xerr.KindTooling, "load collection for %s", parent)
	}
	defer coll.Close()

	prog, ok := coll.Programs[d.ProgramName]
	if !ok {
		return xerr.Errorf(xerr.KindFatal, "object %s has no %s program", d.ObjectPath, d.ProgramName)
	}
	if err := prog.Pin(programPin(parent)); err != nil {
		return xerr.Wrapf(err, xerr.KindTooling, "pin program for %s", parent)
	}

	iface, err := netlink.LinkByName(parent)
	if err != nil {
		os.Remove(programPin(parent))
		return xerr.Wrapf(err, xerr.KindNotFound, "resolve interface %s", parent)
	}

	var lnk link.Link
	var lastErr error
	for _, flags := range []link.XDPAttachFlags{link.XDPOffloadMode, link.XDPDriverMode, link.XDPGenericMode} {
		lnk, lastErr = link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: iface.Attrs().Index,
			Flags:     flags,
		})
		if lastErr == nil {
			break
		}
		d.logger.Debug("XDP attach attempt failed", "parent", parent, "flags", flags, "error", lastErr)
	}
	if lastErr != nil {
		os.Remove(programPin(parent))
		os.Remove(mapPin(parent))
		return xerr.Wrapf(lastErr, xerr.KindTooling, "attach XDP to %s (offload/driver/generic all failed)", parent)
	}

	d.links[parent] = lnk
	d.logger.Info("XDP program attached", "parent", parent)
	return nil
}

// Detach force-removes the XDP program and its map pin for parent.
// Idempotent: missing pins are not errors.
func (d *Driver) Detach(parent string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lnk, ok := d.links[parent]; ok {
		lnk.Close()
		delete(d.links, parent)
	} else {
		// Not our process's attachment (e.g. after a restart) - fall back
		// to the tool that unconditionally clears XDP state on the iface.
		_ = runIPTool("link", "set", "dev", parent, "xdp", "off")
	}

	if prog, err := ebpf.LoadPinnedProgram(programPin(parent), nil); err == nil {
		prog.Unpin()
		prog.Close()
	}
	if m, err := ebpf.LoadPinnedMap(mapPin(parent), nil); err == nil {
		m.Unpin()
		m.Close()
	}

	d.logger.Info("XDP program detached", "parent", parent)
	return nil
}

// IsAttached reports whether parent has a live pin and an XDP program the
// kernel reports as attached.
func (d *Driver) IsAttached(parent string) (bool, error) {
	if _, err := os.Stat(programPin(parent)); err != nil {
		return false, nil
	}
	return bpftoolNetShowHasXDP(parent)
}

func bpftoolNetShowHasXDP(parent string) (bool, error) {
	out, err := exec.Command("bpftool", "net", "show", "dev", parent, "-j").Output()
	if err == nil {
		return bytes.Contains(out, []byte(`"xdp"`)), nil
	}
	// Fallback: older bpftool without -j support.
	out, err = exec.Command("bpftool", "net", "show", "dev", parent).Output()
	if err != nil {
		return false, xerr.Wrapf(err, xerr.KindTooling, "bpftool net show dev %s", parent)
	}
	return bytes.Contains(out, []byte("xdp/")), nil
}

// openMap returns the pinned map for parent.
func (d *Driver) openMap(parent string) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(mapPin(parent), nil)
	if err != nil {
		return nil, xerr.Wrapf(err, xerr.KindNotFound, "no pinned map for %s", parent)
	}
	return m, nil
}

// PutRule inserts or overwrites a (key, value) pair in parent's map.
func (d *Driver) PutRule(parent string, key xdpmap.Key, value xdpmap.Value) error {
	m, err := d.openMap(parent)
	if err != nil {
		return err
	}
	defer m.Close()

	packedValue, err := xdpmap.PackValue(value.Actions)
	if err != nil {
		return xerr.Wrap(err, xerr.KindInternal, "pack action program")
	}
	if err := m.Put(xdpmap.PackKey(key), packedValue); err != nil {
		return xerr.Wrapf(err, xerr.KindTooling, "update map entry for %s", parent)
	}
	return nil
}

// DeleteRule removes key from parent's map. Missing keys are not errors.
func (d *Driver) DeleteRule(parent string, key xdpmap.Key) error {
	m, err := d.openMap(parent)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Delete(xdpmap.PackKey(key)); err != nil && err != ebpf.ErrKeyNotExist {
		return xerr.Wrapf(err, xerr.KindTooling, "delete map entry for %s", parent)
	}
	return nil
}

// ListKeys dumps every key currently programmed in parent's map.
func (d *Driver) ListKeys(parent string) ([]xdpmap.Key, error) {
	m, err := d.openMap(parent)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	var keys []xdpmap.Key
	var rawKey [xdpmap.KeySize]byte
	var rawValue [xdpmap.ValueSize]byte
	it := m.Iterate()
	for it.Next(&rawKey, &rawValue) {
		k, err := xdpmap.ParseKey(rawKey[:])
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return nil, xerr.Wrapf(err, xerr.KindTooling, "iterate map for %s", parent)
	}
	return keys, nil
}

// ClearMap deletes every entry in parent's map. No single "flush"
// operation is assumed to exist.
func (d *Driver) ClearMap(parent string) error {
	keys, err := d.ListKeys(parent)
	if err != nil {
		if xerr.GetKind(err) == xerr.KindNotFound {
			return nil
		}
		return err
	}
	for _, k := range keys {
		if err := d.DeleteRule(parent, k); err != nil {
			return err
		}
	}
	return nil
}

// SetPromiscuous enables or disables promiscuous mode on iface. netlink is
// the primary path; a subprocess to ip(8) is the fallback, grounded on
// the original implementation's set_promisc_mode.
func SetPromiscuous(iface string, on bool) error {
	link, err := netlink.LinkByName(iface)
	if err == nil {
		if on {
			err = netlink.LinkSetPromiscOn(link)
		} else {
			err = netlink.LinkSetPromiscOff(link)
		}
		if err == nil {
			return nil
		}
	}

	mode := "off"
	if on {
		mode = "on"
	}
	if execErr := runIPTool("link", "set", iface, "promisc", mode); execErr != nil {
		return xerr.Wrapf(execErr, xerr.KindTooling, "set promiscuous mode on %s", iface)
	}
	return nil
}

// ResolveParent returns the parent interface for name: the substring
// after '@' if present; otherwise the parent reported by `ip -o link show`
// for a sub@parent style VLAN device; otherwise name itself.
func ResolveParent(name string) (string, error) {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[i+1:], nil
	}

	if link, err := netlink.LinkByName(name); err == nil {
		if parentIdx := link.Attrs().ParentIndex; parentIdx != 0 {
			if parent, err := netlink.LinkByIndex(parentIdx); err == nil {
				return parent.Attrs().Name, nil
			}
		}
	}

	out, err := exec.Command("ip", "-o", "link", "show", "dev", name).Output()
	if err != nil {
		return name, nil
	}
	text := string(out)
	if i := strings.Index(text, "@"); i >= 0 {
		rest := text[i+1:]
		if end := strings.IndexAny(rest, ": \t"); end >= 0 {
			return rest[:end], nil
		}
	}
	return name, nil
}

// BaseName returns the substring before '@' for name, or name itself.
func BaseName(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

// InterfaceIndex resolves the kernel ifindex of the base name.
func InterfaceIndex(name string) (int, error) {
	l, err := netlink.LinkByName(BaseName(name))
	if err != nil {
		return 0, xerr.Wrapf(err, xerr.KindNotFound, "interface %s", name)
	}
	return l.Attrs().Index, nil
}

func runIPTool(args ...string) error {
	cmd := exec.Command("ip", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}
