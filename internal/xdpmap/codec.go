// Package xdpmap packs and parses the BPF map key and action-program value
// exchanged with the kernel forwarding table. The wire layout is fixed by
// the precompiled XDP object's C structs and must be reproduced exactly:
// little-endian regardless of host, with the padding bytes the struct
// defines for alignment.
package xdpmap

import (
	"encoding/binary"
	"fmt"
)

// KeySize is the packed size of Key in bytes.
const KeySize = 16

// ValueSize is the packed size of Value in bytes.
const ValueSize = 50

// MaxActions is the number of action slots in a Value.
const MaxActions = 5

// ActionType identifies what an action step does to a frame.
type ActionType uint8

const (
	ActionNone ActionType = iota
	ActionForward
	ActionPush
	ActionPop
)

// TagType identifies which VLAN tag an action operates on.
type TagType uint8

const (
	TagNone TagType = iota
	TagCVLAN
	TagSVLAN
)

// Key identifies a forwarding-map entry: the ingress interface plus the
// VLAN tags matched on that interface. Absent VLAN values are encoded as 0.
type Key struct {
	IfIndex uint32
	VLANID  uint16
	SVLANID uint16
	BMAC    [6]byte
}

// Action is one step of a map value's action program.
type Action struct {
	Type          ActionType
	TagType       TagType
	VLANID        uint16
	TargetIfIndex uint32
}

// Value is the ordered action program executed for a matching Key.
type Value struct {
	Actions []Action
}

// PackKey encodes k into the 16-byte kernel layout:
// ifindex(u32) | vlan_id(u16) | svlan_id(u16) | bmac(6B) | padding(2B).
func PackKey(k Key) []byte {
	buf := make([]byte, KeySize)
	binary.LittleEndian.PutUint32(buf[0:4], k.IfIndex)
	binary.LittleEndian.PutUint16(buf[4:6], k.VLANID)
	binary.LittleEndian.PutUint16(buf[6:8], k.SVLANID)
	copy(buf[8:14], k.BMAC[:])
	// buf[14:16] stays zeroed padding.
	return buf
}

// ParseKey decodes a 16-byte buffer produced by PackKey.
func ParseKey(buf []byte) (Key, error) {
	if len(buf) != KeySize {
		return Key{}, fmt.Errorf("xdpmap: key must be %d bytes, got %d", KeySize, len(buf))
	}
	var k Key
	k.IfIndex = binary.LittleEndian.Uint32(buf[0:4])
	k.VLANID = binary.LittleEndian.Uint16(buf[4:6])
	k.SVLANID = binary.LittleEndian.Uint16(buf[6:8])
	copy(k.BMAC[:], buf[8:14])
	return k, nil
}

// PackValue encodes actions into the 50-byte kernel layout:
// num_actions(u8) | actions[5](8B each) | padding(9B). Refuses more than
// MaxActions actions, since that mismatches the kernel struct and silently
// truncating would program the wrong forwarding behavior.
func PackValue(actions []Action) ([]byte, error) {
	if len(actions) > MaxActions {
		return nil, fmt.Errorf("xdpmap: at most %d actions per rule, got %d", MaxActions, len(actions))
	}

	buf := make([]byte, ValueSize)
	buf[0] = byte(len(actions))

	for i := 0; i < MaxActions; i++ {
		off := 1 + i*8
		if i < len(actions) {
			a := actions[i]
			buf[off] = byte(a.Type)
			buf[off+1] = byte(a.TagType)
			binary.LittleEndian.PutUint16(buf[off+2:off+4], a.VLANID)
			binary.LittleEndian.PutUint32(buf[off+4:off+8], a.TargetIfIndex)
		}
		// else: slot stays zeroed.
	}

	if len(buf) != ValueSize {
		return nil, fmt.Errorf("xdpmap: internal packing error: produced %d bytes, expected %d", len(buf), ValueSize)
	}
	return buf, nil
}

// ParseValue decodes a 50-byte buffer produced by PackValue.
func ParseValue(buf []byte) (Value, error) {
	if len(buf) != ValueSize {
		return Value{}, fmt.Errorf("xdpmap: value must be %d bytes, got %d", ValueSize, len(buf))
	}

	numActions := int(buf[0])
	if numActions > MaxActions {
		return Value{}, fmt.Errorf("xdpmap: value declares %d actions, max is %d", numActions, MaxActions)
	}

	actions := make([]Action, numActions)
	for i := 0; i < numActions; i++ {
		off := 1 + i*8
		actions[i] = Action{
			Type:          ActionType(buf[off]),
			TagType:       TagType(buf[off+1]),
			VLANID:        binary.LittleEndian.Uint16(buf[off+2 : off+4]),
			TargetIfIndex: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	return Value{Actions: actions}, nil
}
