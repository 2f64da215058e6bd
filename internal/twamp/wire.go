package twamp

import (
	"encoding/binary"
	"fmt"
)

// ReplyPacketSize is the fixed portion of a reply packet, before padding.
const ReplyPacketSize = 4 + 8 + 2 + 8 + 2 + 4 // 28

// TestPacket is the sender-to-reflector wire packet: a sequence number
// followed by arbitrary padding.
type TestPacket struct {
	SenderSeq uint32
	Padding   int
}

// Encode serializes p to its wire form.
func (p TestPacket) Encode() []byte {
	buf := make([]byte, 4+p.Padding)
	binary.BigEndian.PutUint32(buf[0:4], p.SenderSeq)
	return buf
}

// DecodeTestPacket parses a wire buffer produced by TestPacket.Encode.
func DecodeTestPacket(buf []byte) (TestPacket, error) {
	if len(buf) < 4 {
		return TestPacket{}, fmt.Errorf("twamp: test packet must be at least 4 bytes, got %d", len(buf))
	}
	return TestPacket{
		SenderSeq: binary.BigEndian.Uint32(buf[0:4]),
		Padding:   len(buf) - 4,
	}, nil
}

// ReplyPacket is the reflector-to-sender wire packet, RFC 5357's
// unauthenticated TWAMP-Light reply body.
type ReplyPacket struct {
	ReflectorSeq uint32
	T2           Timestamp
	T3           Timestamp
	SenderSeq    uint32
	Padding      int
}

// Encode serializes p to its 28-byte-plus-padding wire form:
// reflector_seq | T2 | err_est (MBZ) | T3 | err_est (MBZ) | sender_seq.
func (p ReplyPacket) Encode() []byte {
	buf := make([]byte, ReplyPacketSize+p.Padding)
	binary.BigEndian.PutUint32(buf[0:4], p.ReflectorSeq)
	binary.BigEndian.PutUint32(buf[4:8], p.T2.Seconds)
	binary.BigEndian.PutUint32(buf[8:12], p.T2.Fractional)
	// buf[12:14] err_est, must-be-zero
	binary.BigEndian.PutUint32(buf[14:18], p.T3.Seconds)
	binary.BigEndian.PutUint32(buf[18:22], p.T3.Fractional)
	// buf[22:24] err_est, must-be-zero
	binary.BigEndian.PutUint32(buf[24:28], p.SenderSeq)
	return buf
}

// DecodeReplyPacket parses a wire buffer produced by ReplyPacket.Encode.
func DecodeReplyPacket(buf []byte) (ReplyPacket, error) {
	if len(buf) < ReplyPacketSize {
		return ReplyPacket{}, fmt.Errorf("twamp: reply packet must be at least %d bytes, got %d", ReplyPacketSize, len(buf))
	}
	return ReplyPacket{
		ReflectorSeq: binary.BigEndian.Uint32(buf[0:4]),
		T2: Timestamp{
			Seconds:    binary.BigEndian.Uint32(buf[4:8]),
			Fractional: binary.BigEndian.Uint32(buf[8:12]),
		},
		T3: Timestamp{
			Seconds:    binary.BigEndian.Uint32(buf[14:18]),
			Fractional: binary.BigEndian.Uint32(buf[18:22]),
		},
		SenderSeq: binary.BigEndian.Uint32(buf[24:28]),
		Padding:   len(buf) - ReplyPacketSize,
	}, nil
}
