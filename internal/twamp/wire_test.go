package twamp

import "testing"

func TestTestPacketRoundTrip(t *testing.T) {
	p := TestPacket{SenderSeq: 42, Padding: 10}
	buf := p.Encode()
	if len(buf) != 14 {
		t.Fatalf("encoded length = %d, want 14", len(buf))
	}
	got, err := DecodeTestPacket(buf)
	if err != nil {
		t.Fatalf("DecodeTestPacket: %v", err)
	}
	if got.SenderSeq != 42 || got.Padding != 10 {
		t.Errorf("got %+v, want SenderSeq=42 Padding=10", got)
	}
}

func TestReplyPacketRoundTrip(t *testing.T) {
	p := ReplyPacket{
		ReflectorSeq: 7,
		T2:           Timestamp{Seconds: 100, Fractional: 200},
		T3:           Timestamp{Seconds: 101, Fractional: 201},
		SenderSeq:    42,
	}
	buf := p.Encode()
	if len(buf) != ReplyPacketSize {
		t.Fatalf("encoded length = %d, want %d", len(buf), ReplyPacketSize)
	}
	got, err := DecodeReplyPacket(buf)
	if err != nil {
		t.Fatalf("DecodeReplyPacket: %v", err)
	}
	if got != (ReplyPacket{ReflectorSeq: 7, T2: Timestamp{100, 200}, T3: Timestamp{101, 201}, SenderSeq: 42, Padding: 0}) {
		t.Errorf("got %+v", got)
	}
}

func TestReplyPacketErrEstBytesAreZero(t *testing.T) {
	p := ReplyPacket{ReflectorSeq: 1, T2: Timestamp{1, 1}, T3: Timestamp{2, 2}, SenderSeq: 1}
	buf := p.Encode()
	if buf[12] != 0 || buf[13] != 0 {
		t.Errorf("T2 err_est bytes not zero: %v %v", buf[12], buf[13])
	}
	if buf[22] != 0 || buf[23] != 0 {
		t.Errorf("T3 err_est bytes not zero: %v %v", buf[22], buf[23])
	}
}

func TestDecodeTestPacketRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeTestPacket([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short buffer")
	}
}

func TestDecodeReplyPacketRejectsShortBuffer(t *testing.T) {
	if _, err := DecodeReplyPacket(make([]byte, 10)); err == nil {
		t.Error("expected error for short buffer")
	}
}
