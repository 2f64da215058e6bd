package twamp

import (
	"net"
	"sync"
	"testing"
	"time"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("failed to find a free UDP port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestReflectorAndSenderRoundTrip(t *testing.T) {
	port := freeUDPPort(t)

	reflector, err := NewReflectorTask("udp4", "127.0.0.1", port, 0, nil)
	if err != nil {
		t.Fatalf("NewReflectorTask: %v", err)
	}
	reflector.Start()
	defer reflector.Stop()

	var (
		mu   sync.Mutex
		done bool
		got  Result
	)
	callback := func(sessionKey string, result Result) {
		mu.Lock()
		defer mu.Unlock()
		done = true
		got = result
	}

	sender, err := NewSenderTask("udp4", SenderParams{
		DestAddr: "127.0.0.1",
		DestPort: port,
		Count:    3,
		Interval: 50 * time.Millisecond,
		Padding:  4,
	}, "test-session", callback, nil)
	if err != nil {
		t.Fatalf("NewSenderTask: %v", err)
	}
	sender.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		d := done
		mu.Unlock()
		if d {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !done {
		t.Fatal("sender did not complete within the deadline")
	}
	if got.PacketsTx != 3 {
		t.Errorf("PacketsTx = %d, want 3", got.PacketsTx)
	}
	if got.PacketsRx != 3 {
		t.Errorf("PacketsRx = %d, want 3 (loopback should not drop)", got.PacketsRx)
	}
	if got.LossPct != 0 {
		t.Errorf("LossPct = %v, want 0", got.LossPct)
	}
	if got.OneWayLoss != "N/A" {
		t.Errorf("OneWayLoss = %q, want N/A", got.OneWayLoss)
	}
	if got.RoundTrip.Average < 0 {
		t.Errorf("RoundTrip.Average = %v, want clamped to >= 0", got.RoundTrip.Average)
	}
}

func TestLossPercent(t *testing.T) {
	cases := []struct {
		tx, rx int
		want   float64
	}{
		{0, 0, 0},
		{10, 0, 100},
		{10, 10, 0},
		{10, 5, 50},
	}
	for _, c := range cases {
		if got := lossPercent(c.tx, c.rx); got != c.want {
			t.Errorf("lossPercent(%d, %d) = %v, want %v", c.tx, c.rx, got, c.want)
		}
	}
}

func TestSummarizeClampsNegativeMinAndAvg(t *testing.T) {
	stats := summarize([]float64{-5, -3, 10})
	if stats.Min != 0 {
		t.Errorf("Min = %v, want clamped to 0", stats.Min)
	}
	if stats.Average < 0 {
		t.Errorf("Average = %v, want clamped to >= 0", stats.Average)
	}
	if stats.Max != 10 {
		t.Errorf("Max = %v, want 10 (max is never clamped)", stats.Max)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := summarize(nil)
	if stats != (DirectionStats{}) {
		t.Errorf("expected zero value for empty samples, got %+v", stats)
	}
}

func TestReflectorSessionResetAfterIdle(t *testing.T) {
	port := freeUDPPort(t)
	reflector, err := NewReflectorTask("udp4", "127.0.0.1", port, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewReflectorTask: %v", err)
	}
	reflector.Start()
	defer reflector.Stop()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	send := func(seq uint32) ReplyPacket {
		pkt := TestPacket{SenderSeq: seq}
		client.Write(pkt.Encode())
		buf := make([]byte, 64)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		reply, err := DecodeReplyPacket(buf[:n])
		if err != nil {
			t.Fatalf("DecodeReplyPacket: %v", err)
		}
		return reply
	}

	first := send(0)
	second := send(1)
	if second.ReflectorSeq != first.ReflectorSeq+1 {
		t.Errorf("expected reflector seq to increment without idle: got %d after %d", second.ReflectorSeq, first.ReflectorSeq)
	}

	time.Sleep(60 * time.Millisecond)
	third := send(2)
	if third.ReflectorSeq != 0 {
		t.Errorf("expected reflector seq to reset to 0 after idle gap, got %d", third.ReflectorSeq)
	}
}
