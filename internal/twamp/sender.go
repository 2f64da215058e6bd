package twamp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"vmark.io/vmark-node/internal/logging"
)

// SenderParams configures a sender session.
type SenderParams struct {
	DestAddr string
	DestPort int
	Count    int
	Interval time.Duration
	Padding  int
	Socket   SocketOptions
}

// DirectionStats summarizes one direction's latency samples, in
// microseconds.
type DirectionStats struct {
	Min     float64
	Max     float64
	Average float64
	Jitter  float64
}

// Result is the final statistics record for a completed sender session.
type Result struct {
	PacketsTx int
	PacketsRx int
	LossPct   float64
	OneWayLoss string

	Outbound  DirectionStats
	Inbound   DirectionStats
	RoundTrip DirectionStats
}

// ResultCallback is invoked once, after a sender session completes, with
// the session key it was registered under and its final result.
type ResultCallback func(sessionKey string, result Result)

// SenderTask runs a TWAMP-Light sender session: sends count test packets
// at interval, correlates replies, and computes latency/jitter/loss
// statistics on completion.
type SenderTask struct {
	params SenderParams
	isIPv6 bool
	logger *logging.Logger

	conn *net.UDPConn
	dest *net.UDPAddr

	stopCh chan struct{}
	wg     sync.WaitGroup

	sessionKey string
	onComplete ResultCallback

	mu      sync.Mutex
	t1      map[uint32]Timestamp
	seen    map[uint32]bool
	outbound, inbound, roundtrip []float64
}

// NewSenderTask resolves the destination and binds a local UDP socket
// for network ("udp4" or "udp6").
func NewSenderTask(network string, params SenderParams, sessionKey string, onComplete ResultCallback, logger *logging.Logger) (*SenderTask, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}

	dest, err := net.ResolveUDPAddr(network, net.JoinHostPort(params.DestAddr, strconv.Itoa(params.DestPort)))
	if err != nil {
		return nil, err
	}

	packetConn, err := reuseAddrListenConfig.ListenPacket(context.Background(), network, ":0")
	if err != nil {
		return nil, err
	}
	conn := packetConn.(*net.UDPConn)

	task := &SenderTask{
		params:     params,
		isIPv6:     network == "udp6",
		logger:     logger.WithComponent("twamp-sender"),
		conn:       conn,
		dest:       dest,
		stopCh:     make(chan struct{}),
		sessionKey: sessionKey,
		onComplete: onComplete,
		t1:         make(map[uint32]Timestamp),
		seen:       make(map[uint32]bool),
	}

	for _, warning := range ApplySocketOptions(conn, task.isIPv6, params.Socket) {
		task.logger.Warn("socket option warning", "error", warning)
	}

	return task, nil
}

// Start begins the send/receive loop in a background goroutine.
func (t *SenderTask) Start() {
	t.wg.Add(1)
	go t.run()
}

// Stop signals the loop to exit early and waits for it to return.
func (t *SenderTask) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *SenderTask) run() {
	defer t.wg.Done()
	defer t.conn.Close()

	go t.receiveLoop()

	// Replies are collected by receiveLoop, so waiting out the whole
	// interval after each send covers both the reply window and the
	// pacing sleep before the next packet.
	interval := t.params.Interval
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	for seq := uint32(0); int(seq) < t.params.Count; seq++ {
		select {
		case <-t.stopCh:
			t.finish()
			return
		default:
		}

		t1 := Now()
		t.mu.Lock()
		t.t1[seq] = t1
		t.mu.Unlock()

		pkt := TestPacket{SenderSeq: seq, Padding: t.params.Padding}
		t.conn.WriteToUDP(pkt.Encode(), t.dest)

		select {
		case <-time.After(interval):
		case <-t.stopCh:
			t.finish()
			return
		}
	}

	t.finish()
}

func (t *SenderTask) receiveLoop() {
	buf := make([]byte, 2048)
	for {
		t.conn.SetReadDeadline(time.Now().Add(sessionResetCheckInterval))
		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-t.stopCh:
					return
				default:
					continue
				}
			}
			return
		}
		t4 := Now()
		reply, err := DecodeReplyPacket(buf[:n])
		if err != nil {
			continue
		}
		t.recordReply(reply, t4)
	}
}

func (t *SenderTask) recordReply(reply ReplyPacket, t4 Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[reply.SenderSeq] {
		return // duplicate reply, discard
	}
	t1, ok := t.t1[reply.SenderSeq]
	if !ok {
		return
	}
	t.seen[reply.SenderSeq] = true

	outboundUs := reply.T2.Sub(t1) * 1e6
	inboundUs := t4.Sub(reply.T3) * 1e6
	roundtripUs := (t4.Sub(t1) - reply.T3.Sub(reply.T2)) * 1e6

	t.outbound = append(t.outbound, outboundUs)
	t.inbound = append(t.inbound, inboundUs)
	t.roundtrip = append(t.roundtrip, roundtripUs)
}

func (t *SenderTask) finish() {
	time.Sleep(postLoopGrace)
	t.conn.SetReadDeadline(time.Now())

	t.mu.Lock()
	packetsTx := len(t.t1)
	packetsRx := len(t.roundtrip)
	outbound := summarize(t.outbound)
	inbound := summarize(t.inbound)
	roundtrip := summarize(t.roundtrip)
	t.mu.Unlock()

	result := Result{
		PacketsTx:  packetsTx,
		PacketsRx:  packetsRx,
		LossPct:    lossPercent(packetsTx, packetsRx),
		OneWayLoss: "N/A",
		Outbound:   outbound,
		Inbound:    inbound,
		RoundTrip:  roundtrip,
	}

	if t.onComplete != nil {
		t.onComplete(t.sessionKey, result)
	}
}

func lossPercent(tx, rx int) float64 {
	if tx == 0 {
		return 0
	}
	if rx == 0 {
		return 100
	}
	return float64(tx-rx) / float64(tx) * 100
}

func summarize(samples []float64) DirectionStats {
	if len(samples) == 0 {
		return DirectionStats{}
	}

	min, max, sum := samples[0], samples[0], 0.0
	for _, s := range samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	avg := sum / float64(len(samples))

	var jitterSum float64
	for i := 1; i < len(samples); i++ {
		delta := samples[i] - samples[i-1]
		if delta < 0 {
			delta = -delta
		}
		jitterSum += delta
	}
	var jitter float64
	if len(samples) > 1 {
		jitter = jitterSum / float64(len(samples)-1)
	}

	return DirectionStats{
		Min:     clampZero(min),
		Max:     max,
		Average: clampZero(avg),
		Jitter:  jitter,
	}
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
