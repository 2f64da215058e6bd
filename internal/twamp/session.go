package twamp

import (
	"context"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"vmark.io/vmark-node/internal/logging"
)

// reuseAddrListenConfig binds with SO_REUSEADDR set, per the protocol's
// always-on reuse-address requirement.
var reuseAddrListenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// sessionResetCheckInterval bounds how long a cancellation (stop flag or
// closed socket) can take to be observed.
const sessionResetCheckInterval = 500 * time.Millisecond

// postLoopGrace is how long a sender waits for a final reply after its
// last test packet, before computing final statistics.
const postLoopGrace = 1 * time.Second

// ReflectorTask answers TWAMP-Light test packets on one UDP socket.
type ReflectorTask struct {
	conn   *net.UDPConn
	logger *logging.Logger

	sessionResetAfter time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	rseq     map[string]uint32
	lastSeen map[string]time.Time
}

// NewReflectorTask binds a UDP socket for network ("udp4" or "udp6")
// at addr (IP may be empty for any) and port. sessionResetAfter is the
// idle duration after which a source's sequence counter resets to 0; 0
// disables the reset.
func NewReflectorTask(network, addr string, port int, sessionResetAfter time.Duration, logger *logging.Logger) (*ReflectorTask, error) {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	packetConn, err := reuseAddrListenConfig.ListenPacket(context.Background(), network, net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn := packetConn.(*net.UDPConn)
	return &ReflectorTask{
		conn:              conn,
		logger:            logger.WithComponent("twamp-reflector"),
		sessionResetAfter: sessionResetAfter,
		stopCh:            make(chan struct{}),
		rseq:              make(map[string]uint32),
		lastSeen:          make(map[string]time.Time),
	}, nil
}

// Start begins answering test packets in a background goroutine.
func (t *ReflectorTask) Start() {
	t.wg.Add(1)
	go t.loop()
}

// Stop signals the loop to exit and closes the socket, then waits for
// the loop goroutine to return.
func (t *ReflectorTask) Stop() {
	close(t.stopCh)
	t.conn.Close()
	t.wg.Wait()
}

func (t *ReflectorTask) loop() {
	defer t.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(sessionResetCheckInterval))
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
				t.logger.Debug("reflector read error", "error", err)
				continue
			}
		}

		t2 := Now()
		test, err := DecodeTestPacket(buf[:n])
		if err != nil {
			continue
		}
		t.handle(from, test, t2)
	}
}

func (t *ReflectorTask) handle(from *net.UDPAddr, test TestPacket, t2 Timestamp) {
	key := from.String()

	t.mu.Lock()
	if t.sessionResetAfter > 0 {
		if last, ok := t.lastSeen[key]; ok && time.Since(last) > t.sessionResetAfter {
			t.rseq[key] = 0
		}
	}
	seq := t.rseq[key]
	t.rseq[key] = seq + 1
	t.lastSeen[key] = time.Now()
	t.mu.Unlock()

	reply := ReplyPacket{
		ReflectorSeq: seq,
		T2:           t2,
		T3:           Now(),
		SenderSeq:    test.SenderSeq,
		Padding:      test.Padding,
	}
	t.conn.WriteToUDP(reply.Encode(), from)
}
