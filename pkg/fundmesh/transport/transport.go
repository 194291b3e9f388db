// Package transport implements the one-shot, length-bounded JSON
// messaging primitive spec.md section 4.A describes: a node listens on
// a single port, a sender opens a connection, writes one JSON object and
// closes (or half-closes, when a reply is wanted), and a reply is read
// up to a 1 KiB bound.
//
// Grounded on core/transport.go's ReliableTransport (poll/consume/producer
// channel shape), on pkg/mcast/protocol.go's RPC/rpc.Respond pattern (an
// inbound request carries its own reply function instead of the
// processor reaching back into the network layer), and on Node.py's
// connect/send_to_port (one-shot connect, write, optional bounded read,
// retries-with-failure-count).
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	prom "github.com/prometheus/common/log"

	"github.com/jabolina/fundmesh/pkg/fundmesh/logging"
	"github.com/jabolina/fundmesh/pkg/fundmesh/wire"
)

// maxReplyBytes bounds a reply read, per spec.md section 6.
const maxReplyBytes = 1024

// maxInboundBytes bounds an inbound one-shot message body. Large enough
// for any envelope this protocol ever sends (peer lists included).
const maxInboundBytes = 1 << 20

// ErrNoReply is returned by Send when need_reply was requested but every
// retry failed to produce one.
var ErrNoReply = errors.New("transport: no reply after retries")

// Inbound pairs a parsed envelope with the means to answer it
// synchronously, when the sender is waiting for a reply. Respond is a
// no-op once called twice or after replyWindow elapses; callers that
// don't need to reply can simply ignore it.
type Inbound struct {
	Message wire.Message
	Respond func(wire.Message)
}

// replyWindow bounds how long a connection is kept open waiting for the
// application layer to call Respond.
const replyWindow = 2 * time.Second

// Transport listens on one local port for inbound one-shot connections
// and funnels parsed envelopes onto a single channel, matching
// core/transport.go's Listen()/poll() shape.
type Transport struct {
	log      logging.Logger
	listener net.Listener
	inbound  chan Inbound

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen starts accepting inbound connections on addr (e.g. "localhost:0"
// or "localhost:13820"). Each accepted connection is read to completion,
// parsed as one JSON Message, and pushed onto the returned channel.
func Listen(addr string, log logging.Logger) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: listen on %s", addr)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		log:      log,
		listener: ln,
		inbound:  make(chan Inbound, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	go t.acceptLoop()
	return t, nil
}

// Addr returns the actual listening address (useful when addr used port 0).
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

// Listen returns the channel of parsed inbound requests.
func (t *Transport) Listen() <-chan Inbound {
	return t.inbound
}

// Close stops accepting new connections and releases the listener.
func (t *Transport) Close() {
	t.cancel()
	_ = t.listener.Close()
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				prom.Errorf("transport: accept failed. %v", err)
				return
			}
		}
		go t.handle(conn)
	}
}

// handle reads one connection to completion (the sender writes, then
// closes or half-closes, per spec.md section 4.A), parses it, and
// enqueues it along with a Respond closure bound to this connection.
// Each inbound connection is handled independently and concurrently; the
// single-consumer ordering guarantee lives in the channel reader, not
// here (spec.md section 5).
func (t *Transport) handle(conn net.Conn) {
	data, err := io.ReadAll(io.LimitReader(conn, maxInboundBytes))
	if err != nil {
		conn.Close()
		prom.Warnf("transport: read failed. %v", err)
		return
	}
	if len(data) == 0 {
		conn.Close()
		return
	}
	var msg wire.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.Close()
		t.log.Warnf("transport: discarding malformed message: %v", err)
		return
	}

	done := make(chan struct{})
	respond := func(reply wire.Message) {
		select {
		case <-done:
			return
		default:
			close(done)
		}
		_ = Reply(conn, reply)
		conn.Close()
	}
	go func() {
		select {
		case <-done:
		case <-time.After(replyWindow):
			conn.Close()
		case <-t.ctx.Done():
			conn.Close()
		}
	}()

	in := Inbound{Message: msg, Respond: respond}
	select {
	case t.inbound <- in:
	case <-time.After(250 * time.Millisecond):
		t.log.Warnf("transport: inbound queue full, dropping message action=%s", msg.Action)
		respond(wire.Message{})
	case <-t.ctx.Done():
	}
}

// Send delivers msg to address:port, one shot: dial, write, close. When
// needReply is set, it half-closes its write side and synchronously
// reads one bounded reply. Each of retries attempts uses an independent
// dial with the given timeout; failures are retried with exponential
// backoff (dial refused and dial/read timeout both count as failures,
// spec.md section 4.A and section 7). After the final retry fails, Send
// returns ErrNoReply (if a reply was wanted) or the last error — the
// caller decides the recovery policy, exactly as Node.py's send_to_port
// leaves fails == retries to its callers.
func Send(address string, port int, msg wire.Message, needReply bool, timeout time.Duration, retries int) (*wire.Message, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "transport: marshal message")
	}

	b := &backoff.Backoff{
		Min:    25 * time.Millisecond,
		Max:    timeout,
		Factor: 2,
		Jitter: true,
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		reply, err := sendOnce(addr, payload, needReply, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		prom.Warnf("transport: send to %s failed (attempt %d/%d). %v", addr, attempt+1, retries, err)
		if attempt < retries-1 {
			time.Sleep(b.Duration())
		}
	}
	if needReply {
		return nil, ErrNoReply
	}
	return nil, lastErr
}

func sendOnce(addr string, payload []byte, needReply bool, timeout time.Duration) (*wire.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Wrap(err, "set deadline")
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, errors.Wrap(err, "write payload")
	}

	if !needReply {
		return nil, nil
	}

	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = closer.CloseWrite()
	}

	reader := bufio.NewReaderSize(conn, maxReplyBytes)
	buf := make([]byte, maxReplyBytes)
	n, err := reader.Read(buf)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read reply")
	}
	if n == 0 {
		return nil, errors.New("empty reply")
	}

	var reply wire.Message
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		return nil, errors.Wrap(err, "unmarshal reply")
	}
	return &reply, nil
}

// Reply writes a single bounded JSON reply on conn. Used by
// Inbound.Respond.
func Reply(conn net.Conn, msg wire.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "transport: marshal reply")
	}
	if len(payload) > maxReplyBytes {
		payload = payload[:maxReplyBytes]
	}
	_, err = conn.Write(payload)
	return err
}
