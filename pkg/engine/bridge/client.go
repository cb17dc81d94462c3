// Package bridge drives an out-of-process simulator over a ZeroMQ REQ socket.
// Each call is one SimMessage request answered by one SimMessage reply; the
// payload of both is JSON.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pebbe/zmq4"

	"github.com/open-teleop/simcontroller/pkg/engine"
	message "github.com/open-teleop/simcontroller/pkg/flatbuffers/simbridge/message"
	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// Common errors
var (
	ErrTimeout     = errors.New("bridge request timed out")
	ErrSeqMismatch = errors.New("bridge reply sequence mismatch")
)

const (
	// pollInterval bounds how long a receive waits before rechecking the context.
	pollInterval      = 100 * time.Millisecond
	disconnectTimeout = time.Second
)

// RemoteError is an ERROR status reported by the simulator side.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge %s: %s", e.Method, e.Message)
}

// Client is a request/reply connection to the simulator bridge.
// Calls are serialized: a REQ socket allows one outstanding request.
type Client struct {
	address string
	timeout time.Duration
	logger  customlog.Logger

	mu     sync.Mutex
	zctx   *zmq4.Context
	socket *zmq4.Socket
	poller *zmq4.Poller
	seq    uint64
	closed bool
}

// Dial connects a REQ socket to address. The connection is lazy on the
// ZeroMQ side, so an absent simulator shows up as a timeout on the first call.
func Dial(address string, timeout time.Duration, logger customlog.Logger) (*Client, error) {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}
	c := &Client{
		address: address,
		timeout: timeout,
		logger:  logger.WithField("component", "bridge"),
		zctx:    zctx,
	}
	if err := c.connectLocked(); err != nil {
		zctx.Term()
		return nil, err
	}
	c.logger.Infof("Connected REQ socket to %s (timeout %v)", address, timeout)
	return c, nil
}

// connectLocked opens a fresh REQ socket. A REQ socket that missed a reply
// cannot send again, so this also runs after every timeout.
func (c *Client) connectLocked() error {
	socket, err := c.zctx.NewSocket(zmq4.REQ)
	if err != nil {
		return fmt.Errorf("failed to create REQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetSndtimeo(c.timeout); err != nil {
		socket.Close()
		return fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := socket.Connect(c.address); err != nil {
		socket.Close()
		return fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}
	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)
	c.socket = socket
	c.poller = poller
	return nil
}

func (c *Client) resetLocked() {
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
	if err := c.connectLocked(); err != nil {
		c.logger.Errorf("Failed to reconnect to %s: %v", c.address, err)
	}
}

// Call sends method with args and decodes the reply payload into result.
// A nil result discards the payload.
func (c *Client) Call(ctx context.Context, method string, args, result interface{}) error {
	return c.call(ctx, method, args, result, c.timeout)
}

func (c *Client) call(ctx context.Context, method string, args, result interface{}, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal %s arguments: %w", method, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrClosed
	}
	if c.socket == nil {
		if err := c.connectLocked(); err != nil {
			return err
		}
	}

	c.seq++
	seq := c.seq
	if _, err := c.socket.SendBytes(EncodeRequest(seq, method, payload), 0); err != nil {
		c.resetLocked()
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	reply, err := c.recvLocked(ctx, timeout)
	if err != nil {
		c.resetLocked()
		return fmt.Errorf("%s: %w", method, err)
	}

	msg, err := decode(reply)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if msg.Seq() != seq {
		return fmt.Errorf("%w: sent %d, got %d", ErrSeqMismatch, seq, msg.Seq())
	}
	if err := statusError(method, msg); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if msg.ContentType() != message.ContentTypeJSON {
		return fmt.Errorf("%s: unexpected content type %s", method, msg.ContentType())
	}
	if err := json.Unmarshal(msg.PayloadBytes(), result); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	return nil
}

func (c *Client) recvLocked(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, ErrTimeout
		}
		if wait > pollInterval {
			wait = pollInterval
		}
		polled, err := c.poller.Poll(wait)
		if err != nil {
			return nil, fmt.Errorf("failed to poll socket: %w", err)
		}
		if len(polled) == 0 {
			continue
		}
		return c.socket.RecvBytes(0)
	}
}

// Close sends a best-effort disconnect and releases the socket.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	wait := c.timeout
	if wait > disconnectTimeout {
		wait = disconnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := c.Call(ctx, MethodDisconnect, struct{}{}, nil); err != nil {
		c.logger.Warnf("Disconnect request failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.socket != nil {
		c.socket.Close()
		c.socket = nil
	}
	if c.zctx != nil {
		c.zctx.Term()
		c.zctx = nil
	}
	c.logger.Infof("Disconnected from %s", c.address)
	return nil
}

// EncodeRequest builds a JSON request envelope.
func EncodeRequest(seq uint64, method string, payload []byte) []byte {
	return encode(seq, method, message.StatusOK, "", payload)
}

// EncodeReply builds a reply envelope. Used by bridge servers and tests.
func EncodeReply(seq uint64, method string, status message.Status, errText string, payload []byte) []byte {
	return encode(seq, method, status, errText, payload)
}

func encode(seq uint64, method string, status message.Status, errText string, payload []byte) []byte {
	b := flatbuffers.NewBuilder(64 + len(payload))
	methodOff := b.CreateString(method)
	var errOff flatbuffers.UOffsetT
	if errText != "" {
		errOff = b.CreateString(errText)
	}
	payloadOff := b.CreateByteVector(payload)

	message.SimMessageStart(b)
	message.SimMessageAddSeq(b, seq)
	message.SimMessageAddMethod(b, methodOff)
	message.SimMessageAddContentType(b, message.ContentTypeJSON)
	message.SimMessageAddStatus(b, status)
	if errText != "" {
		message.SimMessageAddError(b, errOff)
	}
	message.SimMessageAddPayload(b, payloadOff)
	message.SimMessageAddTimestampNs(b, time.Now().UnixNano())
	message.FinishSimMessageBuffer(b, message.SimMessageEnd(b))
	return b.FinishedBytes()
}

// Decode parses an envelope, rejecting buffers too short to hold one.
func Decode(data []byte) (*message.SimMessage, error) {
	return decode(data)
}

func decode(data []byte) (msg *message.SimMessage, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("invalid SimMessage: %d bytes", len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("invalid SimMessage: %v", r)
		}
	}()
	msg = message.GetRootAsSimMessage(data, 0)
	_ = msg.Seq()
	_ = msg.Method()
	return msg, nil
}

func statusError(method string, msg *message.SimMessage) error {
	text := string(msg.Error())
	switch msg.Status() {
	case message.StatusOK:
		return nil
	case message.StatusNOT_FOUND:
		return fmt.Errorf("%w: %s", engine.ErrAssetNotFound, text)
	case message.StatusUNREACHABLE:
		return fmt.Errorf("%w: %s", engine.ErrUnreachable, text)
	default:
		return &RemoteError{Method: method, Message: text}
	}
}
