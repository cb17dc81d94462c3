package zeromq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"

	customlog "github.com/open-teleop/simcontroller/pkg/log"
)

// ErrServiceClosed is returned when publishing after Close
var ErrServiceClosed = errors.New("zeromq publisher is closed")

// ProgressPublisher publishes progress events on a PUB socket. Every
// message is sent as two frames: the topic, then the payload.
type ProgressPublisher struct {
	ctx      *zmq4.Context
	socket   *zmq4.Socket
	endpoint string
	logger   customlog.Logger
	running  bool
	mu       sync.Mutex
}

// NewProgressPublisher binds a PUB socket on bindAddress. sendHWM bounds the
// number of messages queued per subscriber before ZeroMQ starts dropping.
func NewProgressPublisher(bindAddress string, sendHWM int, logger customlog.Logger) (*ProgressPublisher, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		ctx.Term()
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	cleanup := func() {
		socket.Close()
		ctx.Term()
	}

	if err := socket.SetLinger(0); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if sendHWM > 0 {
		if err := socket.SetSndhwm(sendHWM); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set send high water mark: %w", err)
		}
	}
	if err := socket.Bind(bindAddress); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to bind to %s: %w", bindAddress, err)
	}

	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = bindAddress
	}

	logger.Infof("Progress publisher bound on %s", endpoint)

	return &ProgressPublisher{
		ctx:      ctx,
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
		running:  true,
	}, nil
}

// Endpoint returns the resolved bind address, useful with wildcard ports
func (p *ProgressPublisher) Endpoint() string {
	return p.endpoint
}

// PublishMessage sends a message with the given topic
func (p *ProgressPublisher) PublishMessage(topic string, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrServiceClosed
	}

	if _, err := p.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := p.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close releases the socket and the context. Safe to call more than once.
func (p *ProgressPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	var err error
	if p.socket != nil {
		err = p.socket.Close()
		p.socket = nil
	}
	if p.ctx != nil {
		if termErr := p.ctx.Term(); termErr != nil && err == nil {
			err = termErr
		}
		p.ctx = nil
	}
	p.logger.Infof("Progress publisher closed")
	return err
}
