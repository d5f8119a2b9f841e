package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"github.com/VanDung-dev/KVCache-Engine/cache"
)

// Common errors for client operations
var (
	ErrClientClosed   = errors.New("client is closed")
	ErrRequestTimeout = errors.New("request timed out")
)

// DefaultRequestTimeout bounds a single round trip when the caller
// context carries no deadline of its own.
const DefaultRequestTimeout = 5 * time.Second

// ClientConfig configures a cache client.
type ClientConfig struct {
	// Addr is the server endpoint, e.g. "tcp://127.0.0.1:5555".
	Addr string

	// Token is sent with every request when the server requires
	// authentication.
	Token string

	// RequestTimeout bounds each round trip. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Logger receives connection level events.
	Logger log.Logger
}

// Client talks to a cache server over a ZeroMQ DEALER socket. It
// implements the storage adapter interface, so a local store can be
// layered on top of a remote server the same way it sits on memory
// or SQLite.
//
// The underlying socket is not safe for concurrent use, so requests
// are serialized internally. A store already fans out its bulk
// operations before they reach the adapter; per-request latency is
// dominated by the network either way.
type Client struct {
	cfg    ClientConfig
	logger log.Logger

	dealer zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	replyChan chan *Response

	mu     sync.Mutex
	closed bool
}

// NewClient connects to a cache server. The connection is lazy in
// ZeroMQ; a server that is down shows up as a request timeout, not a
// dial error.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("client address is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())))
	if err := dealer.Dial(cfg.Addr); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		dealer:    dealer,
		ctx:       ctx,
		cancel:    cancel,
		replyChan: make(chan *Response, 16),
	}

	c.wg.Add(1)
	go c.receiverLoop()

	return c, nil
}

// receiverLoop pumps decoded responses from the socket into the
// reply channel.
func (c *Client) receiverLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := c.dealer.Recv()
			if err != nil {
				select {
				case <-c.ctx.Done():
					return
				default:
					continue
				}
			}
			if len(msg.Frames) == 0 {
				continue
			}

			resp, err := DecodeResponse(msg.Frames[len(msg.Frames)-1])
			if err != nil {
				level.Debug(c.logger).Log("msg", "response decode failed", "err", err)
				continue
			}

			select {
			case c.replyChan <- resp:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// roundTrip sends one request and waits for its matching reply.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	req.ID = uuid.NewString()
	req.Token = c.cfg.Token

	data, err := EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if err := c.dealer.Send(zmq4.NewMsg(data)); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ctx.Done():
			return nil, ErrClientClosed
		case <-timer.C:
			return nil, fmt.Errorf("%w after %s", ErrRequestTimeout, c.cfg.RequestTimeout)
		case resp := <-c.replyChan:
			// Replies to abandoned requests can still arrive;
			// drop anything that does not match.
			if resp.ID != req.ID {
				continue
			}
			return resp, nil
		}
	}
}

// respError converts a failed response into the adapter error the
// local store expects.
func respError(resp *Response) error {
	switch resp.Code {
	case CodeNotFound:
		return cache.ErrEntryNotFound
	case CodeAuthRequired:
		return ErrAuthRequired
	case CodeAuthFailed:
		return ErrAuthTokenMismatch
	default:
		return fmt.Errorf("server error: %s", resp.Error)
	}
}

// Ping verifies the server is reachable and accepts our token.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, &Request{Op: OpPing})
	if err != nil {
		return err
	}
	if !resp.OK {
		return respError(resp)
	}
	return nil
}

// Get retrieves an entry from the server.
func (c *Client) Get(ctx context.Context, key string) (*cache.Entry, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpGet, Key: key})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, respError(resp)
	}
	if resp.Entry == nil {
		return nil, fmt.Errorf("server returned empty entry for %q", key)
	}
	return resp.Entry, nil
}

// Set stores an entry on the server.
func (c *Client) Set(ctx context.Context, key string, e *cache.Entry) error {
	resp, err := c.roundTrip(ctx, &Request{Op: OpSet, Key: key, Entry: e})
	if err != nil {
		return err
	}
	if !resp.OK {
		return respError(resp)
	}
	return nil
}

// Delete removes an entry from the server.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpDelete, Key: key})
	if err != nil {
		return false, err
	}
	if !resp.OK {
		return false, respError(resp)
	}
	return resp.Removed, nil
}

// Keys lists every key stored on the server.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpKeys})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, respError(resp)
	}
	return resp.Keys, nil
}

// Len returns the number of entries stored on the server.
func (c *Client) Len(ctx context.Context) (int, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpLen})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, respError(resp)
	}
	return resp.Count, nil
}

// Clear removes all entries from the server.
func (c *Client) Clear(ctx context.Context) (int, error) {
	resp, err := c.roundTrip(ctx, &Request{Op: OpClear})
	if err != nil {
		return 0, err
	}
	if !resp.OK {
		return 0, respError(resp)
	}
	return resp.Count, nil
}

// Close shuts down the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	var err error
	if c.dealer != nil {
		err = c.dealer.Close()
	}

	c.wg.Wait()
	return err
}
