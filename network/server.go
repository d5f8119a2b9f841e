package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/KVCache-Engine/cache"
	"github.com/VanDung-dev/KVCache-Engine/metrics"
)

// Common errors for server operations
var (
	ErrServerRunning    = errors.New("server already running")
	ErrServerNotRunning = errors.New("server is not running")
)

// Server configuration defaults
const (
	DefaultWorkers       = 4
	DefaultSweepInterval = time.Minute
	requestQueueSize     = 1000
)

// ServerConfig configures a cache server.
type ServerConfig struct {
	// Addr is the ZeroMQ endpoint to bind, e.g. "tcp://0.0.0.0:5555".
	Addr string

	// Workers is the number of request handling goroutines.
	Workers int

	// SweepInterval is the period of the server-side expiry sweep,
	// which keeps the backing store clean even when no client ever
	// reads the expired entries. Negative disables it.
	SweepInterval time.Duration

	// Auth enables shared-token authentication when configured.
	Auth AuthConfig

	// Logger receives request failures and maintenance events.
	Logger log.Logger

	// Metrics optionally records per-operation counts and latencies.
	Metrics *metrics.Metrics
}

// envelope pairs a request payload with the ROUTER identity frame
// its reply must carry.
type envelope struct {
	identity []byte
	data     []byte
}

// Server exposes a storage adapter over a ZeroMQ ROUTER socket.
// Requests are fanned out to a worker pool; replies funnel through a
// single sender goroutine because sockets are not safe for concurrent
// sends. Retention policy stays with the callers' stores; the server
// itself only sweeps expired entries.
type Server struct {
	cfg     ServerConfig
	adapter cache.Adapter
	auth    *Authenticator
	logger  log.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	router      zmq4.Socket
	requestChan chan *envelope
	replyChan   chan zmq4.Msg

	// Atomic counters for thread-safe statistics
	handled int64
	failed  int64

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewServer creates a cache server over the given adapter. The
// adapter stays owned by the caller and is not closed by Stop.
func NewServer(adapter cache.Adapter, cfg ServerConfig) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:         cfg,
		adapter:     adapter,
		auth:        NewAuthenticator(cfg.Auth),
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		requestChan: make(chan *envelope, requestQueueSize),
		replyChan:   make(chan zmq4.Msg, requestQueueSize),
	}
}

// Start binds the socket and begins serving.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}

	s.router = zmq4.NewRouter(s.ctx, zmq4.WithID(zmq4.SocketIdentity("kvcache-server")))

	if err := s.router.Listen(s.cfg.Addr); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.receiverLoop()

	s.wg.Add(1)
	go s.senderLoop()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	if s.cfg.SweepInterval > 0 {
		s.wg.Add(1)
		go s.janitor()
	}

	level.Info(s.logger).Log("msg", "cache server listening", "addr", s.cfg.Addr,
		"workers", s.cfg.Workers, "auth", s.auth.IsEnabled())
	return nil
}

// Stop gracefully shuts down the server. The backing adapter is left
// open for the caller to snapshot or close.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()

	// Close router socket (errors are expected during shutdown)
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			level.Debug(s.logger).Log("msg", "router close", "err", err)
		}
	}

	s.wg.Wait()
}

// IsRunning returns true if the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// receiverLoop continuously receives requests from the ROUTER socket.
func (s *Server) receiverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			msg, err := s.router.Recv()
			if err != nil {
				// Check if context cancelled
				select {
				case <-s.ctx.Done():
					return
				default:
					continue
				}
			}

			if len(msg.Frames) < 2 {
				continue
			}

			env := &envelope{
				identity: msg.Frames[0],
				data:     msg.Frames[len(msg.Frames)-1],
			}

			// Block rather than drop: a full queue applies
			// backpressure to the socket instead of losing
			// request/reply pairs.
			select {
			case s.requestChan <- env:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// senderLoop funnels all replies through one goroutine.
func (s *Server) senderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case reply := <-s.replyChan:
			if err := s.router.Send(reply); err != nil {
				level.Debug(s.logger).Log("msg", "reply send failed", "err", err)
			}
		}
	}
}

// worker handles requests from the queue.
func (s *Server) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.requestChan:
			resp := s.handle(env.data)

			data, err := EncodeResponse(resp)
			if err != nil {
				level.Warn(s.logger).Log("msg", "response encode failed", "worker", id, "err", err)
				continue
			}

			select {
			case s.replyChan <- zmq4.NewMsgFrom(env.identity, data):
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// handle executes one request against the adapter.
func (s *Server) handle(data []byte) (resp *Response) {
	start := time.Now()
	op := "unknown"

	// Panic recovery so one bad request cannot take the server down.
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&s.failed, 1)
			level.Error(s.logger).Log("msg", "panic in request handler", "op", op, "panic", r)
			resp = &Response{OK: false, Code: CodeInternal, Error: "internal error"}
		}
		status := "ok"
		if !resp.OK {
			status = resp.Code
		}
		s.metrics.RecordRequest(op, status, time.Since(start))
	}()

	req, err := DecodeRequest(data)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return &Response{OK: false, Code: CodeBadRequest, Error: err.Error()}
	}
	op = req.Op

	if err := req.Validate(); err != nil {
		atomic.AddInt64(&s.failed, 1)
		return &Response{ID: req.ID, OK: false, Code: CodeBadRequest, Error: err.Error()}
	}

	if err := s.auth.ValidateToken(req.Token); err != nil {
		atomic.AddInt64(&s.failed, 1)
		code := CodeAuthFailed
		if errors.Is(err, ErrAuthRequired) {
			code = CodeAuthRequired
		}
		return &Response{ID: req.ID, OK: false, Code: code, Error: err.Error()}
	}

	resp = s.execute(req)
	// A miss is a served request; only undeliverable answers count
	// as failures.
	if resp.OK || resp.Code == CodeNotFound {
		atomic.AddInt64(&s.handled, 1)
	} else {
		atomic.AddInt64(&s.failed, 1)
	}
	return resp
}

func (s *Server) execute(req *Request) *Response {
	resp := &Response{ID: req.ID}

	switch req.Op {
	case OpPing:
		resp.OK = true

	case OpGet:
		e, err := s.adapter.Get(s.ctx, req.Key)
		if errors.Is(err, cache.ErrEntryNotFound) {
			resp.Code = CodeNotFound
			resp.Error = err.Error()
			return resp
		}
		if err != nil {
			return s.internalError(resp, "get", err)
		}
		resp.OK = true
		resp.Entry = e

	case OpSet:
		if err := s.adapter.Set(s.ctx, req.Key, req.Entry); err != nil {
			return s.internalError(resp, "set", err)
		}
		resp.OK = true

	case OpDelete:
		removed, err := s.adapter.Delete(s.ctx, req.Key)
		if err != nil {
			return s.internalError(resp, "delete", err)
		}
		resp.OK = true
		resp.Removed = removed

	case OpKeys:
		keys, err := s.adapter.Keys(s.ctx)
		if err != nil {
			return s.internalError(resp, "keys", err)
		}
		resp.OK = true
		resp.Keys = keys

	case OpLen:
		n, err := s.adapter.Len(s.ctx)
		if err != nil {
			return s.internalError(resp, "len", err)
		}
		resp.OK = true
		resp.Count = n

	case OpClear:
		n, err := s.adapter.Clear(s.ctx)
		if err != nil {
			return s.internalError(resp, "clear", err)
		}
		resp.OK = true
		resp.Count = n
	}

	return resp
}

func (s *Server) internalError(resp *Response, op string, err error) *Response {
	level.Warn(s.logger).Log("msg", "adapter operation failed", "op", op, "err", err)
	resp.Code = CodeInternal
	resp.Error = err.Error()
	return resp
}

// janitor periodically removes expired entries from the adapter.
func (s *Server) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes every expired entry from the backing adapter.
func (s *Server) sweepExpired() {
	now := time.Now().UnixMilli()

	keys, err := s.adapter.Keys(s.ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter keys failed", "err", err)
		return
	}

	expired := 0
	for _, key := range keys {
		e, err := s.adapter.Get(s.ctx, key)
		if err != nil {
			continue
		}
		if !e.Expired(now) {
			continue
		}
		ok, err := s.adapter.Delete(s.ctx, key)
		if err != nil {
			level.Warn(s.logger).Log("msg", "adapter delete of expired entry failed", "key", key, "err", err)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		s.metrics.RecordExpired(expired)
		level.Debug(s.logger).Log("msg", "server sweep removed entries", "count", expired)
	}
}

// ServerStats contains server statistics.
type ServerStats struct {
	Addr      string `json:"addr"`
	Handled   int64  `json:"handled"`
	Failed    int64  `json:"failed"`
	Pending   int    `json:"pending"`
	Entries   int    `json:"entries"`
	IsRunning bool   `json:"is_running"`
}

// GetStats returns current server statistics.
func (s *Server) GetStats() ServerStats {
	entries := 0
	if n, err := s.adapter.Len(s.ctx); err == nil {
		entries = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStats{
		Addr:      s.cfg.Addr,
		Handled:   atomic.LoadInt64(&s.handled),
		Failed:    atomic.LoadInt64(&s.failed),
		Pending:   len(s.requestChan),
		Entries:   entries,
		IsRunning: s.running,
	}
}
