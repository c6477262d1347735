// Package pipe implements the private duplex message channel between the
// controller and an agent.
//
// Each channel connects exactly one server and one client. The name is
// derived from (creator pid, target pid), so both sides compute it
// without negotiation: the server calls Create(peer) and the client calls
// Connect(server), which both resolve to Name(server pid, client pid).
//
// Every blocking operation races three signals: I/O completion, the
// endpoint's shutdown context, and exit of the peer process. Whichever
// fires first wins; on shutdown or peer exit the operation fails and the
// endpoint should not be used again.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/tabcon/internal/metrics"
	"github.com/standardbeagle/tabcon/internal/osproc"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

// DefaultPrefix is the leading component of every channel name.
const DefaultPrefix = "tabcon"

// Namespace is the fixed GUID embedded in channel names so they cannot
// collide with unrelated pipes.
var Namespace = uuid.MustParse("D770A8BC-A238-4D90-B906-840EFF3918DA")

// bufferSize is the OS buffer size and the read chunk size.
const bufferSize = 64 * 1024

var (
	// ErrBusy is returned when a read or write is issued while another
	// read or write is outstanding on the same endpoint.
	ErrBusy = errors.New("channel operation already in progress")
	// ErrMessageTooLarge is returned when a received message does not
	// fit the read buffer of a transport without continuation reads.
	ErrMessageTooLarge = errors.New("channel message too large")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel closed")
	// ErrNotConnected is returned by I/O on a server endpoint before
	// WaitForClient succeeds.
	ErrNotConnected = errors.New("channel not connected")
	// ErrPeerMismatch is returned when the process on the other end is
	// not the expected peer.
	ErrPeerMismatch = errors.New("channel peer is not the expected process")
	// ErrPeerExited is returned when the peer process exits mid-operation.
	ErrPeerExited = errors.New("channel peer exited")
	// ErrShutdown is returned when the endpoint's shutdown context fires.
	ErrShutdown = errors.New("channel shut down")
	// ErrUnsupported is returned on platforms without a transport.
	ErrUnsupported = errors.New("channels are not supported on this platform")
)

// transactionID is shared by every endpoint in the process.
var transactionID atomic.Int64

// Name returns the channel name for a server created by creatorPID that
// expects targetPID as its client.
func Name(prefix string, creatorPID, targetPID uint32) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s%s.{%s}.%d.%d", pipeRoot, prefix,
		strings.ToUpper(Namespace.String()), creatorPID, targetPID)
}

// Option configures an Endpoint.
type Option func(*options)

type options struct {
	prefix  string
	log     logrus.FieldLogger
	replied func(req value.Object)
}

// WithPrefix overrides DefaultPrefix. Both sides must agree.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithReplied registers fn to run after RunServer has written the
// response to req.
func WithReplied(fn func(req value.Object)) Option {
	return func(o *options) {
		o.replied = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Endpoint is one side of a channel. It does not own the peer process;
// the caller keeps it open for the endpoint's lifetime.
type Endpoint struct {
	name string
	ctx  context.Context
	peer *osproc.Process
	log  logrus.FieldLogger

	replied func(req value.Object)

	mu     sync.Mutex // guards conn, ln, closed
	conn   conn
	ln     listener
	closed bool

	readMu  sync.Mutex // held for the duration of a read
	writeMu sync.Mutex // held for the duration of a write
	txMu    sync.Mutex // serializes Transact
}

// Create opens the server side of the channel for peer. The endpoint is
// shut down when ctx is cancelled.
func Create(ctx context.Context, peer *osproc.Process, opts ...Option) (*Endpoint, error) {
	o := buildOptions(opts)
	name := Name(o.prefix, uint32(os.Getpid()), peer.PID())

	ln, err := listen(name, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel %s: %w", name, err)
	}

	return &Endpoint{
		name: name,
		ctx:  ctx,
		peer: peer,
		log:  o.log.WithField("channel", name),
		ln:   ln,

		replied: o.replied,
	}, nil
}

// WaitForClient blocks until the peer connects, the endpoint shuts down,
// or the peer exits. A client whose pid is not the peer's is rejected
// with ErrPeerMismatch.
func (e *Endpoint) WaitForClient() error {
	e.mu.Lock()
	ln, closed := e.ln, e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if ln == nil {
		return ErrNotConnected
	}

	ctx, done := e.ioContext(context.Background())
	defer done()

	c, clientPID, err := ln.accept(ctx)
	if err != nil {
		return e.ioError(ctx, err)
	}
	if clientPID != e.peer.PID() {
		c.close()
		e.log.WithFields(logrus.Fields{
			"expected": e.peer.PID(),
			"actual":   clientPID,
		}).Warn("rejected channel client")
		return fmt.Errorf("%w: client pid %d, want %d", ErrPeerMismatch, clientPID, e.peer.PID())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		c.close()
		return ErrClosed
	}
	e.conn = c
	e.ln = nil
	ln.close()
	return nil
}

// Connect opens the client side of the channel served by server. The
// server's pid is verified; a mismatch fails with ErrPeerMismatch.
func Connect(ctx context.Context, server *osproc.Process, opts ...Option) (*Endpoint, error) {
	o := buildOptions(opts)
	name := Name(o.prefix, server.PID(), uint32(os.Getpid()))

	e := &Endpoint{
		name: name,
		ctx:  ctx,
		peer: server,
		log:  o.log.WithField("channel", name),

		replied: o.replied,
	}

	ioCtx, done := e.ioContext(context.Background())
	defer done()

	c, serverPID, err := dial(ioCtx, name, server)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to channel %s: %w", name, e.ioError(ioCtx, err))
	}
	if serverPID != server.PID() {
		c.close()
		return nil, fmt.Errorf("%w: server pid %d, want %d", ErrPeerMismatch, serverPID, server.PID())
	}
	e.conn = c
	return e, nil
}

// Name returns the channel name.
func (e *Endpoint) Name() string { return e.name }

// Transact writes req and reads exactly one response. When req has no
// ID, a process-wide unique one is assigned. Transactions on one
// endpoint are serialized.
//
// A cancelled Transact may still have delivered the request.
func (e *Endpoint) Transact(ctx context.Context, req value.Object) (value.Object, error) {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	msg := req.Clone()
	if !msg.Has(protocol.KeyID) {
		msg.Set(protocol.KeyID, value.IntValue(transactionID.Add(1)))
	}
	command := protocol.CommandName(msg)

	resp, err := e.transact(ctx, msg)
	metrics.Get().Transactions.WithLabelValues(command, resultLabel(err)).Inc()
	if err != nil {
		return value.Object{}, err
	}
	if !protocol.Matches(msg, resp) {
		e.log.WithFields(logrus.Fields{
			"command":  command,
			"response": protocol.CommandName(resp),
		}).Debug("response does not match request")
	}
	return resp, nil
}

func (e *Endpoint) transact(ctx context.Context, msg value.Object) (value.Object, error) {
	if err := e.WriteMessage(ctx, msg); err != nil {
		return value.Object{}, err
	}
	return e.ReadMessage(ctx)
}

// Send is Transact without the response.
func (e *Endpoint) Send(ctx context.Context, req value.Object) error {
	_, err := e.Transact(ctx, req)
	return err
}

// RunServer reads requests, passes them to handler and writes back the
// result with the request's command name and ID, until a read or write
// fails. Outstanding I/O is cancelled before it returns.
func (e *Endpoint) RunServer(handler protocol.HandlerFunc) error {
	var err error
	for {
		var req value.Object
		if req, err = e.ReadMessage(context.Background()); err != nil {
			break
		}
		resp := protocol.Reply(req, handler(req))
		if err = e.WriteMessage(context.Background(), resp); err != nil {
			break
		}
		if e.replied != nil {
			e.replied(req)
		}
	}

	e.mu.Lock()
	if e.conn != nil {
		e.conn.cancelIO()
	}
	e.mu.Unlock()
	return err
}

// ReadMessage reads one message. Text that fails to decode yields an
// empty object, not an error.
func (e *Endpoint) ReadMessage(ctx context.Context) (value.Object, error) {
	if !e.readMu.TryLock() {
		return value.Object{}, ErrBusy
	}
	defer e.readMu.Unlock()

	c, err := e.connection()
	if err != nil {
		return value.Object{}, err
	}

	ioCtx, done := e.ioContext(ctx)
	defer done()

	data, err := c.readMessage(ioCtx)
	if err != nil {
		return value.Object{}, e.ioError(ioCtx, err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		e.log.WithError(err).Debug("discarding undecodable message")
		return value.NewObject(), nil
	}
	return msg, nil
}

// WriteMessage writes one message.
func (e *Endpoint) WriteMessage(ctx context.Context, msg value.Object) error {
	if !e.writeMu.TryLock() {
		return ErrBusy
	}
	defer e.writeMu.Unlock()

	c, err := e.connection()
	if err != nil {
		return err
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	ioCtx, done := e.ioContext(ctx)
	defer done()

	if err := c.writeMessage(ioCtx, data); err != nil {
		return e.ioError(ioCtx, err)
	}
	return nil
}

// Close releases the channel. It is idempotent and does not close the
// peer process.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.ln != nil {
		errs = append(errs, e.ln.close())
		e.ln = nil
	}
	if e.conn != nil {
		errs = append(errs, e.conn.close())
	}
	return errors.Join(errs...)
}

func (e *Endpoint) connection() (conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.conn == nil {
		return nil, ErrNotConnected
	}
	return e.conn, nil
}

// ioContext derives the context for one operation: it ends when ctx
// ends, when the endpoint shuts down, or when the peer exits.
func (e *Endpoint) ioContext(ctx context.Context) (context.Context, func()) {
	ioCtx, cancel := context.WithCancelCause(ctx)
	stopShutdown := context.AfterFunc(e.ctx, func() { cancel(ErrShutdown) })
	finished := make(chan struct{})
	go func() {
		select {
		case <-e.peer.Done():
			cancel(ErrPeerExited)
		case <-finished:
		}
	}()
	return ioCtx, func() {
		close(finished)
		stopShutdown()
		cancel(nil)
	}
}

// ioError prefers the cancellation cause over the raw transport error so
// callers can tell shutdown and peer exit apart from I/O failure.
func (e *Endpoint) ioError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrShutdown), errors.Is(err, ErrPeerExited), errors.Is(err, context.Canceled):
		return metrics.ResultCancelled
	default:
		return metrics.ResultError
	}
}

// conn is a connected OS channel carrying whole messages.
type conn interface {
	readMessage(ctx context.Context) ([]byte, error)
	writeMessage(ctx context.Context, data []byte) error
	cancelIO()
	close() error
}

// listener is a bound, not yet connected server channel.
type listener interface {
	accept(ctx context.Context) (conn, uint32, error)
	close() error
}
