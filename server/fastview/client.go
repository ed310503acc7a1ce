package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// The rate at which ele-updates are sent to the client, so as not to overburden it.
	pubResolution  = time.Millisecond * 100
	pingResolution = time.Millisecond * 200
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// MessageHandler receives text messages sent by the browser, e.g. view commands.
type MessageHandler func(ctx context.Context, msg []byte)

// Client publishes updates to a single browser over a websocket and passes the
// browser's messages to a handler. Items in the updates chan must be idempotent:
// updates arriving faster than the publication rate replace one another, and only
// the latest is sent.
type Client[T any] struct {
	updates   <-chan T
	onMessage MessageHandler
	ws        *websock
	rootCtx   context.Context
}

// ClientOption configures a Client.
type ClientOption[T any] func(*Client[T])

// WithMessageHandler sets the handler for messages read from the browser.
// Without one, messages are read and discarded.
func WithMessageHandler[T any](handler MessageHandler) ClientOption[T] {
	return func(cli *Client[T]) {
		cli.onMessage = handler
	}
}

// NewClient upgrades the request to a websocket and returns a publisher for @updates.
func NewClient[T any](
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
	opts ...ClientOption[T],
) (*Client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	cli := &Client[T]{
		updates: updates,
		ws:      newWebSocket(ws),
		rootCtx: r.Context(),
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// Sync runs the client's reader, pinger and publisher until the client disconnects,
// the request context is cancelled, or the updates chan is closed. It returns nil on
// a normal disconnect, or the first unexpected error.
func (cli *Client[T]) Sync() error {
	group, groupCtx := errgroup.WithContext(cli.rootCtx)

	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		return cli.publish(groupCtx)
	})
	// Closing the connection is the only way to unblock a pending read.
	group.Go(func() error {
		<-groupCtx.Done()
		cli.ws.Close()
		return nil
	})

	err := group.Wait()
	if isClosure(err) {
		return nil
	}
	return err
}

var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// errPublisherDone stops the errgroup when the updates chan closes.
var errPublisherDone = errors.New("publisher done")

// Runs the ping-pong for the client liveness check.
// NOTE: This requires that readMessages is running to ensure the pong handler is called.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}

			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if isError(err) {
					err = fmt.Errorf("ping failed: %T %w", err, err)
				}
			}
			return
		})
}

// readMessages passes the client's messages to the message handler.
// Errors returned by websocket Read methods are permanent, hence any error
// must trigger full teardown.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	for {
		var msg []byte
		err := cli.ws.Read(
			ctx,
			func(ws *websocket.Conn) (readErr error) {
				_, msg, readErr = ws.ReadMessage()
				return
			})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if cli.onMessage != nil && len(msg) > 0 {
			cli.onMessage(ctx, msg)
		}
	}
}

// publish sends the latest update at most once per pubResolution. An update received
// within the window is held, not dropped, so the client always converges on the last one.
func (cli *Client[T]) publish(ctx context.Context) error {
	var pending *T
	ticker := channerics.NewTicker(ctx.Done(), pubResolution)

	for {
		select {
		case <-ctx.Done():
			return nil
		case updates, ok := <-cli.updates:
			// Graceful input channel closure
			if !ok {
				if pending != nil {
					if err := cli.send(ctx, *pending); err != nil {
						return err
					}
				}
				return errPublisherDone
			}
			pending = &updates
		case <-ticker:
			if pending == nil {
				break
			}
			if err := cli.send(ctx, *pending); err != nil {
				return err
			}
			pending = nil
		}
	}
}

func (cli *Client[T]) send(ctx context.Context, updates T) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (writeErr error) {
			if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
				writeErr = fmt.Errorf("failed to set deadline: %T %w", writeErr, writeErr)
				return
			}

			if writeErr = ws.WriteJSON(updates); writeErr != nil {
				if isError(writeErr) {
					writeErr = fmt.Errorf("publish failed: %T %w", writeErr, writeErr)
				}
			}
			return
		})
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

func isClosure(err error) bool {
	return err == nil ||
		errors.Is(err, errPublisherDone) ||
		websocket.IsCloseError(
			err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	// ReadMessage blocks until the client sends something, so the read wait only bounds
	// the wait for the read semaphore.
	readDeadline     = time.Second
	writeDeadline    = time.Second
	closeGracePeriod = 100 * time.Millisecond
)

// websock serializes reads and writes to the websocket, which allows at most
// one concurrent reader and one concurrent writer.
type websock struct {
	// These are merely mutexes, but channel semantics are cleaner.
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebSocket(ws *websocket.Conn) *websock {
	return &websock{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

// Returns the underlying websocket.
// This should only be used non-concurrently for setup, e.g. adding handlers.
func (sock *websock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a close frame and closes the connection. Closing the connection also
// unblocks a pending reader, so only the write semaphore is taken.
func (sock *websock) Close() {
	sock.writeSem <- struct{}{}
	defer func() { <-sock.writeSem }()

	_ = sock.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = sock.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	time.Sleep(closeGracePeriod)
	sock.ws.Close()
}

// Read serializes read operations on the internal web socket.
func (sock *websock) Read(
	ctx context.Context,
	readFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.readSem <- struct{}{}:
		defer func() { <-sock.readSem }()
		return readFn(sock.ws)
	case <-time.After(readDeadline):
		return ErrSockCongestion
	}
}

// Write serializes write operations to the websocket.
func (sock *websock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}
