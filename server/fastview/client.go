package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer. Inbound messages are discarded anyway.
	maxMessageSize = 8192

	pingResolution = time.Millisecond * 500
	// By definition, it encompasses the number of pings to tolerate losing before
	// concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// Subscription is the feed a client publishes from. Updates must be closed when
// the subscription ends; Close must be idempotent.
type Subscription[T any] interface {
	Updates() <-chan T
	Close()
}

// EncodeFunc serializes an update into a websocket text message.
type EncodeFunc[T any] func(T) ([]byte, error)

// A client publishes updates unidirectionally to one web client via websocket.
// Anything the web client sends is read and discarded, which also services
// pongs and close frames.
type client[T any] struct {
	sub     Subscription[T]
	encode  EncodeFunc[T]
	ws      *websock
	rootCtx context.Context
	logger  *log.Logger
}

// NewClient upgrades the request to a websocket and returns a client that will
// publish sub's updates to it. On failure the error has already been reported
// to the http client; the caller still owns sub.
func NewClient[T any](
	sub Subscription[T],
	encode EncodeFunc[T],
	w http.ResponseWriter,
	r *http.Request,
	logger *log.Logger,
) (*client[T], error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	return &client[T]{
		sub:     sub,
		encode:  encode,
		ws:      NewWebSocket(ws),
		rootCtx: r.Context(),
		logger:  logger,
	}, nil
}

// Sync publishes updates until the subscription ends, the peer disconnects, or
// a write fails. The subscription is always closed before Sync returns, and the
// websocket is closed. Sync returns nil on an orderly end.
func (cli *client[T]) Sync() error {
	ctx, cancel := context.WithCancel(cli.rootCtx)
	defer cancel()
	defer cli.sub.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		defer cancel()
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		defer cancel()
		return cli.publish(groupCtx)
	})
	// Teardown: whichever routine ends first, stop receiving updates right away
	// and unblock the reader, which otherwise sits in ReadMessage indefinitely.
	group.Go(func() error {
		<-groupCtx.Done()
		cli.sub.Close()
		cli.ws.Interrupt()
		return nil
	})

	err := group.Wait()
	cli.ws.Close()
	return err
}

var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// Runs the ping-pong for the client liveness check.
// NOTE: This function requires that readMessages is running to ensure the pong handler is called.
func (cli *client[T]) pingPong(ctx context.Context) error {
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

func (cli *client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				err = fmt.Errorf("ping failed: %w", err)
			}
			return
		})
}

// readMessages drains messages from the client. Errors returned by websocket Read
// methods are permanent, hence any error ends the client; a normal closure or a
// dropped connection is an orderly end and returns nil.
func (cli *client[T]) readMessages(ctx context.Context) error {
	for {
		err := cli.ws.Read(
			ctx,
			func(ws *websocket.Conn) (readErr error) {
				_, _, readErr = ws.ReadMessage()
				return
			})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}
		if isError(err) {
			return fmt.Errorf("read failed: %w", err)
		}
		cli.logger.Debug("peer closed", "reason", err)
		return nil
	}
}

type frame struct {
	data []byte
	err  error
}

// publish encodes and writes every update. An update that fails to encode is
// logged and skipped; a failed write ends the client.
func (cli *client[T]) publish(ctx context.Context) error {
	frames := channerics.Convert(ctx.Done(), cli.sub.Updates(), func(update T) frame {
		data, err := cli.encode(update)
		return frame{data: data, err: err}
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case fr, ok := <-frames:
			// Graceful input channel closure
			if !ok {
				return nil
			}

			if fr.err != nil {
				cli.logger.Error("dropping update, encode failed", "err", fr.err)
				continue
			}

			err := cli.ws.Write(
				ctx,
				func(ws *websocket.Conn) (writeErr error) {
					if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
						writeErr = fmt.Errorf("failed to set deadline: %w", writeErr)
						return
					}

					if writeErr = ws.WriteMessage(websocket.TextMessage, fr.data); writeErr != nil {
						writeErr = fmt.Errorf("publish failed: %w", writeErr)
					}
					return
				})
			if err != nil {
				return err
			}
		}
	}
}

func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	writeDeadline    = time.Second
	closeGracePeriod = 500 * time.Millisecond
)

// websock merely serializes reads and writes to the websocket, whose requirements
// are that there may be only one concurrent reader and writer at a time.
type websock struct {
	// These are merely mutexes, but channel semantics are cleaner.
	readSem  chan struct{}
	writeSem chan struct{}
	ws       *websocket.Conn
}

func NewWebSocket(ws *websocket.Conn) *websock {
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

// Interrupt expires the read deadline so a blocked Read returns.
func (sock *websock) Interrupt() {
	_ = sock.ws.SetReadDeadline(time.Now())
}

// Closes the websocket. This should only be called once no further read/writers exist.
func (sock *websock) Close() {
	sock.readSem <- struct{}{}
	sock.writeSem <- struct{}{}

	_ = sock.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := sock.ws.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err == nil {
		// Give the peer a moment to read the close frame.
		time.Sleep(closeGracePeriod)
	}
	sock.ws.Close()
}

// Read serializes read operations on the internal web socket. There is a single
// reader, so the semaphore is never contended.
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
