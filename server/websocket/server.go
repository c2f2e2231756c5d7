package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adwski/chat-relay/fanout"
	"github.com/adwski/chat-relay/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// RelayService is what a session needs from the shared relay state:
	// a subscription before its flows start, a sink for decoded inbound
	// messages, and the close-time reconciliation.
	RelayService interface {
		Subscribe() *fanout.Subscription
		Relay(msg *model.Message)
		Depart(identity string)
	}

	IdentityResolver interface {
		Resolve(req *http.Request) (string, error)
	}

	Config struct {
		Logger     *zerolog.Logger
		Relay      RelayService
		Resolver   IdentityResolver
		ListenAddr string
	}

	Server struct {
		relay    RelayService
		resolver IdentityResolver
		ws       *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:   cfg.Logger.With().Str("component", "websocket-server").Logger(),
		relay:    cfg.Relay,
		resolver: cfg.Resolver,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.serveWS)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	identity, err := srv.resolver.Resolve(r)
	if err != nil {
		srv.logger.Warn().Err(err).Msg("identity resolution failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Subscribe before the handshake completes, so nothing published
	// after the client sees 101 can be missed.
	sub := srv.relay.Subscribe()

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		sub.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background()) // session outlives the handler

	srv.logger.Debug().Str("identity", identity).Msg("session started")

	go srv.handleWSConn(ctx, cancel, conn, identity, sub)
}

// handleWSConn runs one connection's two flows. Whichever flow exits
// first cancels the shared context; the closer goroutine then drops the
// socket so the sibling is released from any blocking read or write.
// Once both flows are down, the session reconciles its departure.
func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	identity string,
	sub *fanout.Subscription,
) {
	defer cancel()

	wg := &sync.WaitGroup{}

	logger := srv.logger.With().
		Str("identity", identity).
		Logger()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, identity, srv.relay, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, sub, &logger)
		cancel()
	}()
	go func() {
		<-ctx.Done()
		webSocketCloser(conn, &logger)
	}()

	wg.Wait()
	srv.closeSession(identity, sub, &logger)
}

func (srv *Server) closeSession(identity string, sub *fanout.Subscription, logger *zerolog.Logger) {
	sub.Close()
	srv.relay.Depart(identity)
	logger.Warn().Msg("session closed")
}

// webSocketReceiver is the inbound flow: read one frame, decode it,
// stamp the session identity, hand it to the relay. Malformed frames
// are dropped, the session lives on; transport errors end the flow.
func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	identity string,
	relay RelayService,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			msgType, frame, wsErr := conn.ReadMessage()
			if wsErr != nil {
				switch {
				case websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway):
					logger.Warn().Err(wsErr).Msg("connection closed")
				case ctx.Err() != nil:
					logger.Debug().Err(wsErr).Msg("receive aborted")
				default:
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}
			if msgType != websocket.TextMessage {
				// only text frames carry protocol data
				continue
			}

			msg, err := model.Decode(frame)
			if err != nil {
				logger.Warn().Err(err).Msg("discarding malformed frame")
				continue
			}
			msg.Username = identity // sender identity is fixed by the session
			relay.Relay(&msg)
		}
	}
}

// webSocketSender is the outbound flow: encode every message the
// subscription delivers and write it out. A failed write ends the flow.
func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	sub *fanout.Subscription,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case msg, ok := <-sub.C():
			if !ok {
				break SendLoop
			}
			if missed := sub.Missed(); missed > 0 {
				logger.Warn().
					Uint64("missed", missed).
					Msg("subscriber lagged, messages dropped")
			}

			frame, err := msg.Encode()
			if err != nil {
				logger.Error().Err(err).Msg("failed to marshall outgoing message")
				break SendLoop
			}

			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.TextMessage, frame)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

// webSocketCloser says goodbye and drops the connection. WriteControl
// is safe alongside a sender still mid-write; Close is what releases a
// receiver blocked on the socket.
func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(defaultWebSocketCloseWriteDeadline)
	if wsErr := conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to send close message")
	}
	if wsErr := conn.Close(); wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
