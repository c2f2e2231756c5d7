package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/adwski/chat-relay/service"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// OccupancyService answers read-only questions about who is where right
// now. All answers are point-in-time copies.
type OccupancyService interface {
	UserRooms(username string) []string
	RoomUsers(room string) []string
	Rooms() map[string][]string
	Stats() service.Stats
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	svc    OccupancyService
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Occupancy  OccupancyService
	ListenAddr string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.Occupancy,
	}

	r := http.NewServeMux()
	r.HandleFunc("GET /api/users/{user}/rooms", srv.userRooms)
	r.HandleFunc("GET /api/rooms/{room}/users", srv.roomUsers)
	r.HandleFunc("GET /api/rooms", srv.listRooms)
	r.HandleFunc("GET /api/stats", srv.stats)
	r.HandleFunc("GET /debug/state", srv.dumpState)
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) userRooms(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if user == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	srv.logger.Trace().Str("user", user).Msg("got user rooms request")
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.svc.UserRooms(user)})
}

func (srv *Server) roomUsers(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	srv.logger.Trace().Str("room", room).Msg("got room users request")
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.svc.RoomUsers(room)})
}

func (srv *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := lo.Keys(srv.svc.Rooms())
	sort.Strings(rooms)
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: rooms})
}

func (srv *Server) stats(w http.ResponseWriter, _ *http.Request) {
	srv.writeJSON(w, http.StatusOK, &GenericResponse{Data: srv.svc.Stats()})
}

// dumpState spews the whole occupancy snapshot as plain text.
func (srv *Server) dumpState(w http.ResponseWriter, _ *http.Request) {
	b := []byte(spew.Sdump(srv.svc.Rooms()))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
