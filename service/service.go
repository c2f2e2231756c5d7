package service

import (
	"github.com/rs/zerolog"

	"github.com/adwski/chat-relay/fanout"
	"github.com/adwski/chat-relay/model"
)

type (
	Roster interface {
		Join(user, room string)
		Leave(user, room string)
		UserRooms(user string) []string
		RoomUsers(room string) []string
		Rooms() map[string][]string
		Counts() (users, rooms int)
	}

	Broadcaster interface {
		Subscribe() *fanout.Subscription
		Publish(msg *model.Message) error
		Subscribers() int
	}

	// Service is the shared relay state. One instance is built at
	// startup and handed by pointer to every session and API server.
	Service struct {
		roster Roster
		bus    Broadcaster
		logger zerolog.Logger
	}

	Config struct {
		Roster      Roster
		Broadcaster Broadcaster
		Logger      *zerolog.Logger
	}
)

func New(cfg Config) *Service {
	return &Service{
		roster: cfg.Roster,
		bus:    cfg.Broadcaster,
		logger: cfg.Logger.With().Str("component", "relay").Logger(),
	}
}

// Subscribe hands out a fan-out subscription for a new session. Must
// happen before the session reads any inbound traffic.
func (s *Service) Subscribe() *fanout.Subscription {
	return s.bus.Subscribe()
}

// Relay applies the membership effect of one decoded inbound message,
// then broadcasts it. The broadcast is unfiltered: every session
// observes every message, membership changes included. The directory is
// authoritative, the broadcast advisory.
func (s *Service) Relay(msg *model.Message) {
	switch msg.Data.Kind {
	case model.KindJoin:
		s.roster.Join(msg.Username, msg.Room)
		s.logger.Debug().
			Str("username", msg.Username).
			Str("room", msg.Room).
			Msg("user joined room")
	case model.KindLeave:
		s.roster.Leave(msg.Username, msg.Room)
		s.logger.Debug().
			Str("username", msg.Username).
			Str("room", msg.Room).
			Msg("user left room")
	}

	if err := s.bus.Publish(msg); err != nil {
		s.logger.Debug().
			Err(err).
			Str("room", msg.Room).
			Msg("message not delivered")
	}
}

// Depart reconciles a closed session: one synthetic leave is broadcast
// for every room the identity still occupies. The directory is not
// mutated here, it records only what inbound flows apply.
func (s *Service) Depart(identity string) {
	rooms := s.roster.UserRooms(identity)
	s.logger.Debug().
		Str("identity", identity).
		Int("rooms", len(rooms)).
		Msg("session departed")

	for _, room := range rooms {
		msg := model.NewLeave(room, identity)
		if err := s.bus.Publish(&msg); err != nil {
			s.logger.Warn().
				Err(err).
				Str("identity", identity).
				Str("room", room).
				Msg("failed to broadcast leave")
		}
	}
}

func (s *Service) UserRooms(user string) []string {
	return s.roster.UserRooms(user)
}

func (s *Service) RoomUsers(room string) []string {
	return s.roster.RoomUsers(room)
}

func (s *Service) Rooms() map[string][]string {
	return s.roster.Rooms()
}

type Stats struct {
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
	Subscribers int `json:"subscribers"`
}

func (s *Service) Stats() Stats {
	users, rooms := s.roster.Counts()
	return Stats{
		Users:       users,
		Rooms:       rooms,
		Subscribers: s.bus.Subscribers(),
	}
}
