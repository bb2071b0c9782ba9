package wamp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
	"github.com/mosaicnetworks/parley/src/net/signal"
	"github.com/sirupsen/logrus"
)

type member struct {
	room string
	id   string
}

// RoomService tracks the participants of every room of a realm. It registers
// the join and leave procedures with the router, and watches for sessions
// that end without leaving.
type RoomService struct {
	sync.Mutex
	client   *client.Client
	rooms    map[string]map[string]signal.PeerInfo
	sessions map[wamp.ID]member
	logger   *logrus.Entry
}

// NewRoomService connects a RoomService to a router.
func NewRoomService(r router.Router, realm string, logger *logrus.Entry) (*RoomService, error) {
	cli, err := client.ConnectLocal(r, client.Config{
		Realm:  realm,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	s := &RoomService{
		client:   cli,
		rooms:    make(map[string]map[string]signal.PeerInfo),
		sessions: make(map[wamp.ID]member),
		logger:   logger,
	}

	if err := cli.Register(ProcJoin, s.joinHandler, nil); err != nil {
		cli.Close()
		return nil, err
	}

	if err := cli.Register(ProcLeave, s.leaveHandler, nil); err != nil {
		cli.Close()
		return nil, err
	}

	if err := cli.Subscribe(metaSessionOnLeave, s.sessionLeaveHandler, nil); err != nil {
		logger.WithError(err).Warn("Cannot watch session meta-events")
	}

	logger.Debug("Room service registered with router")

	return s, nil
}

// Members returns the participants of a room, sorted by id.
func (s *RoomService) Members(room string) []signal.PeerInfo {
	s.Lock()
	defer s.Unlock()
	return s.members(room, "")
}

// Close disconnects the RoomService from the router.
func (s *RoomService) Close() error {
	return s.client.Close()
}

func (s *RoomService) members(room string, exclude string) []signal.PeerInfo {
	res := []signal.PeerInfo{}
	for id, p := range s.rooms[room] {
		if id != exclude {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

func (s *RoomService) joinHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 3 {
		return errResult(
			fmt.Sprintf("Invocation should contain 3 arguments, not %d", len(inv.Arguments)))
	}

	room, ok1 := wamp.AsString(inv.Arguments[0])
	id, ok2 := wamp.AsString(inv.Arguments[1])
	name, ok3 := wamp.AsString(inv.Arguments[2])
	if !ok1 || !ok2 || !ok3 || room == "" || id == "" {
		return errResult("Error reading invocation arguments")
	}

	s.Lock()
	existing := s.members(room, id)
	if _, ok := s.rooms[room]; !ok {
		s.rooms[room] = make(map[string]signal.PeerInfo)
	}
	s.rooms[room][id] = signal.PeerInfo{ID: id, DisplayName: name}
	if caller, ok := wamp.AsID(inv.Details[detailCaller]); ok {
		s.sessions[caller] = member{room: room, id: id}
	}
	s.Unlock()

	raw, err := json.Marshal(existing)
	if err != nil {
		return errResult(err.Error())
	}

	s.logger.WithFields(logrus.Fields{
		"room": room,
		"peer": id,
	}).Debug("Join")

	s.publish(signal.Message{
		Type:        signal.UserConnected,
		Room:        room,
		From:        id,
		DisplayName: name,
	})

	return client.InvokeResult{
		Args: wamp.List{string(raw)},
	}
}

func (s *RoomService) leaveHandler(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
	if len(inv.Arguments) != 2 {
		return errResult(
			fmt.Sprintf("Invocation should contain 2 arguments, not %d", len(inv.Arguments)))
	}

	room, ok1 := wamp.AsString(inv.Arguments[0])
	id, ok2 := wamp.AsString(inv.Arguments[1])
	if !ok1 || !ok2 {
		return errResult("Error reading invocation arguments")
	}

	s.remove(room, id)

	return client.InvokeResult{}
}

func (s *RoomService) sessionLeaveHandler(event *wamp.Event) {
	if len(event.Arguments) == 0 {
		return
	}

	session, ok := wamp.AsID(event.Arguments[0])
	if !ok {
		return
	}

	s.Lock()
	m, ok := s.sessions[session]
	delete(s.sessions, session)
	s.Unlock()

	if ok {
		s.remove(m.room, m.id)
	}
}

// remove evicts a participant and publishes user-disconnected. Removing a
// participant twice publishes only once.
func (s *RoomService) remove(room string, id string) {
	s.Lock()
	_, ok := s.rooms[room][id]
	if ok {
		delete(s.rooms[room], id)
		if len(s.rooms[room]) == 0 {
			delete(s.rooms, room)
		}
	}
	s.Unlock()

	if !ok {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"room": room,
		"peer": id,
	}).Debug("Leave")

	s.publish(signal.Message{
		Type: signal.UserDisconnected,
		Room: room,
		From: id,
	})
}

func (s *RoomService) publish(msg signal.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).Error("Encoding room event")
		return
	}

	if err := s.client.Publish(RoomTopic(msg.Room), nil, wamp.List{string(raw)}, nil); err != nil {
		s.logger.WithError(err).Error("Publishing room event")
	}
}

func errResult(msg string) client.InvokeResult {
	return client.InvokeResult{
		Err:  ErrJoin,
		Args: wamp.List{msg},
	}
}
