package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mosaicnetworks/parley/src/common"
	"github.com/mosaicnetworks/parley/src/conference"
	"github.com/mosaicnetworks/parley/src/config"
	"github.com/mosaicnetworks/parley/src/roster"
	"github.com/mosaicnetworks/parley/src/store"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	historyErr error
}

func (f *fakeSession) GetStats() map[string]string {
	return map[string]string{"room": "lobby", "participants": "2"}
}

func (f *fakeSession) Peers() []conference.PeerStatus {
	return []conference.PeerStatus{
		{ID: "bob", DisplayName: "Bob", Role: "Initiator", State: "Stable", Connection: "connected"},
	}
}

func (f *fakeSession) Roster() []roster.Member {
	return []roster.Member{{ID: "bob", DisplayName: "Bob"}}
}

func (f *fakeSession) History() ([]store.Record, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return []store.Record{{Seq: 1, Room: "lobby", Peer: "bob", Event: store.PeerJoined}}, nil
}

func newTestService(t *testing.T, session Session) *Service {
	gin.SetMode(gin.TestMode)
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.PeerID = "alice"
	conf.ICEPassword = "secret"
	return NewService("", session, conf, common.NewTestEntry(t, common.TestLogLevel))
}

func get(t *testing.T, s *Service, path string, out interface{}) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func TestStatsAndPeers(t *testing.T) {
	s := newTestService(t, &fakeSession{})

	var stats map[string]string
	w := get(t, s, "/stats", &stats)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "2", stats["participants"])

	var peers []conference.PeerStatus
	get(t, s, "/peers", &peers)
	require.Len(t, peers, 1)
	require.Equal(t, "Stable", peers[0].State)

	var members []roster.Member
	get(t, s, "/roster", &members)
	require.Equal(t, "Bob", members[0].DisplayName)
}

func TestHistory(t *testing.T) {
	s := newTestService(t, &fakeSession{})

	var records []store.Record
	get(t, s, "/history", &records)
	require.Len(t, records, 1)
	require.Equal(t, store.PeerJoined, records[0].Event)

	s = newTestService(t, &fakeSession{historyErr: errors.New("db closed")})
	w := get(t, s, "/history", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClientConfig(t *testing.T) {
	s := newTestService(t, &fakeSession{})

	w := get(t, s, "/api/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, strings.Contains(w.Body.String(), "secret"))

	var conf ClientConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conf))
	require.Equal(t, "alice", conf.PeerID)
	require.Equal(t, config.DefaultRoom, conf.Room)
	require.Equal(t, []string{config.DefaultICEAddress}, conf.ICEServers)
}
