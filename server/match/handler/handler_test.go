package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajenpan/surfmatch/core/auth"
	xerr "github.com/ajenpan/surfmatch/core/errors"
	"github.com/ajenpan/surfmatch/core/registry"
	"github.com/ajenpan/surfmatch/server/match"
)

type testEnv struct {
	mgr *match.Manager
	svr *httptest.Server
}

func newTestEnv(t *testing.T, ta *auth.TokenAuth) *testEnv {
	mgr := match.NewManager(match.NewMemoryQueue(), match.NewMemoryQueue(), match.NewMemoryStore(), nil, match.ManagerOptions{})
	resolver := match.NewResolver(mgr, match.ResolverOptions{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      100 * time.Millisecond,
		UnknownGrace: 50 * time.Millisecond,
	})
	h := New(Options{Manager: mgr, Resolver: resolver, Auth: ta})
	svr := httptest.NewServer(h.Routes())
	t.Cleanup(svr.Close)
	return &testEnv{mgr: mgr, svr: svr}
}

func (e *testEnv) join(t *testing.T, id, role, token string) (*http.Response, *JoinResponse) {
	body, _ := json.Marshal(&JoinRequest{Player: match.PlayerInfo{ID: id, Name: "name-" + id, Role: role}})
	req, err := http.NewRequest(http.MethodPost, e.svr.URL+"/match/join", bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := &JoinResponse{}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp, out
}

func (e *testEnv) status(t *testing.T, ticket string) (int, *StatusResponse) {
	resp, err := http.Get(e.svr.URL + "/match/status/" + ticket)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := &StatusResponse{}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode, out
}

func TestJoinAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)

	var tickets []string
	for i, id := range []string{"a1", "a2", "a3", "a4"} {
		resp, out := e.join(t, id, "survivor", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, out.Success)
		assert.Equal(t, "survivor", out.Role)
		assert.Equal(t, i+1, out.QueuePos)
		tickets = append(tickets, out.TicketID)
	}

	code, st := e.status(t, tickets[1])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "waiting", st.Status)
	assert.Equal(t, 2, st.QueuePosition)
	assert.Empty(t, st.MatchID)

	resp, killer := e.join(t, "b", "killer", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, killer.QueuePos)

	m, err := e.mgr.TryFormMatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)

	code, st = e.status(t, tickets[0])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "matched", st.Status)
	assert.Equal(t, m.ID, st.MatchID)
	require.Len(t, st.Survivors, 4)
	assert.Equal(t, "a1", st.Survivors[0].ID)
	require.NotNil(t, st.Killer)
	assert.Equal(t, "b", st.Killer.ID)

	code, st = e.status(t, killer.TicketID)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, m.ID, st.MatchID)

	code, _ = e.status(t, "T-nobody")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJoinRejectsBadInput(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.join(t, "x", "ghost", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.join(t, "", "killer", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(e.svr.URL+"/match/join", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	e2 := &xerr.Error{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(e2))
	assert.Equal(t, xerr.CodeInvalidParticipant, e2.Code)
}

func TestJoinWithToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	e := newTestEnv(t, &auth.TokenAuth{PK: &priv.PublicKey})

	token, err := auth.GenerateToken(priv, auth.Identity{PlayerID: "p1"}, time.Minute)
	require.NoError(t, err)

	resp, _ := e.join(t, "p1", "killer", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.join(t, "p2", "killer", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := e.join(t, "p1", "killer", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out.TicketID)
}

func TestQueuesAndRemove(t *testing.T) {
	e := newTestEnv(t, nil)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		e.join(t, id, "survivor", "")
	}
	e.join(t, "b", "killer", "")

	m, err := e.mgr.TryFormMatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)

	resp, err := http.Get(e.svr.URL + "/match/queues")
	require.NoError(t, err)
	qs := &QueuesResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(qs))
	resp.Body.Close()
	assert.Equal(t, QueuesResponse{Survivors: 1, Killers: 0}, *qs)

	del := func(id string) int {
		req, _ := http.NewRequest(http.MethodDelete, e.svr.URL+"/match/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusNoContent, del(m.ID))
	assert.Equal(t, http.StatusNotFound, del(m.ID))

	code, _ := e.status(t, m.Killer.TicketID)
	assert.Equal(t, http.StatusNotFound, code)

	resp, err = http.Get(e.svr.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatch(t *testing.T) {
	e := newTestEnv(t, nil)
	var tickets []string
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		_, out := e.join(t, id, "survivor", "")
		tickets = append(tickets, out.TicketID)
	}

	url := "ws" + strings.TrimPrefix(e.svr.URL, "http") + "/match/watch/" + tickets[3]
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// longer than one resolver window, the watch must keep waiting
	time.Sleep(150 * time.Millisecond)
	e.join(t, "b", "killer", "")
	m, err := e.mgr.TryFormMatch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	st := &StatusResponse{}
	require.NoError(t, conn.ReadJSON(st))
	assert.Equal(t, "matched", st.Status)
	assert.Equal(t, m.ID, st.MatchID)
}

type staticNodes []registry.NodeInfo

func (n staticNodes) Nodes(context.Context) ([]registry.NodeInfo, error) {
	return n, nil
}

func TestNodes(t *testing.T) {
	mgr := match.NewManager(match.NewMemoryQueue(), match.NewMemoryQueue(), match.NewMemoryStore(), nil, match.ManagerOptions{})
	h := New(Options{
		Manager:  mgr,
		Resolver: match.NewResolver(mgr, match.ResolverOptions{}),
		Nodes:    staticNodes{{NodeID: "n1", NodeType: "match", Addr: ":8080"}},
	})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/match/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes []registry.NodeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "n1", nodes[0].NodeID)
}
