package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Freeeeeet/tutor_session/internal/auth"
	"github.com/Freeeeeet/tutor_session/internal/model"
	"github.com/Freeeeeet/tutor_session/internal/notify"
	"github.com/Freeeeeet/tutor_session/internal/repository/memory"
	"github.com/Freeeeeet/tutor_session/internal/service"
	"github.com/Freeeeeet/tutor_session/internal/transport/rest/handler"
	"github.com/Freeeeeet/tutor_session/internal/transport/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	t      *testing.T
	server *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewStore()
	hub := notify.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)

	handshake := service.NewHandshakeService(store, store.Users(), notify.NewLocalBridge(hub), hub, service.Options{}, zap.NewNop())
	users := service.NewUserService(store.Users(), zap.NewNop())

	server := httptest.NewServer(NewRouter(&Container{
		Handshake: handshake,
		Users:     users,
		Tokens:    auth.NewManager("test-secret", "tutor_session", time.Hour),
		Logger:    zap.NewNop(),
	}))
	t.Cleanup(server.Close)

	return &testAPI{t: t, server: server}
}

func (a *testAPI) do(method, path, token string, body interface{}, out interface{}) int {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) register(name string) handler.RegisterResponse {
	a.t.Helper()
	var out handler.RegisterResponse
	status := a.do(http.MethodPost, "/v1/users", "", map[string]string{"username": name}, &out)
	require.Equal(a.t, http.StatusCreated, status)
	require.NotEmpty(a.t, out.Token)
	return out
}

func (a *testAPI) tutor(name string) handler.RegisterResponse {
	a.t.Helper()
	reg := a.register(name)
	require.Equal(a.t, http.StatusOK, a.do(http.MethodPost, "/v1/me/tutor", reg.Token, nil, nil))
	return reg
}

func TestHealthAndAuth(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "", nil, nil))

	var errBody handler.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/v1/me", "", nil, &errBody))
	assert.NotEmpty(t, errBody.Error)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/v1/me", "garbage", nil, nil))

	student := api.register("student")
	var me model.User
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/me", student.Token, nil, &me))
	assert.Equal(t, student.User.ID, me.ID)
}

func TestHandshakeOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	tutor := api.tutor("tutor")
	student := api.register("student")

	var tutors []model.User
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/tutors", student.Token, nil, &tutors))
	require.Len(t, tutors, 1)

	var created model.SessionRequest
	status := api.do(http.MethodPost, "/v1/requests", student.Token, map[string]int64{"tutor_id": tutor.User.ID}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, model.RequestStatusPending, created.Status)

	var pending []model.SessionRequest
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/tutor/requests", tutor.Token, nil, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)

	path := "/v1/requests/" + created.ID.String()

	// Only the addressed tutor may accept
	outsider := api.tutor("outsider")
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, path+"/accept", outsider.Token, nil, nil))
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodGet, path, outsider.Token, nil, nil))

	var accepted model.SessionRequest
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, path+"/accept", tutor.Token, nil, &accepted))
	require.NotNil(t, accepted.SessionID)

	var conflict handler.ErrorResponse
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, path+"/cancel", student.Token, nil, &conflict))
	assert.Equal(t, model.RequestStatusAccepted, conflict.CurrentStatus)

	var mine []model.SessionRequest
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/student/requests", student.Token, nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, model.RequestStatusAccepted, mine[0].Status)

	// Busy tutor disappears from the list until the room is closed
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/tutors", student.Token, nil, &tutors))
	assert.Len(t, tutors, 1, "only the outsider is free")

	endPath := "/v1/sessions/" + accepted.SessionID.String() + "/end"
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, endPath, student.Token, nil, nil))

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/v1/tutors", student.Token, nil, &tutors))
	assert.Len(t, tutors, 2)
}

func TestSubmitErrors(t *testing.T) {
	api := newTestAPI(t)
	student := api.register("student")
	notTutor := api.register("plain")

	var body handler.ErrorResponse
	status := api.do(http.MethodPost, "/v1/requests", student.Token, map[string]int64{"tutor_id": notTutor.User.ID}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotEmpty(t, body.Fields)
	assert.Equal(t, "tutor_id", body.Fields[0].Field)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/v1/requests/not-a-uuid", student.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound,
		api.do(http.MethodGet, "/v1/requests/6f1c2a44-0000-4000-8000-000000000000", student.Token, nil, nil))
}

func TestRequestOutcomeWebSocket(t *testing.T) {
	api := newTestAPI(t)
	tutor := api.tutor("tutor")
	student := api.register("student")

	var created model.SessionRequest
	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/v1/requests", student.Token, map[string]int64{"tutor_id": tutor.User.ID}, &created))

	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") +
		"/v1/ws/requests/" + created.ID.String() + "?token=" + student.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, http.StatusOK,
		api.do(http.MethodPost, "/v1/requests/"+created.ID.String()+"/reject", tutor.Token, nil, nil))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.OutcomeMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "outcome", msg.Type)
	require.NotNil(t, msg.Request)
	assert.Equal(t, model.RequestStatusRejected, msg.Request.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "server closes after the outcome: %v", err)
}

func TestTutorQueueWebSocket(t *testing.T) {
	api := newTestAPI(t)
	tutor := api.tutor("tutor")
	student := api.register("student")

	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/v1/ws/tutor?token=" + tutor.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.PendingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pending", msg.Type)
	assert.Empty(t, msg.Requests)

	var created model.SessionRequest
	require.Equal(t, http.StatusCreated,
		api.do(http.MethodPost, "/v1/requests", student.Token, map[string]int64{"tutor_id": tutor.User.ID}, &created))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Len(t, msg.Requests, 1)
	assert.Equal(t, created.ID, msg.Requests[0].ID)
}
