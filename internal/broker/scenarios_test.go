package broker

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/b/tmux-remote/internal/model"
)

// S1: no password configured, zero base sessions — auth succeeds and a
// default session is created and attached without a picker.
func TestZeroSessionsNoPasswordAutoCreates(t *testing.T) {
	gw := newFakeGateway()
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token"})

	var ok map[string]interface{}
	readJSON(t, conn, &ok)
	require.Equal(t, "auth_ok", ok["type"])
	require.False(t, ok["requiresPassword"].(bool))

	var attached map[string]interface{}
	readJSON(t, conn, &attached)
	require.Equal(t, "attached", attached["type"])
	require.Contains(t, attached["session"].(string), model.MobileSessionPrefix)
}

// S2: multiple base sessions exist — auth succeeds but the client is
// offered a session_picker instead of being auto-attached.
func TestMultipleSessionsOffersPicker(t *testing.T) {
	gw := newFakeGateway("alpha", "beta")
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token"})

	var ok envelope
	readJSON(t, conn, &ok)
	require.Equal(t, "auth_ok", ok.Type)

	var picker map[string]interface{}
	readJSON(t, conn, &picker)
	require.Equal(t, "session_picker", picker["type"])
	sessions, ok2 := picker["sessions"].([]interface{})
	require.True(t, ok2)
	require.Len(t, sessions, 2)
}

// S3: a wrong password is retryable — the socket stays open and a
// subsequent correct attempt succeeds.
func TestWrongPasswordThenRetrySucceeds(t *testing.T) {
	gw := newFakeGateway("main")
	_, srv := testHub(t, gw, "secret-token", "hunter2")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token", "password": "wrong"})

	var errMsg map[string]interface{}
	readJSON(t, conn, &errMsg)
	require.Equal(t, "auth_error", errMsg["type"])
	require.Equal(t, "invalid password", errMsg["reason"])

	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token", "password": "hunter2"})
	var ok map[string]interface{}
	readJSON(t, conn, &ok)
	require.Equal(t, "auth_ok", ok["type"])
}

// An invalid token also produces auth_error without closing the socket.
func TestInvalidTokenRejected(t *testing.T) {
	gw := newFakeGateway("main")
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "wrong-token"})

	var errMsg map[string]interface{}
	readJSON(t, conn, &errMsg)
	require.Equal(t, "auth_error", errMsg["type"])
	require.Equal(t, "invalid token", errMsg["reason"])
}

// A mutation requiring an attached session replies with an error when none
// is set yet (before any select_session/new_session).
func TestMutationWithoutAttachedSessionErrors(t *testing.T) {
	gw := newFakeGateway("alpha", "beta")
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token"})

	var ok envelope
	readJSON(t, conn, &ok)
	var picker envelope
	readJSON(t, conn, &picker)
	require.Equal(t, "session_picker", picker.Type)

	writeJSON(t, conn, map[string]interface{}{"type": "new_window"})
	var errMsg map[string]interface{}
	readReply(t, conn, &errMsg)
	require.Equal(t, "error", errMsg["type"])
	require.Equal(t, "no attached session", errMsg["message"])
}

// select_session against a picker choice attaches successfully.
func TestSelectSessionFromPickerAttaches(t *testing.T) {
	gw := newFakeGateway("alpha", "beta")
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token"})
	var ok envelope
	readJSON(t, conn, &ok)
	var picker envelope
	readJSON(t, conn, &picker)
	require.Equal(t, "session_picker", picker.Type)

	writeJSON(t, conn, map[string]string{"type": "select_session", "session": "beta"})
	var attached map[string]interface{}
	readReply(t, conn, &attached)
	require.Equal(t, "attached", attached["type"])
}

// A reconnecting clientId is evicted from its prior socket with close code
// 4000, and the new socket adopts the same identity.
func TestReconnectEvictsPriorSocket(t *testing.T) {
	gw := newFakeGateway("main")
	_, srv := testHub(t, gw, "secret-token", "")

	first := dial(t, srv, "/ws/control")
	writeJSON(t, first, map[string]string{"type": "auth", "token": "secret-token", "clientId": "phone-1"})
	var ok envelope
	readJSON(t, first, &ok)
	var attached envelope
	readJSON(t, first, &attached)
	require.Equal(t, "attached", attached.Type)

	second := dial(t, srv, "/ws/control")
	writeJSON(t, second, map[string]string{"type": "auth", "token": "secret-token", "clientId": "phone-1"})
	var ok2 envelope
	readReply(t, second, &ok2)
	require.Equal(t, "auth_ok", ok2.Type)

	// The evicted socket's teardown (including killing its mobile session)
	// must complete before the adopting context's own attach — otherwise the
	// adopting context's freshly (re)created mobile session can be killed
	// out from under it by the evicted context's async teardown.
	var attached2 envelope
	readReply(t, second, &attached2)
	require.Equal(t, "attached", attached2.Type)

	mobile := model.MobileSessionName("phone-1")
	sessions, err := gw.ListSessions(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(sessions))
	for _, s := range sessions {
		names = append(names, s.Name)
	}
	require.Contains(t, names, mobile, "reconnecting client's mobile session must survive eviction of its prior socket")

	// The prior socket may still hold the tmux_state broadcast from its own
	// auth ahead of the close frame.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = nextNonState(first)
	require.Error(t, err, "prior socket for the adopted clientId was not evicted")
	closeErr, ok3 := err.(*websocket.CloseError)
	if ok3 {
		require.Equal(t, 4000, closeErr.Code)
	}
}

// Unauthenticated control messages other than auth get auth_error, not a
// silent drop or a protocol error.
func TestUnauthenticatedNonAuthMessageRejected(t *testing.T) {
	gw := newFakeGateway("main")
	_, srv := testHub(t, gw, "secret-token", "")

	conn := dial(t, srv, "/ws/control")
	writeJSON(t, conn, map[string]string{"type": "new_window"})

	var errMsg map[string]interface{}
	readJSON(t, conn, &errMsg)
	require.Equal(t, "auth_error", errMsg["type"])
}

// S4: two clients attached to the same base session each get their own
// mobile session and pty, and output from one's pty reaches only the data
// sockets bound to that client's control context, never the other's.
func TestDataIsolationBetweenClients(t *testing.T) {
	gw := newFakeGateway("main")
	_, srv, factory := testHubWithFactory(t, gw, "secret-token", "")

	attach := func(clientID string) *websocket.Conn {
		conn := dial(t, srv, "/ws/control")
		writeJSON(t, conn, map[string]string{"type": "auth", "token": "secret-token", "clientId": clientID})
		var ok envelope
		readJSON(t, conn, &ok)
		require.Equal(t, "auth_ok", ok.Type)
		var attached envelope
		readJSON(t, conn, &attached)
		require.Equal(t, "attached", attached.Type)
		return conn
	}

	control1 := attach("phone-1")
	control2 := attach("phone-2")
	defer control1.Close()
	defer control2.Close()

	data1 := dial(t, srv, "/ws/terminal")
	data2 := dial(t, srv, "/ws/terminal")
	writeJSON(t, data1, map[string]string{"type": "auth", "token": "secret-token", "clientId": "phone-1"})
	writeJSON(t, data2, map[string]string{"type": "auth", "token": "secret-token", "clientId": "phone-2"})

	proc1 := factory.procFor(model.MobileSessionName("phone-1"))
	require.NotNil(t, proc1)

	// Data-plane auth has no success reply, so retry Emit until the socket
	// has had time to bind: once bound, every retry's bytes arrive intact.
	var got []byte
	require.Eventually(t, func() bool {
		proc1.Emit([]byte("hello-1"))
		require.NoError(t, data1.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, msg, err := data1.ReadMessage()
		if err != nil {
			return false
		}
		got = msg
		return true
	}, 2*time.Second, 50*time.Millisecond)
	require.Equal(t, "hello-1", string(got))

	require.NoError(t, data2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := data2.ReadMessage()
	require.Error(t, err, "client 2's data socket must not receive client 1's pty output")
}
