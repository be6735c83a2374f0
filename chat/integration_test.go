package chat

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/banter/irc"
	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/testutil"
)

func newWSSupervisor(t *testing.T, srv *testutil.FakeChatServer) (*Supervisor, *recorder) {
	t.Helper()
	cfg := testConfig()
	cfg.URL = srv.URL()
	rec := &recorder{}
	sup := NewSupervisor(cfg, oauth.NewMemoryStore(testCreds()), WSDialer{HandshakeTimeout: time.Second}, rec)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, sup.Close(ctx))
	})
	return sup, rec
}

func TestWebSocketSession(t *testing.T) {
	srv := testutil.NewFakeChatServer(t)
	sup, rec := newWSSupervisor(t, srv)

	require.NoError(t, sup.Connect(context.Background(), "Dallas"))
	require.Eventually(t, func() bool {
		return len(rec.ofType(EventReady)) == 1 && len(srv.Received()) >= 4
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"PASS oauth:tok123",
		"NICK viewer",
		"JOIN #dallas",
	}, srv.Received()[:4])

	require.NoError(t, srv.Send("@display-name=Ronni :ronni!ronni@ronni.tmi.twitch.tv PRIVMSG #dallas :Kappa"))
	require.Eventually(t, func() bool { return len(rec.ofType(EventMessage)) == 1 }, 2*time.Second, 10*time.Millisecond)
	m := rec.ofType(EventMessage)[0].Payload.(irc.ChatMessage)
	require.Equal(t, "Ronni", m.DisplayName)
	require.Equal(t, "Kappa", m.Text)

	require.NoError(t, srv.Send("PING :tmi.twitch.tv"))
	require.NoError(t, sup.Send(context.Background(), "hello"))
	require.Eventually(t, func() bool {
		got := srv.Received()
		return slices.Contains(got, "PONG :tmi.twitch.tv") && slices.Contains(got, "PRIVMSG #dallas :hello")
	}, 2*time.Second, 10*time.Millisecond)

	sup.Disconnect()
	waitDone(t, sup)
	require.Eventually(t, func() bool { return slices.Contains(srv.Received(), "PART #dallas") }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, srv.Connections())
}

func TestWebSocketReconnectAfterDrop(t *testing.T) {
	srv := testutil.NewFakeChatServer(t)
	sup, rec := newWSSupervisor(t, srv)

	require.NoError(t, sup.Connect(context.Background(), "dallas"))
	require.Eventually(t, func() bool { return len(rec.ofType(EventReady)) == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.DropConnections()
	require.Eventually(t, func() bool { return len(rec.ofType(EventReady)) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, srv.Connections())
	require.True(t, rec.hasStatus(StatusReconnecting))
}

func TestWebSocketLoginFailure(t *testing.T) {
	srv := testutil.NewFakeChatServer(t)
	srv.Reply = func(line string) []string {
		if line == "NICK viewer" {
			return []string{":tmi.twitch.tv NOTICE * :Login authentication failed"}
		}
		return nil
	}
	sup, _ := newWSSupervisor(t, srv)

	require.NoError(t, sup.Connect(context.Background(), "dallas"))
	waitDone(t, sup)
	require.Equal(t, 3, srv.Connections())
	require.Contains(t, sup.Snapshot().LastError, "login authentication failed")
}
