package vnctunnel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
)

func TestBuildUpstreamURL(t *testing.T) {
	ticket := &proxmoxclient.VNCTicket{Ticket: "PVE:root@pam:ABC==:abc/def", Port: "5900"}
	got := buildUpstreamURL("pve.example.com", "pve1", "qemu", 101, ticket)

	assert.True(t, strings.HasPrefix(got, "wss://pve.example.com:5900/api2/json/nodes/pve1/qemu/101/vncwebsocket?"))
	assert.Contains(t, got, "port=5900")
	assert.Contains(t, got, "vncticket=PVE%3Aroot%40pam%3AABC%3D%3D%3Aabc%2Fdef")
}

func echoHandler(w http.ResponseWriter, r *http.Request) {
	u := websocket.Upgrader{}
	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func TestPipeForwardsBinaryFramesUntilClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	src, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer src.Close()

	dst, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer dst.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go pipe(&wg, dst, src)

	require.NoError(t, src.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03}))

	msgType, data, err := dst.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)

	src.Close()
	wg.Wait()
}
