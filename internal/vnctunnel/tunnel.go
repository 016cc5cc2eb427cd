// Package vnctunnel is the VNC Tunnel (C9): a two-phase console proxy.
// Phase one mints a ticket from the cluster API; phase two bridges a
// browser WebSocket to the cluster's own VNC WebSocket endpoint,
// copying binary frames in both directions until either side closes.
package vnctunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"binary"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Tunnel struct {
	registry *proxmoxclient.Registry
}

func New(registry *proxmoxclient.Registry) *Tunnel {
	return &Tunnel{registry: registry}
}

// MintTicket opens the VNC ticket for a VM, the first phase of the
// tunnel (ticket lifetime is 7200s per the Proxmox API contract).
func (t *Tunnel) MintTicket(ctx context.Context, cluster models.Cluster, node, guestType string, vmid int) (*proxmoxclient.VNCTicket, error) {
	client, err := t.registry.Get(ctx, cluster)
	if err != nil {
		return nil, err
	}
	return client.VNCProxy(ctx, node, guestType, vmid)
}

// ServeHTTP upgrades the inbound request to a WebSocket, opens a second
// WebSocket to the cluster's vncwebsocket endpoint, and forwards binary
// frames bidirectionally until either side closes.
func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request, cluster models.Cluster, node, guestType string, vmid int, ticket *proxmoxclient.VNCTicket) {
	sessionID := uuid.NewString()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("vnc tunnel: client upgrade failed")
		return
	}
	defer clientConn.Close()

	upstreamURL := buildUpstreamURL(cluster.Host, node, guestType, vmid, ticket)

	dialer := websocket.Dialer{
		Subprotocols:    []string{"binary"},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cluster.VerifyTLS},
	}
	upstreamConn, _, err := dialer.DialContext(r.Context(), upstreamURL, nil)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Str("cluster", cluster.ClusterID).Msg("vnc tunnel: upstream dial failed")
		return
	}
	defer upstreamConn.Close()

	log.Info().Str("session", sessionID).Str("cluster", cluster.ClusterID).Int("vmid", vmid).Msg("vnc tunnel: session opened")

	var wg sync.WaitGroup
	wg.Add(2)
	go pipe(&wg, clientConn, upstreamConn)
	go pipe(&wg, upstreamConn, clientConn)
	wg.Wait()

	log.Info().Str("session", sessionID).Msg("vnc tunnel: session closed")
}

func buildUpstreamURL(host, node, guestType string, vmid int, ticket *proxmoxclient.VNCTicket) string {
	return fmt.Sprintf("wss://%s:%s/api2/json/nodes/%s/%s/%d/vncwebsocket?port=%s&vncticket=%s",
		host, ticket.Port, node, guestType, vmid, ticket.Port, url.QueryEscape(ticket.Ticket))
}

func pipe(wg *sync.WaitGroup, dst, src *websocket.Conn) {
	defer wg.Done()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			dst.Close()
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			src.Close()
			return
		}
	}
}
