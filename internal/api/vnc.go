package api

import (
	"net/http"
	"strconv"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func (s *Server) vncParamsFromPath(r *http.Request) (cluster models.Cluster, node, guestType string, vmid int, err error) {
	clusterID := r.PathValue("clusterId")
	node = r.PathValue("node")
	guestType = r.PathValue("type")
	vmid, convErr := strconv.Atoi(r.PathValue("vmid"))
	if convErr != nil {
		err = apierr.InvalidInputf("invalid vmid")
		return
	}
	if guestType != string(models.GuestQemu) && guestType != string(models.GuestLXC) {
		err = apierr.InvalidInputf("invalid guest type %q", guestType)
		return
	}

	cluster, ok := s.clusters.Get(clusterID)
	if !ok {
		err = apierr.NotFoundf("cluster %q not found", clusterID)
		return
	}
	return
}

func (s *Server) handleVNCTicket(w http.ResponseWriter, r *http.Request) {
	cluster, node, guestType, vmid, err := s.vncParamsFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ticket, err := s.tunnel.MintTicket(r.Context(), cluster, node, guestType, vmid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleVNCTunnel(w http.ResponseWriter, r *http.Request) {
	cluster, node, guestType, vmid, err := s.vncParamsFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ticket, err := s.tunnel.MintTicket(r.Context(), cluster, node, guestType, vmid)
	if err != nil {
		writeError(w, err)
		return
	}
	s.tunnel.ServeHTTP(w, r, cluster, node, guestType, vmid, ticket)
}
