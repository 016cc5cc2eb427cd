// Package api is the API Surface (C10): a JSON HTTP layer reading from
// internal/store and delegating writes to the business-logic components
// (classes, assignments, deploy). It never touches internal/proxmoxclient
// or internal/sshpool directly — every cluster-facing effect goes through
// one of those components or, for consoles, internal/vnctunnel.
package api

import (
	"net/http"
	"time"

	"github.com/rcourtman/vmlab-orchestrator/internal/assignments"
	"github.com/rcourtman/vmlab-orchestrator/internal/classes"
	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/deploy"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	syncpkg "github.com/rcourtman/vmlab-orchestrator/internal/sync"
	"github.com/rcourtman/vmlab-orchestrator/internal/vnctunnel"

	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

// Server wires the API surface to the orchestrator's internal components.
type Server struct {
	store       *store.Store
	clusters    *config.ClusterStore
	classes     *classes.Manager
	assignments *assignments.Manager
	deploy      *deploy.Engine
	sync        *syncpkg.Orchestrator
	tunnel      *vnctunnel.Tunnel
	sessions    *sessionStore
}

func NewServer(st *store.Store, clusters *config.ClusterStore, cl *classes.Manager, asg *assignments.Manager, dep *deploy.Engine, sy *syncpkg.Orchestrator, tun *vnctunnel.Tunnel) *Server {
	return &Server{
		store:       st,
		clusters:    clusters,
		classes:     cl,
		assignments: asg,
		deploy:      dep,
		sync:        sy,
		tunnel:      tun,
		sessions:    newSessionStore(24 * time.Hour),
	}
}

// Routes builds the mux the way cmd/labctl/metrics_server.go builds its
// own: a plain http.ServeMux, handlers registered individually.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.withAuth(s.handleLogout))
	mux.HandleFunc("POST /api/join", s.withAuth(s.handleJoinClass))

	mux.HandleFunc("GET /api/classes", s.withAuth(s.handleListClasses))
	mux.HandleFunc("POST /api/classes", s.withRole(s.handleCreateClass, models.RoleAdmin, models.RoleTeacher))
	mux.HandleFunc("GET /api/classes/{id}", s.withAuth(s.handleGetClass))
	mux.HandleFunc("PUT /api/classes/{id}", s.withAuth(s.handleUpdateClass))
	mux.HandleFunc("POST /api/classes/{id}/join-token", s.withAuth(s.handleIssueJoinToken))
	mux.HandleFunc("POST /api/classes/{id}/deploy", s.withAuth(s.handleDeployClass))
	mux.HandleFunc("POST /api/classes/{id}/recover-vms", s.withAuth(s.handleRecoverVMs))

	mux.HandleFunc("GET /api/vms", s.withAuth(s.handleListVMs))
	mux.HandleFunc("POST /api/vms/orphans/cleanup", s.withRole(s.handleCleanupOrphans, models.RoleAdmin))

	mux.HandleFunc("GET /api/vnc/{clusterId}/{node}/{type}/{vmid}", s.withAuth(s.handleVNCTicket))
	mux.HandleFunc("GET /api/vnc/{clusterId}/{node}/{type}/{vmid}/ws", s.withAuth(s.handleVNCTunnel))

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}
