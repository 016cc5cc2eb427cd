package api

import (
	"net/http"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func (s *Server) handleDeployClass(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	class, err := s.loadVisibleClass(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if user.Role == models.RoleStudent {
		writeError(w, apierr.AccessDeniedf("students may not deploy classes"))
		return
	}

	var req struct {
		Cluster      models.Cluster `json:"cluster"`
		TemplateVMID int            `json:"template_vmid"`
		StudentCount int            `json:"student_count"`
		FixedNode    string         `json:"fixed_node"`
		StartVMID    int            `json:"start_vmid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apierr.InvalidInputf("malformed deploy request"))
		return
	}
	if req.StudentCount <= 0 {
		writeError(w, apierr.InvalidInputf("student_count must be positive"))
		return
	}

	result, err := s.deploy.DeployLinkedClones(r.Context(), req.Cluster, class, req.TemplateVMID, req.StudentCount, req.FixedNode, req.StartVMID)
	if err != nil {
		writeError(w, err)
		return
	}

	// A deploy mutates cluster state out from under the inventory mirror;
	// wake the sync orchestrator immediately instead of waiting for the
	// next scheduled pass.
	if s.sync != nil {
		s.sync.TriggerImmediate()
	}
	writeJSON(w, http.StatusOK, result)
}
