package api

import (
	"context"
	"net/http"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// vmView is the API-facing inventory row. is_builder_vm and (admin-only)
// mapped_to are derived from the matching VMAssignment, not stored on the
// inventory row itself.
type vmView struct {
	models.VMInventory
	IsBuilderVM bool   `json:"is_builder_vm"`
	MappedTo    string `json:"mapped_to,omitempty"`
}

// visibleVMIDs returns the set of VMIDs a non-admin account may see, or
// nil to mean "no restriction" (admins).
func (s *Server) visibleVMIDs(r *http.Request, user models.User) (map[int]bool, error) {
	switch user.Role {
	case models.RoleAdmin:
		return nil, nil
	case models.RoleStudent:
		list, err := s.store.ListAssignmentsForUser(r.Context(), user.ID)
		if err != nil {
			return nil, err
		}
		set := make(map[int]bool, len(list))
		for _, a := range list {
			set[a.ProxmoxVMID] = true
		}
		return set, nil
	case models.RoleTeacher:
		classes, err := s.store.ListClassesForTeacher(r.Context(), user.ID)
		if err != nil {
			return nil, err
		}
		set := make(map[int]bool)
		for _, c := range classes {
			owned, err := s.store.ListAssignmentsForClass(r.Context(), c.ID)
			if err != nil {
				return nil, err
			}
			for _, a := range owned {
				set[a.ProxmoxVMID] = true
			}
		}
		return set, nil
	}
	return map[int]bool{}, nil
}

func (s *Server) handleListVMs(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	vmidSet, err := s.visibleVMIDs(r, user)
	if err != nil {
		writeError(w, err)
		return
	}
	// ListVMs treats a zero-length set the same as "no restriction" (the
	// admin case is nil); a non-admin legitimately scoped to zero VMs
	// must short-circuit here instead of falling through to that.
	if vmidSet != nil && len(vmidSet) == 0 {
		writeJSON(w, http.StatusOK, []vmView{})
		return
	}

	clusterID := r.URL.Query().Get("cluster_id")
	search := r.URL.Query().Get("search")
	rows, err := s.store.ListVMs(r.Context(), clusterID, search, vmidSet)
	if err != nil {
		writeError(w, err)
		return
	}

	var usernames map[int64]string
	if user.Role == models.RoleAdmin {
		usernames, err = s.usernamesByID(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
	}

	views := make([]vmView, 0, len(rows))
	for _, v := range rows {
		view := vmView{VMInventory: v}
		assignment, err := s.store.GetAssignmentByVMID(r.Context(), v.VMID)
		if err == nil {
			view.IsBuilderVM = assignment.IsBuilderVM()
			if user.Role == models.RoleAdmin && assignment.AssignedUserID != nil {
				view.MappedTo = usernames[*assignment.AssignedUserID]
			}
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) usernamesByID(ctx context.Context) (map[int64]string, error) {
	users, err := s.store.ListAllUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

func (s *Server) handleCleanupOrphans(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.assignments.CleanupOrphans(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
