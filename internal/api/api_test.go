package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/assignments"
	"github.com/rcourtman/vmlab-orchestrator/internal/classes"
	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{DataDir: t.TempDir()}
	clusters, err := config.NewClusterStore(cfg)
	require.NoError(t, err)

	s := NewServer(st, clusters, classes.New(st), assignments.New(st), nil, nil, nil)
	return s, st
}

func TestClassVisible(t *testing.T) {
	teacher := models.User{ID: 1, Role: models.RoleTeacher}
	coOwner := models.User{ID: 2, Role: models.RoleTeacher}
	student := models.User{ID: 3, Role: models.RoleStudent}
	stranger := models.User{ID: 4, Role: models.RoleTeacher}
	admin := models.User{ID: 5, Role: models.RoleAdmin}

	class := models.Class{ID: 10, TeacherID: 1, CoOwnerIDs: []int64{2}, EnrolledUsers: []int64{3}}

	assert.True(t, classVisible(teacher, class))
	assert.True(t, classVisible(coOwner, class))
	assert.True(t, classVisible(student, class))
	assert.False(t, classVisible(stranger, class))
	assert.True(t, classVisible(admin, class))
}

func TestWriteErrorMapsApierrKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apierr.NotFoundf("x"), http.StatusNotFound},
		{apierr.AccessDeniedf("x"), http.StatusForbidden},
		{apierr.InvalidInputf("x"), http.StatusBadRequest},
		{apierr.OptimisticLockConflictf("x"), http.StatusConflict},
		{apierr.ClusterUnreachablef(nil, "x"), http.StatusBadGateway},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, c.err)
		assert.Equal(t, c.status, rec.Code)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	ss := newSessionStore(-time.Second) // already expired
	token, err := ss.create(1, models.RoleAdmin)
	require.NoError(t, err)
	_, ok := ss.lookup(token)
	assert.False(t, ok)
}

func TestHandleLoginAndAuthenticatedRequest(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, models.User{Username: "admin", PasswordHash: string(hash), Role: models.RoleAdmin})
	require.NoError(t, err)

	mux := s.Routes()

	loginReq := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"admin","password":"hunter2"}`))
	loginRec := httptest.NewRecorder()
	mux.ServeHTTP(loginRec, loginReq)
	require.Equal(t, http.StatusOK, loginRec.Code)
	assert.Contains(t, loginRec.Body.String(), `"token"`)

	// Missing auth header is rejected.
	req := httptest.NewRequest(http.MethodGet, "/api/classes", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVisibleVMIDsEmptySetShortCircuits(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	teacher, err := st.CreateUser(ctx, models.User{Username: "t", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/vms", nil)
	set, err := s.visibleVMIDs(r, teacher)
	require.NoError(t, err)
	assert.NotNil(t, set)
	assert.Empty(t, set)
}
