package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

func captureOutput(f func()) string {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = oldStdout

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestConfigInfoCmd(t *testing.T) {
	t.Setenv("LABCTL_DATA_DIR", t.TempDir())

	output := captureOutput(func() {
		rootCmd.SetArgs([]string{"config", "info"})
		require.NoError(t, rootCmd.Execute())
	})

	assert.Contains(t, output, "api_port:")
	assert.Contains(t, output, "ssh_user:")
}

func TestReadPassphrase(t *testing.T) {
	oldRead := readPassword
	defer func() { readPassword = oldRead }()

	readPassword = func(fd int) ([]byte, error) { return []byte("hunter2"), nil }
	assert.Equal(t, "hunter2", readPassphrase("password: "))
}

func TestConfigSetAdminPasswordCmd(t *testing.T) {
	oldRead := readPassword
	defer func() { readPassword = oldRead }()
	t.Setenv("LABCTL_DATA_DIR", t.TempDir())

	calls := 0
	readPassword = func(fd int) ([]byte, error) {
		calls++
		return []byte("new-pass"), nil
	}

	output := captureOutput(func() {
		rootCmd.SetArgs([]string{"config", "set-admin-password", "--username", "root-admin"})
		require.NoError(t, rootCmd.Execute())
	})
	assert.Contains(t, output, "Created admin user root-admin")

	cfg, err := config.Load()
	require.NoError(t, err)
	st, err := store.Open(cfg.DBPath(), 0)
	require.NoError(t, err)
	defer st.Close()

	u, err := st.GetUserByUsername(context.Background(), "root-admin")
	require.NoError(t, err)
	assert.Equal(t, "root-admin", u.Username)
	assert.Equal(t, 2, calls)
}
