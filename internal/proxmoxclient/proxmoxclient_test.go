package proxmoxclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestSetVMOptionsToValuesOnlySetsNonNilFields(t *testing.T) {
	opts := SetVMOptions{
		Name:  strPtr("web-01"),
		Cores: intPtr(4),
	}
	v := opts.toValues()
	assert.Equal(t, "web-01", v.Get("name"))
	assert.Equal(t, "4", v.Get("cores"))
	assert.Empty(t, v.Get("memory"))
	assert.Empty(t, v.Get("bios"))
}

func TestSetVMOptionsToValuesIncludesNetAndExtraDisks(t *testing.T) {
	opts := SetVMOptions{
		Net:        map[string]string{"net0": "virtio,bridge=vmbr0"},
		ExtraDisks: map[string]string{"scsi1": "local-lvm:10"},
	}
	v := opts.toValues()
	assert.Equal(t, "virtio,bridge=vmbr0", v.Get("net0"))
	assert.Equal(t, "local-lvm:10", v.Get("scsi1"))
}

func TestDecodeDataUnwrapsDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Body.WriteString(`{"data":[{"vmid":101,"name":"template"}]}`)
	result := rec.Result()

	var out []ClusterResource
	require.NoError(t, decodeData(result, &out))
	require.Len(t, out, 1)
	assert.Equal(t, 101, out[0].VMID)
	assert.Equal(t, "template", out[0].Name)
}

func TestDecodeDataNilOutSkipsUnmarshal(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Body.WriteString(`{"data":null}`)
	assert.NoError(t, decodeData(rec.Result(), nil))
}

func TestNewClientRejectsUserWithoutRealm(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{
		ClusterID: "lab1",
		Host:      "pve.example.test",
		User:      "root",
		Password:  "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user@realm")
}

func TestNewClientAuthenticatesAgainstTicketEndpoint(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api2/json/access/ticket", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"ticket":              "PVE:root@pam:ABC123",
				"CSRFPreventionToken": "csrf-token",
			},
		})
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	client, err := NewClient(context.Background(), ClientConfig{
		ClusterID: "lab1",
		Host:      host,
		User:      "root@pam",
		Password:  "secret",
		VerifyTLS: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "PVE:root@pam:ABC123", client.ticket)
	assert.Equal(t, "csrf-token", client.csrf)
}
