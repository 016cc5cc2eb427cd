package ipresolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "aabbccddeeff", NormalizeMAC("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "aabbccddeeff", NormalizeMAC("aa-bb-cc-dd-ee-ff"))
}

func TestCacheFresh(t *testing.T) {
	r := New(Config{DBCacheTTL: time.Hour}, nil, nil)
	recent := time.Now().Add(-time.Minute)
	stale := time.Now().Add(-2 * time.Hour)

	assert.True(t, r.CacheFresh("10.0.0.5", &recent))
	assert.False(t, r.CacheFresh("10.0.0.5", &stale))
	assert.False(t, r.CacheFresh("", &recent))
	assert.False(t, r.CacheFresh("N/A", &recent))
	assert.False(t, r.CacheFresh("10.0.0.5", nil))
}

func TestParseNeighborOutput(t *testing.T) {
	out := "10.0.0.5 dev vmbr0 lladdr aa:bb:cc:dd:ee:ff REACHABLE\n" +
		"10.0.0.6 dev vmbr0  FAILED\n" +
		"10.0.0.7 dev vmbr0 lladdr 11:22:33:44:55:66 STALE\n"
	into := make(map[string]string)
	parseNeighborOutput(out, into)
	assert.Equal(t, "10.0.0.5", into["aabbccddeeff"])
	assert.Equal(t, "10.0.0.7", into["112233445566"])
	assert.Len(t, into, 2)
}

func TestRDPAvailable(t *testing.T) {
	assert.True(t, RDPAvailable("running", "windows", "10.0.0.5", false))
	assert.True(t, RDPAvailable("running", "linux", "10.0.0.5", true))
	assert.False(t, RDPAvailable("running", "linux", "10.0.0.5", false))
	assert.False(t, RDPAvailable("stopped", "windows", "10.0.0.5", true))
	assert.False(t, RDPAvailable("running", "windows", "", true))
}

func TestStripCIDR(t *testing.T) {
	assert.Equal(t, "10.0.0.5", stripCIDR("10.0.0.5/24"))
	assert.Equal(t, "10.0.0.5", stripCIDR("10.0.0.5"))
}
