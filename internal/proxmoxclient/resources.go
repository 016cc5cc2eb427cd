package proxmoxclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// ClusterResource is one row of GET /cluster/resources?type=vm.
type ClusterResource struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // "qemu" or "lxc"
	VMID       int     `json:"vmid"`
	Node       string  `json:"node"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Template   int     `json:"template"`
	MaxMem     int64   `json:"maxmem"`
	MaxCPU     int     `json:"maxcpu"`
	MaxDisk    int64   `json:"maxdisk"`
	Uptime     int64   `json:"uptime"`
	CPU        float64 `json:"cpu"`
	Mem        int64   `json:"mem"`
	Tags       string  `json:"tags"`
}

// ClusterResources enumerates all VMs/containers cluster-wide. This is the
// fast path for a full inventory sync.
func (c *Client) ClusterResources(ctx context.Context) ([]ClusterResource, error) {
	resp, err := c.get(ctx, "/cluster/resources?type=vm")
	if err != nil {
		return nil, err
	}
	var out []ClusterResource
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NodeName is one row of GET /nodes.
type NodeName struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// Nodes lists the cluster's member nodes, used by the per-node enumeration
// fallback and the deployment engine's placement logic.
func (c *Client) Nodes(ctx context.Context) ([]NodeName, error) {
	resp, err := c.get(ctx, "/nodes")
	if err != nil {
		return nil, err
	}
	var out []NodeName
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GuestSummary is one row of GET /nodes/{node}/qemu or /nodes/{node}/lxc,
// the per-node enumeration fallback used when cluster/resources is
// unavailable.
type GuestSummary struct {
	VMID     int     `json:"vmid"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Template int     `json:"template"`
	CPU      float64 `json:"cpu"`
	Mem      int64   `json:"mem"`
	MaxMem   int64   `json:"maxmem"`
}

func (c *Client) NodeGuests(ctx context.Context, node string, guestType models.GuestType) ([]GuestSummary, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/%s", node, guestType))
	if err != nil {
		return nil, err
	}
	var out []GuestSummary
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VMStatus is GET /nodes/{node}/{type}/{vmid}/status/current, used by the
// quick-sync per-VM refresh.
type VMStatus struct {
	Status string  `json:"status"`
	CPU    float64 `json:"cpu"`
	Mem    int64   `json:"mem"`
	Uptime int64   `json:"uptime"`
}

func (c *Client) VMStatus(ctx context.Context, node string, guestType models.GuestType, vmid int) (*VMStatus, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/%s/%d/status/current", node, guestType, vmid))
	if err != nil {
		return nil, err
	}
	var out VMStatus
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VMConfig is a subset of GET /nodes/{node}/{type}/{vmid}/config: the
// fields the deployment engine and template sync care about.
type VMConfig struct {
	Raw map[string]any
}

func (c *Client) VMConfig(ctx context.Context, node string, guestType models.GuestType, vmid int) (*VMConfig, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/%s/%d/config", node, guestType, vmid))
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := decodeData(resp, &raw); err != nil {
		return nil, err
	}
	return &VMConfig{Raw: raw}, nil
}

// SetVMOptions represents the explicit, fully-optional config struct for
// `qm set` style edits. Every field maps 1:1 to a Proxmox config key; only
// non-nil fields are sent, instead of a free-form map for dozens of
// loosely related config keys.
type SetVMOptions struct {
	Name        *string
	Cores       *int
	Sockets     *int
	MemoryMB    *int
	CPUType     *string
	Machine     *string
	BIOS        *string
	VGA         *string
	SCSIHW      *string
	Boot        *string
	Agent       *string
	Net         map[string]string // netN -> value
	ExtraDisks  map[string]string // e.g. "scsi0" -> value
	TPMState    *string
	EFIDisk     *string
}

func (o *SetVMOptions) toValues() url.Values {
	v := url.Values{}
	set := func(key string, val *string) {
		if val != nil {
			v.Set(key, *val)
		}
	}
	setInt := func(key string, val *int) {
		if val != nil {
			v.Set(key, fmt.Sprintf("%d", *val))
		}
	}
	set("name", o.Name)
	setInt("cores", o.Cores)
	setInt("sockets", o.Sockets)
	setInt("memory", o.MemoryMB)
	set("cpu", o.CPUType)
	set("machine", o.Machine)
	set("bios", o.BIOS)
	set("vga", o.VGA)
	set("scsihw", o.SCSIHW)
	set("boot", o.Boot)
	set("agent", o.Agent)
	set("tpmstate0", o.TPMState)
	set("efidisk0", o.EFIDisk)
	for k, val := range o.Net {
		v.Set(k, val)
	}
	for k, val := range o.ExtraDisks {
		v.Set(k, val)
	}
	return v
}

// SetVM issues `qm set`-equivalent config writes via the API.
func (c *Client) SetVM(ctx context.Context, node string, guestType models.GuestType, vmid int, opts SetVMOptions) error {
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/%s/%d/config", node, guestType, vmid), opts.toValues())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// StartVM / ShutdownVM issue the async status transitions used by overlay
// reimage (both) and the auto-shutdown daemon (ShutdownVM).
func (c *Client) StartVM(ctx context.Context, node string, guestType models.GuestType, vmid int) (string, error) {
	return c.postForUPID(ctx, fmt.Sprintf("/nodes/%s/%s/%d/status/start", node, guestType, vmid), nil)
}

func (c *Client) ShutdownVM(ctx context.Context, node string, guestType models.GuestType, vmid int) (string, error) {
	return c.postForUPID(ctx, fmt.Sprintf("/nodes/%s/%s/%d/status/shutdown", node, guestType, vmid), nil)
}
