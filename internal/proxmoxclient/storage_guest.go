package proxmoxclient

import (
	"context"
	"fmt"
	"net/url"
)

// StorageInfo is one row of GET /nodes/{node}/storage.
type StorageInfo struct {
	Storage string `json:"storage"`
	Type    string `json:"type"`
	Content string `json:"content"` // comma-separated content types
	Enabled int    `json:"enabled"`
	Active  int    `json:"active"`
}

func (c *Client) NodeStorage(ctx context.Context, node string) ([]StorageInfo, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/storage", node))
	if err != nil {
		return nil, err
	}
	var out []StorageInfo
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StorageContentItem is one row of GET /nodes/{node}/storage/{s}/content.
type StorageContentItem struct {
	VolID   string `json:"volid"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
	Format  string `json:"format"`
}

func (c *Client) StorageContent(ctx context.Context, node, storage, contentType string) ([]StorageContentItem, error) {
	path := fmt.Sprintf("/nodes/%s/storage/%s/content", node, storage)
	if contentType != "" {
		path += "?content=" + url.QueryEscape(contentType)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []StorageContentItem
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentNetworkInterface is one entry of the QEMU guest agent's
// network-get-interfaces response.
type AgentNetworkInterface struct {
	Name           string `json:"name"`
	HardwareAddr   string `json:"hardware-address"`
	IPAddresses    []struct {
		IPAddress     string `json:"ip-address"`
		IPAddressType string `json:"ip-address-type"`
	} `json:"ip-addresses"`
}

// GuestAgentInterfaces calls `guest-agent network-get-interfaces` for a
// running QEMU VM.
func (c *Client) GuestAgentInterfaces(ctx context.Context, node string, vmid int) ([]AgentNetworkInterface, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/agent/network-get-interfaces", node, vmid))
	if err != nil {
		return nil, err
	}
	var env struct {
		Result []AgentNetworkInterface `json:"result"`
	}
	if err := decodeData(resp, &env); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// GuestExec runs a command inside the VM via the guest agent, used by the
// hostname auto-renamer for `hostnamectl set-hostname`.
func (c *Client) GuestExec(ctx context.Context, node string, vmid int, command []string) error {
	form := url.Values{}
	for _, arg := range command {
		form.Add("command", arg)
	}
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/agent/exec", node, vmid), form)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ContainerInterface is one row of GET /nodes/{node}/lxc/{vmid}/interfaces,
// the IP resolver's guest-agent tier for LXC guests.
type ContainerInterface struct {
	Name    string `json:"name"`
	Inet    string `json:"inet"`  // CIDR, e.g. "10.0.0.5/24"
	HWAddr  string `json:"hwaddr"`
}

func (c *Client) ContainerInterfaces(ctx context.Context, node string, vmid int) ([]ContainerInterface, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/lxc/%d/interfaces", node, vmid))
	if err != nil {
		return nil, err
	}
	var out []ContainerInterface
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VNCTicket is the response of POST .../vncproxy?websocket=1&generate-password=1.
type VNCTicket struct {
	Ticket string `json:"ticket"`
	Port   string `json:"port"`
	Cert   string `json:"cert"`
}

// VNCProxy mints a console ticket for the VM, the first step of opening a
// browser VNC tunnel.
func (c *Client) VNCProxy(ctx context.Context, node, guestType string, vmid int) (*VNCTicket, error) {
	form := url.Values{"websocket": {"1"}, "generate-password": {"1"}}
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/%s/%d/vncproxy", node, guestType, vmid), form)
	if err != nil {
		return nil, err
	}
	var out VNCTicket
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupMembers lists the usernames in a Proxmox access group, used to
// resolve the admin_group config setting against live PVE state.
func (c *Client) GroupMembers(ctx context.Context, group string) ([]string, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/access/groups/%s", url.PathEscape(group)))
	if err != nil {
		return nil, err
	}
	var out struct {
		Members []string `json:"members"`
	}
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// Version calls GET /version, used as a lightweight reachability probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/version")
	if err != nil {
		return "", err
	}
	var out struct {
		Version string `json:"version"`
	}
	if err := decodeData(resp, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}
