package proxmoxclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// CloneOptions configures a `qm clone` call.
type CloneOptions struct {
	NewID      int
	Name       string
	Storage    string
	TargetNode string // empty = same node as source
	Full       bool   // false = linked clone
}

// Clone issues POST /nodes/{node}/qemu/{vmid}/clone and returns the task UPID.
func (c *Client) Clone(ctx context.Context, node string, templateVMID int, opts CloneOptions) (string, error) {
	form := url.Values{
		"newid": {fmt.Sprintf("%d", opts.NewID)},
		"name":  {opts.Name},
	}
	if opts.Storage != "" {
		form.Set("storage", opts.Storage)
	}
	if opts.TargetNode != "" {
		form.Set("target", opts.TargetNode)
	}
	if opts.Full {
		form.Set("full", "1")
	}
	return c.postForUPID(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/clone", node, templateVMID), form)
}

func (c *Client) postForUPID(ctx context.Context, path string, form url.Values) (string, error) {
	resp, err := c.post(ctx, path, form)
	if err != nil {
		return "", err
	}
	var upid string
	if err := decodeData(resp, &upid); err != nil {
		return "", err
	}
	return upid, nil
}

// Snapshot creates a named snapshot, used both for the post-deploy
// "baseline" snapshot and ad-hoc admin snapshots.
func (c *Client) Snapshot(ctx context.Context, node string, guestType models.GuestType, vmid int, name, description string) (string, error) {
	form := url.Values{"snapname": {name}}
	if description != "" {
		form.Set("description", description)
	}
	return c.postForUPID(ctx, fmt.Sprintf("/nodes/%s/%s/%d/snapshot", node, guestType, vmid), form)
}

// RollbackSnapshot restores vmid to the named snapshot, the linked-clone
// reimage path.
func (c *Client) RollbackSnapshot(ctx context.Context, node string, guestType models.GuestType, vmid int, name string) (string, error) {
	return c.postForUPID(ctx, fmt.Sprintf("/nodes/%s/%s/%d/snapshot/%s/rollback", node, guestType, vmid, name), nil)
}

// DeleteSnapshot removes a named snapshot.
func (c *Client) DeleteSnapshot(ctx context.Context, node string, guestType models.GuestType, vmid int, name string) (string, error) {
	resp, err := c.delete(ctx, fmt.Sprintf("/nodes/%s/%s/%d/snapshot/%s", node, guestType, vmid, name))
	if err != nil {
		return "", err
	}
	var upid string
	if err := decodeData(resp, &upid); err != nil {
		return "", err
	}
	return upid, nil
}

// ListSnapshots enumerates a VM's snapshots.
type Snapshot struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c *Client) ListSnapshots(ctx context.Context, node string, guestType models.GuestType, vmid int) ([]Snapshot, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/nodes/%s/%s/%d/snapshot", node, guestType, vmid))
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	if err := decodeData(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkTemplate converts a VM into a template (`qm template`).
func (c *Client) MarkTemplate(ctx context.Context, node string, vmid int) error {
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/template", node, vmid), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CreateVMShell creates an empty VM (used by the config_clone overlay
// deployment strategy) by POSTing /nodes/{node}/qemu with the full field
// set copied from the template's config.
func (c *Client) CreateVMShell(ctx context.Context, node string, vmid int, name string, opts SetVMOptions) error {
	form := opts.toValues()
	form.Set("vmid", fmt.Sprintf("%d", vmid))
	form.Set("name", name)
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/qemu", node), form)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// AttachDisk performs `qm set {vmid} --{slot} {storage}:{path}`.
func (c *Client) AttachDisk(ctx context.Context, node string, vmid int, slot, value string, updateBoot bool) error {
	form := url.Values{slot: {value}}
	if updateBoot {
		form.Set("boot", fmt.Sprintf("order=%s", slot))
	}
	resp, err := c.post(ctx, fmt.Sprintf("/nodes/%s/qemu/%d/config", node, vmid), form)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
