// Package models holds the domain entities shared across the orchestrator:
// users, classes, templates, VM assignments, inventory rows and clusters.
package models

import "time"

// Role is a tagged variant over the user's permission level. Authorization
// checks dispatch on the variant, never on the raw string.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// DeploymentMethod selects the cloning strategy a class uses.
type DeploymentMethod string

const (
	DeploymentLinkedClone DeploymentMethod = "linked_clone"
	DeploymentConfigClone DeploymentMethod = "config_clone"
)

// AssignmentStatus is the lifecycle state of a VMAssignment row.
type AssignmentStatus string

const (
	StatusAvailable AssignmentStatus = "available"
	StatusAssigned  AssignmentStatus = "assigned"
	StatusDeleting  AssignmentStatus = "deleting"
)

// GuestType distinguishes QEMU VMs from LXC containers, mirroring the
// Proxmox API's own type discriminator.
type GuestType string

const (
	GuestQemu GuestType = "qemu"
	GuestLXC  GuestType = "lxc"
)

// User is a local account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// RestrictHours enforces a daily access window for a class's student VMs.
type RestrictHours struct {
	Enabled bool
	Start   int // hour 0-23, inclusive
	End     int // hour 0-23, exclusive
}

// AutoShutdown enforces idle-CPU-based shutdown of a class's student VMs.
type AutoShutdown struct {
	Enabled      bool
	CPUThreshold float64 // percent, e.g. 5.0
	IdleMinutes  int
}

// Class is a teacher-owned lab section with a pool of student VMs.
type Class struct {
	ID                int64
	Name              string
	Description       string
	TeacherID         int64
	TemplateID        *int64
	JoinToken         *string
	TokenExpiresAt    *time.Time
	TokenNeverExpires bool
	PoolSize          int
	DeploymentMethod  DeploymentMethod
	DeploymentCluster string
	VMIDPrefix        *int
	AutoShutdown      AutoShutdown
	RestrictHours     RestrictHours
	MaxUsageHours     int
	CPUCores          int
	MemoryMB          int
	CloneTaskID       string
	LockVersion       int

	CoOwnerIDs    []int64
	EnrolledUsers []int64
}

// IsTokenValid reports whether the class's join token is present and
// either never-expiring or not yet past its expiry.
func (c *Class) IsTokenValid(now time.Time) bool {
	if c.JoinToken == nil || *c.JoinToken == "" {
		return false
	}
	if c.TokenNeverExpires {
		return true
	}
	return c.TokenExpiresAt != nil && now.Before(*c.TokenExpiresAt)
}

// CachedSpecs mirrors the subset of a template's config worth caching
// locally so the API surface doesn't need a live Proxmox round trip.
type CachedSpecs struct {
	Cores         int
	Sockets       int
	MemoryMB      int
	OSType        string
	DiskStorage   string
	DiskSizeGB    float64
	NetworkBridge string
}

// Template is a read-only VM source for cloning.
type Template struct {
	ID                 int64
	Name               string
	ProxmoxVMID        int
	ClusterHost        string
	Node               string
	IsReplica          bool
	CreatedBy          *int64
	IsClassTemplate    bool
	ClassID            *int64
	OriginalTemplateID *int64
	CachedSpecs        CachedSpecs
	LastVerifiedAt      time.Time
}

// VMAssignment is a concrete student/builder VM slot.
type VMAssignment struct {
	ID                 int64
	ClassID            *int64
	ProxmoxVMID        int
	VMName             string
	MACAddress         string
	CachedIP           string
	IPUpdatedAt        *time.Time
	Node               string
	AssignedUserID     *int64
	Status             AssignmentStatus
	IsTemplateVM       bool
	ManuallyAdded      bool
	HostnameConfigured bool
	TargetHostname     string
	UsageHours         float64
	CreatedAt          time.Time
	AssignedAt         *time.Time
}

// IsPoolMember reports whether this assignment is an unclaimed pool slot
// for the given class.
func (a *VMAssignment) IsPoolMember(classID int64) bool {
	return a.ClassID != nil && *a.ClassID == classID && a.AssignedUserID == nil && a.Status == StatusAvailable
}

// IsBuilderVM reports whether this assignment is a standalone VM owned
// directly by a user rather than through a class.
func (a *VMAssignment) IsBuilderVM() bool {
	return a.ClassID == nil && a.AssignedUserID != nil && !a.IsTemplateVM
}

// IsOrphan reports whether this assignment has neither an owning class
// nor an assigned user — a stray row the orphan-cleanup endpoint may
// remove.
func (a *VMAssignment) IsOrphan() bool {
	return a.ClassID == nil && a.AssignedUserID == nil
}

// VMInventory is the eventually-consistent mirror of cluster state.
// Written only by the sync orchestrator; read by the API surface.
type VMInventory struct {
	ID              int64
	ClusterID       string
	VMID            int
	Name            string
	Node            string
	Status          string
	Type            GuestType
	Category        string
	IP              string
	MACAddress      string
	MemoryMB        int64
	Cores           int
	DiskSizeGB      float64
	UptimeSeconds   int64
	CPUUsage        float64
	MemoryUsage     float64
	IsTemplate      bool
	Tags            string
	RDPAvailable    bool
	SSHAvailable    bool
	LastUpdated     time.Time
	LastStatusCheck time.Time
	SyncError       string
}

// PlaceholderIPs are sentinel values that must never overwrite a
// known-real cached IP during an inventory merge.
var PlaceholderIPs = map[string]bool{
	"":            true,
	"N/A":         true,
	"Fetching...": true,
}

// IsPlaceholderIP reports whether ip is one of the known non-real sentinels.
func IsPlaceholderIP(ip string) bool {
	return PlaceholderIPs[ip]
}

// ISOImage is a discovered ISO volume, managed exclusively by the sync
// orchestrator.
type ISOImage struct {
	VolID        string
	Name         string
	SizeBytes    int64
	Node         string
	Storage      string
	ClusterID    string
	DiscoveredAt time.Time
	LastSeen     time.Time
}

// Cluster is the configuration entity for one Proxmox VE cluster.
type Cluster struct {
	ClusterID  string
	Name       string
	Host       string
	Port       int
	User       string
	Password   string
	VerifyTLS  bool

	DefaultStorage  string
	TemplateStorage string
	ISOStorage      string
	QCOW2TemplatePath string
	QCOW2ImagesPath    string

	AdminGroup string
	AdminUsers []string

	ARPSubnets []string

	VMCacheTTL time.Duration

	IsDefault            bool
	IsActive             bool
	AllowVMDeployment    bool
	AllowTemplateSync    bool
	AllowISOSync         bool
	AutoShutdownEnabled  bool
	Priority             int
	EnableIPLookup       bool
	EnableIPPersistence  bool
	Description          string
}
