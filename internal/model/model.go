// Package model holds the data types shared across Warden's components:
// the persistence store, the network fabric, the hypervisor launcher, the
// agent channel, the realm lifecycle manager, and the client RPC server
// all exchange these types rather than reaching into each other's
// internals (spec.md §3).
package model

// NetworkAttachment describes a realm's single virtual NIC and its vsock
// endpoint.
type NetworkAttachment struct {
	VsockCID         uint32  `json:"vsock_cid"`
	TapDeviceName    string  `json:"tap_device_name"`
	MACAddress       string  `json:"mac_address"`
	HardwareDevice   string  `json:"hardware_device"`
	RemoteTerminalURI *string `json:"remote_terminal_uri,omitempty"`
}

// CPUConfig describes the guest vCPU model and count.
type CPUConfig struct {
	Model        string `json:"cpu"`
	CoresNumber  int    `json:"cores_number"`
}

// MemoryConfig describes guest RAM, in megabytes.
type MemoryConfig struct {
	RAMSizeMB int `json:"ram_size"`
}

// KernelConfig describes the guest boot image.
type KernelConfig struct {
	KernelPath        string `json:"kernel_path"`
	InitramfsPath     string `json:"initramfs_path,omitempty"`
	KernelCmdlineExtra string `json:"kernel_cmdline_extra,omitempty"`
}

// RealmConfig is the full, persisted configuration of one realm
// (spec.md §3: RealmConfig).
type RealmConfig struct {
	Machine         string            `json:"machine"`
	CPU             CPUConfig         `json:"cpu"`
	Memory          MemoryConfig      `json:"memory"`
	Kernel          KernelConfig      `json:"kernel"`
	Network         NetworkAttachment `json:"network"`
	KernelInitParams []string         `json:"kernel_init_params,omitempty"`
}

// RealmState is the runtime-only state of a realm. Never persisted —
// restart always implies Halted (spec.md §3, §6).
type RealmState string

const (
	RealmHalted       RealmState = "Halted"
	RealmProvisioning RealmState = "Provisioning"
	RealmRunning      RealmState = "Running"
	RealmNeedReboot   RealmState = "NeedReboot"
)

// ApplicationConfig is the user-supplied configuration of one application
// (spec.md §3: ApplicationConfig).
type ApplicationConfig struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	ImageRegistryURL   string `json:"image_registry_url"`
	ImageStorageSizeMB int    `json:"image_storage_size_mb"`
	DataStorageSizeMB  int    `json:"data_storage_size_mb"`
}

// Application is one application provisioned into a realm.
type Application struct {
	ID        string            `json:"id"`
	Config    ApplicationConfig `json:"config"`
	Installed bool              `json:"installed"`
}

// ApplicationInfo is the application line sent to the guest agent during
// provisioning (spec.md §4.4). Clients see ApplicationInfoView instead.
type ApplicationInfo struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	ImageRegistry   string `json:"image_registry"`
	ImagePartUUID   string `json:"image_part_uuid"`
	DataPartUUID    string `json:"data_part_uuid"`
}

// RealmDescription is the read-only snapshot reported to clients
// (spec.md §3: RealmDescription).
type RealmDescription struct {
	ID           string            `json:"id"`
	State        RealmState        `json:"state"`
	Applications []ApplicationInfoView `json:"applications"`
}

// ApplicationInfoView is one application line in a RealmDescription.
type ApplicationInfoView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Installed bool   `json:"installed"`
}

// Realm is one guest VM under management: its persisted config, its
// runtime-only state, and its application set (spec.md §3: Realm).
type Realm struct {
	ID     string
	Config RealmConfig
	State  RealmState
	Apps   map[string]*Application
}

// Describe produces the read-only client-facing snapshot of r.
func (r *Realm) Describe() RealmDescription {
	views := make([]ApplicationInfoView, 0, len(r.Apps))
	for _, app := range r.Apps {
		views = append(views, ApplicationInfoView{
			ID:        app.ID,
			Name:      app.Config.Name,
			Version:   app.Config.Version,
			Installed: app.Installed,
		})
	}
	return RealmDescription{ID: r.ID, State: r.State, Applications: views}
}
