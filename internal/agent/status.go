package agent

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Status is the agent's self-report, exposed on its status endpoint.
type Status struct {
	Online          bool       `json:"online"`
	LastOnlineAt    *time.Time `json:"lastOnlineAt,omitempty"`
	OfflineDuration string     `json:"offlineDuration,omitempty"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`

	CachedNodes int `json:"cachedNodes"`
	QueueDepth  int `json:"queueDepth"`
	FailedItems int `json:"failedItems"`
	Conflicts   int `json:"conflicts"`

	HostUptimeSeconds uint64  `json:"hostUptimeSeconds"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	CacheDiskFreeMB   uint64  `json:"cacheDiskFreeMb"`
}

// BuildStatus assembles the current agent status. Host metrics that cannot
// be read are left zero rather than failing the endpoint.
func BuildStatus(store *Store, conn *Connectivity, cacheDir string) *Status {
	st := &Status{Online: conn.IsOnline()}

	if t := conn.LastOnlineAt(); !t.IsZero() {
		st.LastOnlineAt = &t
	}
	if d := conn.OfflineDuration(); d > 0 {
		st.OfflineDuration = d.Round(time.Second).String()
	}
	if t := store.LastSync(); !t.IsZero() {
		st.LastSyncAt = &t
	}

	if nodes, err := store.ListNodes(); err == nil {
		st.CachedNodes = len(nodes)
	}
	if depth, err := store.QueueDepth(); err == nil {
		st.QueueDepth = depth
	}
	if failed, err := store.ListFailed(); err == nil {
		st.FailedItems = len(failed)
	}
	if conflicts, err := store.ListConflicts(true); err == nil {
		st.Conflicts = len(conflicts)
	}

	if uptime, err := host.Uptime(); err == nil {
		st.HostUptimeSeconds = uptime
	} else {
		log.Debug().Err(err).Msg("Failed to read host uptime")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemoryUsedPercent = vm.UsedPercent
	}
	if usage, err := disk.Usage(cacheDir); err == nil {
		st.CacheDiskFreeMB = usage.Free / (1024 * 1024)
	}
	return st
}
