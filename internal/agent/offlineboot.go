package agent

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/ipxe"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/workflows"
)

// OfflineDecider serves boot decisions from the local cache while central is
// unreachable. Every script carries the offline banner and the last sync
// time so an operator at the console can see the site is degraded.
type OfflineDecider struct {
	store         *Store
	content       *ContentCache
	serverURL     string // the agent's own URL, serving cached artifacts
	defaultAction string // local | discovery | last_known
}

// NewOfflineDecider builds the offline boot path.
func NewOfflineDecider(store *Store, content *ContentCache, serverURL, defaultAction string) *OfflineDecider {
	return &OfflineDecider{
		store:         store,
		content:       content,
		serverURL:     serverURL,
		defaultAction: defaultAction,
	}
}

// Decide mirrors the central boot decision against the cached node state.
func (d *OfflineDecider) Decide(rawMAC string) ipxe.Script {
	lastSync := d.store.LastSync()

	mac, err := models.NormalizeMAC(rawMAC)
	if err != nil {
		return ipxe.Offline(ipxe.LocalBoot(), lastSync)
	}

	node, err := d.store.GetNode(mac)
	if err != nil {
		log.Error().Err(err).Str("mac", mac).Msg("Offline boot failed to read cache")
		return ipxe.Offline(ipxe.LocalBoot(), lastSync)
	}
	if node == nil {
		return ipxe.Offline(d.unknownNodeScript(mac), lastSync)
	}

	switch node.State {
	case models.StateDiscovered, models.StateIgnored:
		return ipxe.Offline(ipxe.Discovery(mac, ipxe.DefaultWaitSeconds), lastSync)

	case models.StatePending, models.StateInstalling:
		return ipxe.Offline(d.installScript(node), lastSync)

	default:
		return ipxe.Offline(ipxe.LocalBoot(), lastSync)
	}
}

// unknownNodeScript applies the configured default for MACs the cache has
// never seen. Under the local default the machine boots its disk and central
// never hears about it. Otherwise the sighting is cached as discovered and a
// registration is queued so central learns of the machine on reconnect;
// last_known degrades to discovery since there is nothing known.
func (d *OfflineDecider) unknownNodeScript(mac string) ipxe.Script {
	if d.defaultAction == "local" {
		return ipxe.LocalBoot()
	}
	d.registerSighting(mac)
	return ipxe.Discovery(mac, ipxe.DefaultWaitSeconds)
}

// registerSighting records a first offline sighting locally and queues the
// registration for the next drain.
func (d *OfflineDecider) registerSighting(mac string) {
	now := time.Now().UTC()
	if err := d.store.PutNode(&models.CachedNode{
		MAC:            mac,
		State:          models.StateDiscovered,
		StateChangedAt: now,
	}); err != nil {
		log.Error().Err(err).Str("mac", mac).Msg("Failed to cache offline sighting")
		return
	}
	payload, err := json.Marshal(&models.Node{MACAddress: mac, State: models.StateDiscovered})
	if err != nil {
		return
	}
	if _, err := d.store.Enqueue(models.QueueRegistration, mac, payload); err != nil {
		log.Error().Err(err).Str("mac", mac).Msg("Failed to queue offline registration")
		return
	}
	log.Info().Str("mac", mac).Msg("New node sighted offline, registration queued")
}

// installScript serves a cached install when the workflow record and its
// artifacts are available locally, otherwise the node waits.
func (d *OfflineDecider) installScript(node *models.CachedNode) ipxe.Script {
	if node.WorkflowID == "" {
		return ipxe.NoWorkflow(node.MAC, ipxe.DefaultWaitSeconds)
	}
	wf, err := d.store.GetWorkflow(node.WorkflowID)
	if err != nil || wf == nil {
		log.Warn().Str("mac", node.MAC).Str("workflow", node.WorkflowID).Msg("Workflow not in offline cache")
		return ipxe.WorkflowError(node.WorkflowID, ipxe.DefaultWaitSeconds)
	}
	if !d.content.Has(wf.KernelPath) || !d.content.Has(wf.InitrdPath) {
		log.Warn().Str("mac", node.MAC).Str("workflow", wf.ID).Msg("Install artifacts not cached, deferring install")
		return ipxe.WorkflowError(wf.ID, ipxe.DefaultWaitSeconds)
	}

	cmdline := workflows.ResolveCmdline(wf.Cmdline, workflows.Vars{
		Server: d.serverURL,
		NodeID: node.NodeID,
		MAC:    node.MAC,
	})
	log.Info().Str("mac", node.MAC).Str("workflow", wf.ID).Msg("Serving cached install script offline")
	return ipxe.Install(d.serverURL, wf.KernelPath, wf.InitrdPath, cmdline)
}
