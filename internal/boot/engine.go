// Package boot implements the PXE boot decision engine: every request maps a
// MAC address and the node's current lifecycle state onto an iPXE script.
package boot

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/config"
	"github.com/pureboot/pureboot/internal/ipxe"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/models"
	"github.com/pureboot/pureboot/internal/store"
	"github.com/pureboot/pureboot/internal/workflows"
)

// Engine decides what script a PXE client receives.
type Engine struct {
	cfg       *config.Config
	lifecycle *lifecycle.Manager
	resolver  *workflows.Resolver
}

// NewEngine wires the boot decision engine.
func NewEngine(cfg *config.Config, lm *lifecycle.Manager, resolver *workflows.Resolver) *Engine {
	return &Engine{cfg: cfg, lifecycle: lm, resolver: resolver}
}

// Decide maps a boot request onto an iPXE script. The boot path never
// surfaces an error to the firmware: any failure degrades to local boot.
func (e *Engine) Decide(rawMAC, clientIP string, hints models.HardwareHints) ipxe.Script {
	mac, err := models.NormalizeMAC(rawMAC)
	if err != nil {
		log.Warn().Str("mac", rawMAC).Str("ip", clientIP).Msg("Boot request with invalid MAC")
		return ipxe.LocalBoot()
	}

	node, err := e.lifecycle.Store().GetNodeByMAC(mac)
	if err != nil {
		if !errors.Is(err, store.ErrNodeNotFound) {
			log.Error().Err(err).Str("mac", mac).Msg("Boot request failed to load node")
			return ipxe.LocalBoot()
		}
		if !e.cfg.AutoRegister {
			log.Debug().Str("mac", mac).Msg("Unknown MAC and auto-register disabled")
			return ipxe.LocalBoot()
		}
		node, err = e.lifecycle.AutoRegister(mac, clientIP, hints)
		if err != nil {
			log.Error().Err(err).Str("mac", mac).Msg("Auto-registration failed")
			return ipxe.LocalBoot()
		}
		return ipxe.Discovery(mac, ipxe.DefaultWaitSeconds)
	}

	node, err = e.lifecycle.BootTouch(node.ID, clientIP, hints)
	if err != nil {
		log.Error().Err(err).Str("mac", mac).Msg("Boot sighting update failed")
		return ipxe.LocalBoot()
	}

	switch node.State {
	case models.StateDiscovered, models.StateIgnored:
		return ipxe.Discovery(mac, ipxe.DefaultWaitSeconds)

	case models.StatePending:
		return e.installScript(node)

	case models.StateInstalling:
		return e.installingScript(node)

	case models.StateInstallFailed:
		return ipxe.InstallFailed(mac, node.InstallAttempts, node.LastInstallError)

	default:
		// installed, active, retired, decommissioned, anything else: the
		// machine boots from its own disk.
		return ipxe.LocalBoot()
	}
}

// installScript composes the install script for a pending node.
func (e *Engine) installScript(node *models.Node) ipxe.Script {
	if node.WorkflowID == "" {
		return ipxe.NoWorkflow(node.MACAddress, ipxe.DefaultWaitSeconds)
	}

	wf, err := e.resolver.Get(node.WorkflowID)
	if err != nil {
		log.Warn().Err(err).Str("node", node.ID).Str("workflow", node.WorkflowID).Msg("Assigned workflow not loadable")
		return ipxe.WorkflowError(node.WorkflowID, ipxe.DefaultWaitSeconds)
	}

	cmdline := workflows.ResolveCmdline(wf.Cmdline, workflows.Vars{
		Server: e.cfg.ServerURL,
		NodeID: node.ID,
		MAC:    node.MACAddress,
		IP:     node.IPAddress,
	})
	log.Info().Str("node", node.ID).Str("workflow", wf.ID).Msg("Serving install script")
	return ipxe.Install(e.cfg.ServerURL, wf.KernelPath, wf.InitrdPath, cmdline)
}

// installingScript handles a PXE sighting of a node that should be mid
// install. Seeing the firmware again past the timeout means the install
// never finished; the timeout path decides between retry and failure.
func (e *Engine) installingScript(node *models.Node) ipxe.Script {
	updated, err := e.lifecycle.CheckInstallTimeout(node.ID)
	if err != nil {
		log.Error().Err(err).Str("node", node.ID).Msg("Install timeout check failed")
		return ipxe.LocalBoot()
	}

	switch updated.State {
	case models.StateInstallFailed:
		return ipxe.InstallFailed(updated.MACAddress, updated.InstallAttempts, updated.LastInstallError)
	case models.StateInstalling:
		if updated.InstallAttempts > node.InstallAttempts {
			// Timeout fired but retries remain: hand out the installer again.
			return e.installScript(updated)
		}
		// Within the timeout the install is presumed running on the node.
		return ipxe.LocalBoot()
	default:
		return ipxe.LocalBoot()
	}
}
