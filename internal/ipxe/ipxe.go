// Package ipxe renders the boot scripts handed to PXE clients. Every script
// is a complete iPXE program; the boot path never returns an HTTP error to
// the firmware, a local-boot script is the worst case.
package ipxe

import (
	"fmt"
	"strings"
	"time"
)

// Script kinds, used for logging and metrics labels.
const (
	KindLocal         = "local"
	KindDiscovery     = "discovery"
	KindNoWorkflow    = "no_workflow"
	KindWorkflowError = "workflow_error"
	KindInstall       = "install"
	KindInstallFailed = "install_failed"
	KindConflictHold  = "conflict_hold"
)

// DefaultWaitSeconds is how long discovery/wait scripts pause before falling
// through to local boot.
const DefaultWaitSeconds = 30

// Script is a rendered iPXE program together with its kind.
type Script struct {
	Kind string
	Body string
}

// LocalBoot tells the firmware to continue with the next boot device.
func LocalBoot() Script {
	return Script{Kind: KindLocal, Body: join(
		"#!ipxe",
		"echo PureBoot: continuing to local boot",
		"exit",
	)}
}

// Discovery tells a newly sighted or ignored node to check back later.
func Discovery(mac string, waitSeconds int) Script {
	if waitSeconds <= 0 {
		waitSeconds = DefaultWaitSeconds
	}
	return Script{Kind: KindDiscovery, Body: join(
		"#!ipxe",
		fmt.Sprintf("echo PureBoot: node %s registered, awaiting provisioning decision", mac),
		fmt.Sprintf("echo Local booting in %d seconds", waitSeconds),
		fmt.Sprintf("sleep %d", waitSeconds),
		"exit",
	)}
}

// NoWorkflow is served to a pending node with no workflow assigned yet.
func NoWorkflow(mac string, waitSeconds int) Script {
	if waitSeconds <= 0 {
		waitSeconds = DefaultWaitSeconds
	}
	return Script{Kind: KindNoWorkflow, Body: join(
		"#!ipxe",
		fmt.Sprintf("echo PureBoot: node %s is pending but has no workflow assigned", mac),
		fmt.Sprintf("sleep %d", waitSeconds),
		"exit",
	)}
}

// WorkflowError is served when the assigned workflow cannot be loaded.
func WorkflowError(workflowID string, waitSeconds int) Script {
	if waitSeconds <= 0 {
		waitSeconds = DefaultWaitSeconds
	}
	return Script{Kind: KindWorkflowError, Body: join(
		"#!ipxe",
		fmt.Sprintf("echo PureBoot: workflow %s could not be loaded", workflowID),
		fmt.Sprintf("sleep %d", waitSeconds),
		"exit",
	)}
}

// Install boots the node into its installer. server is the base URL serving
// kernel and initrd, cmdline has already had its variables resolved.
func Install(server, kernelPath, initrdPath, cmdline string) Script {
	kernel := strings.TrimSpace(fmt.Sprintf("kernel %s %s", server+kernelPath, cmdline))
	return Script{Kind: KindInstall, Body: join(
		"#!ipxe",
		kernel,
		fmt.Sprintf("initrd %s", server+initrdPath),
		"boot",
	)}
}

// InstallFailed is served once a node has exhausted its install attempts.
func InstallFailed(mac string, attempts int, lastError string) Script {
	lines := []string{
		"#!ipxe",
		fmt.Sprintf("echo PureBoot: installation failed for %s after %d attempts", mac, attempts),
	}
	if lastError != "" {
		lines = append(lines, fmt.Sprintf("echo Last error: %s", sanitizeEcho(lastError)))
	}
	lines = append(lines,
		"echo Manual intervention required; local booting",
		"exit",
	)
	return Script{Kind: KindInstallFailed, Body: join(lines...)}
}

// ConflictHold parks a node whose cached and central states diverge under the
// manual resolution policy. The node retries until an operator decides.
func ConflictHold(mac string, waitSeconds int) Script {
	if waitSeconds <= 0 {
		waitSeconds = DefaultWaitSeconds
	}
	return Script{Kind: KindConflictHold, Body: join(
		"#!ipxe",
		fmt.Sprintf("echo PureBoot: node %s has an unresolved state conflict", mac),
		fmt.Sprintf("echo Boot held until an operator resolves it, retrying in %d seconds", waitSeconds),
		fmt.Sprintf("sleep %d", waitSeconds),
		"exit",
	)}
}

// Offline rebrands a script for agent offline mode, prepending a visible
// banner and the last successful sync time.
func Offline(s Script, lastSync time.Time) Script {
	banner := []string{
		"#!ipxe",
		"echo *** OFFLINE MODE ***",
	}
	if lastSync.IsZero() {
		banner = append(banner, "echo Last sync: never")
	} else {
		banner = append(banner, fmt.Sprintf("echo Last sync: %s", lastSync.UTC().Format(time.RFC3339)))
	}
	body := strings.TrimPrefix(s.Body, "#!ipxe\n")
	return Script{Kind: s.Kind, Body: strings.Join(banner, "\n") + "\n" + body}
}

func join(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

// sanitizeEcho strips newlines so operator-supplied error text cannot inject
// script lines.
func sanitizeEcho(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
