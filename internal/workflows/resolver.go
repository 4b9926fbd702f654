// Package workflows loads and parameterizes the install recipes published as
// JSON records in the workflow directory. The resolver is stateless: every
// lookup re-reads the directory so operators can publish a new workflow
// without restarting the controller.
package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/models"
)

// ErrWorkflowNotFound is returned when a workflow id has no valid record.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Resolver reads workflow records from a directory keyed by id.
type Resolver struct {
	dir string
}

// NewResolver creates a resolver over dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Get loads and validates the workflow with the given id. Malformed or
// missing records surface as ErrWorkflowNotFound.
func (r *Resolver) Get(id string) (*models.Workflow, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("%w: invalid id %q", ErrWorkflowNotFound, id)
	}
	wf, err := r.load(filepath.Join(r.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if wf.ID != id {
		// The record is keyed by filename; a mismatched id field is malformed.
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// List returns every valid workflow record, sorted by id. Malformed records
// are skipped and logged rather than failing the listing.
func (r *Resolver) List() ([]*models.Workflow, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	var workflows []*models.Workflow
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		wf, err := r.load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping malformed workflow record")
			continue
		}
		if wf.ID != strings.TrimSuffix(entry.Name(), ".json") {
			log.Warn().Str("file", entry.Name()).Str("id", wf.ID).Msg("Skipping workflow with mismatched id")
			continue
		}
		workflows = append(workflows, wf)
	}
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })
	return workflows, nil
}

func (r *Resolver) load(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf models.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("invalid workflow record: %w", err)
	}
	if wf.ID == "" || wf.Name == "" || wf.KernelPath == "" || wf.InitrdPath == "" {
		return nil, fmt.Errorf("workflow record missing required fields")
	}
	if wf.Architecture == "" {
		wf.Architecture = models.ArchX86_64
	}
	if wf.BootMode == "" {
		wf.BootMode = models.BootModeBIOS
	}
	if !models.ValidArchitecture(wf.Architecture) {
		return nil, fmt.Errorf("workflow has unsupported architecture %q", wf.Architecture)
	}
	if !models.ValidBootMode(wf.BootMode) {
		return nil, fmt.Errorf("workflow has unsupported boot mode %q", wf.BootMode)
	}
	return &wf, nil
}

// Vars are the values substituted into a workflow command line.
type Vars struct {
	Server string
	NodeID string
	MAC    string
	IP     string
}

// ResolveCmdline substitutes the literal ${server}, ${node_id}, ${mac} and
// ${ip} tokens. Unknown tokens are left as-is.
func ResolveCmdline(cmdline string, vars Vars) string {
	replacer := strings.NewReplacer(
		"${server}", vars.Server,
		"${node_id}", vars.NodeID,
		"${mac}", vars.MAC,
		"${ip}", vars.IP,
	)
	return replacer.Replace(cmdline)
}
