package models

// Workflow is a parameterizable install recipe addressed by id. Workflows are
// immutable per id; editing means publishing a replacement record.
type Workflow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	KernelPath   string `json:"kernelPath"`
	InitrdPath   string `json:"initrdPath"`
	Cmdline      string `json:"cmdline"`
	Architecture string `json:"architecture,omitempty"`
	BootMode     string `json:"bootMode,omitempty"`
}
