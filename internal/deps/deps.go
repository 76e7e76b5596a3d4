// Package deps probes the external executables the worker shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/manumartinm/ps3-worker/internal/config"
)

// Requirement names an executable and why it is needed.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the probe result for one Requirement.
type Status struct {
	Name        string
	Command     string
	Path        string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Satisfied reports whether every non-optional requirement was found.
func Satisfied(statuses []Status) bool {
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			return false
		}
	}
	return true
}

// Requirements lists the executables the configured pipeline uses.
func Requirements(cfg *config.Config) []Requirement {
	binary := "pdftoppm"
	if cfg != nil && strings.TrimSpace(cfg.Pipeline.RasterizerBinary) != "" {
		binary = strings.TrimSpace(cfg.Pipeline.RasterizerBinary)
	}
	return []Requirement{
		{
			Name:        "pdftoppm",
			Command:     binary,
			Description: "Renders PDF pages to images (poppler-utils)",
		},
	}
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch path, err := exec.LookPath(cmd); {
		case cmd == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		default:
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}
