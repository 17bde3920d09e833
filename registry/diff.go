package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nickyhof/BranchDB/core"
)

// Diff renders a unified diff between two registries' entries. Identical
// entry lists produce an empty string. The registry timestamp is ignored.
func Diff(previous, current core.Registry) (string, error) {
	a, err := json.MarshalIndent(previous.Entities, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal registry: %w", err)
	}
	b, err := json.MarshalIndent(current.Entities, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal registry: %w", err)
	}
	if string(a) == string(b) {
		return "", nil
	}

	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: "current",
		ToFile:   "rebuilt",
		Context:  3,
	}

	res, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "", fmt.Errorf("failed to diff registries: %w", err)
	}
	return strings.TrimSpace(res), nil
}
