package opa

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

//go:embed policies/*.rego
var defaultPolicies embed.FS

// PolicyReader loads rego modules from a directory or from the built-in set.
type PolicyReader struct{}

func NewPolicyReader() *PolicyReader {
	return &PolicyReader{}
}

// ReadPolicies reads every .rego file of policiesDir, skipping _test.rego files.
func (pr *PolicyReader) ReadPolicies(policiesDir string) (map[string]string, error) {
	return pr.read(os.DirFS(policiesDir), ".", policiesDir)
}

// DefaultPolicies returns the policies compiled into the binary.
func (pr *PolicyReader) DefaultPolicies() (map[string]string, error) {
	return pr.read(defaultPolicies, "policies", "built-in policies")
}

func (pr *PolicyReader) read(fsys fs.FS, dir, origin string) (map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies directory: %w", err)
	}

	policies := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") || strings.HasSuffix(entry.Name(), "_test.rego") {
			continue
		}

		path := filepath.ToSlash(filepath.Join(dir, entry.Name()))
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		policies[entry.Name()] = string(content)
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no .rego policy files found in %s", origin)
	}

	zap.S().Named("opa").Infof("read %d policy files from %s", len(policies), origin)
	return policies, nil
}
