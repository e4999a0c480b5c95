package loader

import (
	"fmt"
	"os"
	"path/filepath"
)

// seedDocuments is the minimal starter corpus written by SeedDefaults.
var seedDocuments = []struct {
	name string
	body string
}{
	{
		name: "nist_800-53_summary.txt",
		body: "NIST 800-53 AC-2: Manage IAM users/roles and enforce least privilege using AWS IAM policies. " +
			"Use AWS Config rules for periodic review of permissions and access keys.\n" +
			"CM-2: Maintain baseline configurations using Systems Manager and AWS Config Conformance Packs.\n",
	},
	{
		name: "cis_rhel_benchmark.txt",
		body: "CIS Linux hardening: Disable root SSH, enforce password complexity, enable auditd, " +
			"restrict firewall rules, and regularly patch instances with AWS Systems Manager.\n",
	},
}

// SeedDefaults creates dir if needed and writes the starter documents that
// are not already present. Existing files are never overwritten. It returns
// the paths it wrote.
func SeedDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("loader: create corpus dir %s: %w", dir, err)
	}

	var written []string
	for _, d := range seedDocuments {
		p := filepath.Join(dir, d.name)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.WriteFile(p, []byte(d.body), 0o644); err != nil {
			return written, fmt.Errorf("loader: write seed document %s: %w", p, err)
		}
		written = append(written, p)
	}
	return written, nil
}
