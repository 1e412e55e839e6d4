package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/bosun/pkg/adapter"
	"github.com/Mindburn-Labs/bosun/pkg/policy"
)

// LoadTarget loads a single target profile YAML by name. It searches the
// targets directory for target_<name>.yaml.
func LoadTarget(targetsDir, name string) (*adapter.Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(targetsDir, fmt.Sprintf("target_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load target %q: %w", name, err)
	}

	var profile adapter.Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse target %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// LoadAllTargets loads every target_*.yaml file from the targets
// directory, sorted by target name. An empty directory string yields the
// built-in defaults.
func LoadAllTargets(targetsDir string) ([]adapter.Profile, error) {
	if targetsDir == "" {
		return DefaultTargets(), nil
	}

	matches, err := filepath.Glob(filepath.Join(targetsDir, "target_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make([]adapter.Profile, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile adapter.Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Name == "" {
			// Extract name from filename: target_twitter.yaml -> twitter
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "target_"), ".yaml")
		}
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// DefaultTargets is the built-in target set used when no targets
// directory is configured: a character-limited social feed and an
// accounting ledger.
func DefaultTargets() []adapter.Profile {
	return []adapter.Profile{
		{
			Name:            "twitter",
			Kind:            adapter.KindSocial,
			CharLimit:       280,
			BucketCapacity:  3,
			RefillPerMinute: 0.05,
			ExpiryHours:     48,
		},
		{
			Name:            "ledger",
			Kind:            adapter.KindAccounting,
			BucketCapacity:  10,
			RefillPerMinute: 1,
		},
	}
}

// LoadRules loads review rules from a YAML file: a list of name and
// expression pairs. An empty path yields the built-in rule set.
func LoadRules(path string) ([]policy.Rule, error) {
	if path == "" {
		return policy.DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load review rules: %w", err)
	}

	var rules []policy.Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse review rules: %w", err)
	}
	return rules, nil
}
