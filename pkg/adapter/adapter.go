// Package adapter exposes every external platform as one uniform
// capability: dispatch a payload, fetch metrics, report rate-limit status.
// Each target gets the capability in two variants, simulated (pure,
// deterministic, no network) and live (through the retrying transport),
// selected once at construction and never mixed, so the approval engine is
// written once against the interface.
package adapter

import (
	"context"
	"sort"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
)

// Profile declares one target's constraints and endpoints. Zero values
// relax the matching constraint: CharLimit 0 means no truncation,
// BucketCapacity 0 leaves the target unlimited, SchemaFile "" skips
// payload schema validation.
type Profile struct {
	Name            string  `yaml:"name" json:"name"`
	Kind            string  `yaml:"kind" json:"kind"`
	CharLimit       int     `yaml:"char_limit" json:"char_limit"`
	BucketCapacity  float64 `yaml:"bucket_capacity" json:"bucket_capacity"`
	RefillPerMinute float64 `yaml:"refill_per_minute" json:"refill_per_minute"`
	Endpoint        string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SchemaFile      string  `yaml:"schema_file,omitempty" json:"schema_file,omitempty"`
	ExpiryHours     int     `yaml:"expiry_hours,omitempty" json:"expiry_hours,omitempty"`
}

// Target kinds. Kind picks the simulated metrics fixture and is otherwise
// uninterpreted.
const (
	KindSocial     = "social"
	KindAccounting = "accounting"
)

// Registry holds the configured target profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry indexes profiles by target name. Later duplicates win.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name] = p
	}
	return r
}

// Lookup returns the profile for a target.
func (r *Registry) Lookup(target string) (Profile, bool) {
	p, ok := r.profiles[target]
	return p, ok
}

// Names lists configured targets, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LimiterConfig derives the per-target bucket sizing for the rate
// limiter. Targets with zero capacity stay out of the map and are
// therefore unlimited.
func (r *Registry) LimiterConfig() map[string]limiter.TargetConfig {
	out := make(map[string]limiter.TargetConfig)
	for name, p := range r.profiles {
		if p.BucketCapacity > 0 {
			out[name] = limiter.TargetConfig{
				Capacity:        p.BucketCapacity,
				RefillPerMinute: p.RefillPerMinute,
			}
		}
	}
	return out
}

// DispatchOptions rides along with one dispatch call.
type DispatchOptions struct {
	DraftID  string
	Category string
}

// Metrics is the read-only counterpart of a receipt: per-target numeric
// observations for a period. Simulated and live variants return the same
// shape.
type Metrics struct {
	Target    string             `json:"target"`
	Period    string             `json:"period"`
	Values    map[string]float64 `json:"values"`
	Simulated bool               `json:"simulated"`
}

// Adapter is the platform capability used by the approval engine.
type Adapter interface {
	Dispatch(ctx context.Context, target, payload string, opts DispatchOptions) (*draft.Receipt, error)
	FetchMetrics(ctx context.Context, target, period string) (*Metrics, error)
	RateLimitStatus(ctx context.Context, target string) (limiter.Status, error)
	// Metadata exposes the target profile so callers can validate payloads
	// before a draft ever exists.
	Metadata(target string) (Profile, bool)
}
