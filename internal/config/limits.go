package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stratumkit/stratum/internal/domain"
)

type limitsFile struct {
	Limits []domain.RateLimitRule `yaml:"limits"`
}

// LoadLimits reads the rate limit policy file. A missing file yields no
// rules, meaning nothing is limited.
func LoadLimits(path string) ([]domain.RateLimitRule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var f limitsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range f.Limits {
		r := &f.Limits[i]
		if r.Type == "" {
			return nil, fmt.Errorf("limits[%d]: type is required", i)
		}
		if r.MaxRequests <= 0 {
			return nil, fmt.Errorf("limits[%d] %s: max_requests must be positive", i, r.Type)
		}
		if !r.WindowType.Valid() {
			return nil, fmt.Errorf("limits[%d] %s: unknown window %q", i, r.Type, r.WindowType)
		}
		if r.WindowSize <= 0 {
			r.WindowSize = 1
		}
		if r.Per == "" {
			r.Per = domain.LimitPerUser
		}
	}
	return f.Limits, nil
}
