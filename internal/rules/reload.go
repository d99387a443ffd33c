package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

// Source lists stored rules. domain.Repository satisfies it.
type Source interface {
	ListRules(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error)
}

// ReloadResult summarizes a registry reload.
type ReloadResult struct {
	Loaded      int    `json:"loaded"`
	Skipped     int    `json:"skipped"`
	Version     uint64 `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// Reload replaces the registry content with every stored rule of src.
// Inactive rules are kept so they can be toggled and tested; they never
// appear in a snapshot. On a listing error the registry is left untouched.
func (r *Registry) Reload(ctx context.Context, src Source) (ReloadResult, error) {
	stored, err := src.ListRules(ctx, domain.RuleFilter{})
	if err != nil {
		return ReloadResult{}, fmt.Errorf("failed to list rules: %w", err)
	}

	errs := r.Load(stored)
	version, fingerprint := r.Version()
	res := ReloadResult{
		Loaded:      len(stored) - len(errs),
		Skipped:     len(errs),
		Version:     version,
		Fingerprint: fingerprint,
	}

	slog.Info("rule registry reloaded",
		"loaded", res.Loaded,
		"skipped", res.Skipped,
		"version", res.Version,
		"fingerprint", res.Fingerprint,
	)
	return res, nil
}
