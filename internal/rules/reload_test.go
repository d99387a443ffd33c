package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
)

type staticSource struct {
	rules []*domain.Rule
	err   error
}

func (s staticSource) ListRules(ctx context.Context, filter domain.RuleFilter) ([]*domain.Rule, error) {
	return s.rules, s.err
}

func TestRegistryReload(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadsStoredRules", func(t *testing.T) {
		reg := NewRegistry(0)
		inactive := newRule("r3", domain.CategoryKYC, `{"==":[{"var":"is_pep"},true]}`, 40, 1)
		inactive.IsActive = false
		broken := newRule("r4", domain.CategoryKYC, `{">":[{"var":"not_a_real_field"},1]}`, 10, 1)

		res, err := reg.Reload(ctx, staticSource{rules: []*domain.Rule{
			newRule("r1", domain.CategoryTransaction, `{">":[{"var":"amount"},10000]}`, 30, 1),
			newRule("r2", domain.CategoryKYC, `{"<":[{"var":"kyc_completion"},50]}`, 25, 1),
			inactive,
			broken,
		}})
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if res.Loaded != 3 || res.Skipped != 1 {
			t.Errorf("expected 3 loaded 1 skipped, got %d/%d", res.Loaded, res.Skipped)
		}
		if reg.Count() != 3 {
			t.Errorf("expected 3 rules in registry, got %d", reg.Count())
		}
		if got := len(reg.Snapshot(domain.CategoryKYC).Rules); got != 1 {
			t.Errorf("expected 1 active kyc rule, got %d", got)
		}
		if res.Fingerprint == "" || res.Version == 0 {
			t.Errorf("expected version and fingerprint, got %+v", res)
		}
	})

	t.Run("ListErrorKeepsState", func(t *testing.T) {
		reg := NewRegistry(0)
		reg.Load([]*domain.Rule{newRule("keep", domain.CategoryTransaction, `{">":[{"var":"amount"},1]}`, 5, 1)})
		before, _ := reg.Version()

		_, err := reg.Reload(ctx, staticSource{err: errors.New("db down")})
		if err == nil {
			t.Fatal("expected error")
		}
		after, _ := reg.Version()
		if before != after || reg.Count() != 1 {
			t.Errorf("registry changed on failed reload: version %d -> %d, count %d", before, after, reg.Count())
		}
	})
}
