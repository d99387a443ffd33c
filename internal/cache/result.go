package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
)

// ResultKey identifies an aggregate result by category, rule set fingerprint
// and a digest of the facts. Nodes holding the same rule set share keys.
func ResultKey(category domain.Category, fingerprint string, fs facts.FactSet) (string, error) {
	// encoding/json sorts map keys, so equal fact sets hash equally.
	data, err := json.Marshal(fs.Native())
	if err != nil {
		return "", fmt.Errorf("failed to encode facts: %w", err)
	}
	sum := sha256.Sum256(data)
	return "result:" + string(category) + ":" + fingerprint + ":" + hex.EncodeToString(sum[:]), nil
}

func encodeResult(result *domain.AggregateResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("result is required")
	}
	return json.Marshal(result)
}

func decodeResult(data []byte) (*domain.AggregateResult, error) {
	if data == nil {
		return nil, nil
	}
	var result domain.AggregateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &result, nil
}
