// Rulecheck validates a YAML rule file and optionally dry-runs it against a
// JSON facts file, without a database or a running service.
//
// Usage:
//
//	rulecheck -rules rules.yaml
//	rulecheck -rules rules.yaml -facts entity.json -category transaction -explain
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/decision"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/domain"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/facts"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rulefile"
	"github.com/asa-00-01/regulynx-compliance-hub-sub002/internal/rules"
)

func main() {
	var (
		rulesPath string
		factsPath string
		category  string
		threshold int
		maxDepth  int
		explain   bool
	)
	flag.StringVar(&rulesPath, "rules", "", "YAML rule file (required)")
	flag.StringVar(&factsPath, "facts", "", "JSON object of entity facts to dry-run")
	flag.StringVar(&category, "category", "", "Category to evaluate the facts against")
	flag.IntVar(&threshold, "threshold", 0, "Escalation threshold (default from engine config)")
	flag.IntVar(&maxDepth, "max-depth", 0, "Maximum condition nesting (0 = default)")
	flag.BoolVar(&explain, "explain", false, "Include traces of unmatched rules")
	flag.Parse()

	if err := run(rulesPath, factsPath, category, threshold, maxDepth, explain); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(rulesPath, factsPath, category string, threshold, maxDepth int, explain bool) error {
	if rulesPath == "" {
		flag.Usage()
		return fmt.Errorf("-rules is required")
	}

	registry := rules.NewRegistry(maxDepth)
	defined, err := rulefile.Load(rulesPath, registry.Validator())
	if err != nil {
		return err
	}
	if errs := registry.Load(defined); len(errs) > 0 {
		return fmt.Errorf("%d rules failed to compile: %v", len(errs), errs[0])
	}

	counts := make(map[domain.Category]int)
	for _, r := range defined {
		counts[r.Category]++
	}
	_, fingerprint := registry.Version()
	fmt.Printf("%s: %d rules valid", rulesPath, len(defined))
	for _, c := range domain.Categories() {
		fmt.Printf(", %s=%d", c, counts[c])
	}
	fmt.Printf(" (fingerprint %s)\n", fingerprint)

	if factsPath == "" {
		return nil
	}
	cat, err := domain.ParseCategory(category)
	if err != nil {
		return fmt.Errorf("-category: %w", err)
	}
	fs, err := loadFacts(factsPath)
	if err != nil {
		return err
	}

	engineCfg := domain.DefaultConfig().Engine
	if threshold > 0 {
		engineCfg.Thresholds = map[domain.Category]int{cat: threshold}
	}
	pipeline := decision.NewPipeline(rules.NewEngine(registry, 1), decision.NewProcessor(engineCfg), decision.Options{})

	eval, err := pipeline.Evaluate(context.Background(), decision.Request{
		TenantID: "rulecheck",
		TraceID:  fmt.Sprintf("rulecheck-%d", time.Now().UnixNano()),
		Category: cat,
		Facts:    fs,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eval.ToResponse(explain))
}

func loadFacts(path string) (facts.FactSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open facts file: %w", err)
	}
	defer f.Close()

	var raw map[string]any
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("facts file must hold a JSON object: %w", err)
	}
	return facts.NewFactSet(raw)
}
