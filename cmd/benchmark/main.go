// Benchmark replays labelled entity facts against a running riskengine and
// reports detection quality and latency.
//
// Usage:
//
//	benchmark -csv entities.csv -category transaction -url http://localhost:8080
//
// The CSV header names the facts. Two columns are special: entity_id is sent
// as the entity id, and label (1/true) marks rows expected to escalate. Cells
// holding a|b|c are sent as lists; empty cells are omitted.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Row is one entity to evaluate.
type Row struct {
	EntityID string
	Labelled bool
	Expected bool
	Facts    map[string]any
}

type evaluateRequest struct {
	Category string         `json:"category"`
	EntityID string         `json:"entityId,omitempty"`
	Facts    map[string]any `json:"facts"`
}

type evaluateResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Status       string   `json:"status"`
	TotalScore   int      `json:"totalScore"`
	Reasons      []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	Processed  int64
	Escalated  int64
	Unlabelled int64
	Errors     int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

// percentile returns the p-th latency percentile, p in (0,1].
func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func main() {
	csvPath := flag.String("csv", "", "Path to the facts CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Riskengine base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	category := flag.String("category", "transaction", "Category to evaluate")
	limit := flag.Int("limit", 10000, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/entities.csv [-category transaction] [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: riskengine not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := readRows(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows from %s\n", len(rows), *csvPath)
	fmt.Printf("Running with %d workers against %s (category %s, tenant %s)\n", *workers, *baseURL, *category, *tenantID)

	start := time.Now()
	m := runBenchmark(rows, *baseURL, *tenantID, *category, *workers, *verbose)
	printResults(m, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readRows parses the CSV. Malformed rows are skipped.
func readRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(record) != len(header) {
			continue
		}

		row := Row{Facts: make(map[string]any, len(header))}
		for i, col := range header {
			cell := strings.TrimSpace(record[i])
			switch strings.ToLower(col) {
			case "entity_id":
				row.EntityID = cell
			case "label":
				if cell != "" {
					row.Labelled = true
					row.Expected = cell == "1" || strings.EqualFold(cell, "true")
				}
			default:
				if cell != "" {
					row.Facts[col] = parseCell(cell)
				}
			}
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func parseCell(cell string) any {
	if strings.Contains(cell, "|") {
		parts := strings.Split(cell, "|")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, parseCell(strings.TrimSpace(p)))
		}
		return out
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(cell); err == nil {
		return b
	}
	return cell
}

func runBenchmark(rows []Row, baseURL, tenantID, category string, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{}
	work := make(chan Row, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, err := evaluate(client, baseURL, tenantID, category, row)
				m.observe(time.Since(start))
				atomic.AddInt64(&m.Processed, 1)

				if err != nil {
					atomic.AddInt64(&m.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.EntityID, err)
					}
					continue
				}
				m.record(row, result.Status == "ESCALATE")

				if verbose {
					fmt.Printf("%-16s | %-8s (%3d) | expected: %-5v | %s\n",
						row.EntityID, result.Status, result.TotalScore, row.Expected, strings.Join(result.Reasons, ", "))
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()
	return m
}

func (m *Metrics) record(row Row, escalated bool) {
	if escalated {
		atomic.AddInt64(&m.Escalated, 1)
	}
	if !row.Labelled {
		atomic.AddInt64(&m.Unlabelled, 1)
		return
	}
	switch {
	case escalated && row.Expected:
		atomic.AddInt64(&m.TruePositives, 1)
	case escalated:
		atomic.AddInt64(&m.FalsePositives, 1)
	case row.Expected:
		atomic.AddInt64(&m.FalseNegatives, 1)
	default:
		atomic.AddInt64(&m.TrueNegatives, 1)
	}
}

func evaluate(client *http.Client, baseURL, tenantID, category string, row Row) (*evaluateResponse, error) {
	body, err := json.Marshal(evaluateRequest{Category: category, EntityID: row.EntityID, Facts: row.Facts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")
	fmt.Printf("   Processed:   %d\n", m.Processed)
	fmt.Printf("   Escalated:   %d (%.2f%%)\n", m.Escalated, 100*ratio(m.Escalated, m.Processed-m.Errors))
	fmt.Printf("   Unlabelled:  %d\n", m.Unlabelled)
	fmt.Printf("   Errors:      %d\n", m.Errors)

	labelled := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	if labelled > 0 {
		fmt.Println("\nCONFUSION MATRIX")
		fmt.Println("                    ESCALATE     CLEAR")
		fmt.Printf("   expected yes  %10d %10d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
		fmt.Printf("   expected no   %10d %10d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

		precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
		recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		fmt.Printf("\n   Precision:  %.4f\n", precision)
		fmt.Printf("   Recall:     %.4f\n", recall)
		fmt.Printf("   F1-Score:   %.4f\n", f1)
		fmt.Printf("   Accuracy:   %.4f\n", ratio(m.TruePositives+m.TrueNegatives, labelled))
	}

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Duration:    %v\n", duration.Round(time.Millisecond))
	if m.Processed > 0 {
		fmt.Printf("   Throughput:  %.2f req/sec\n", float64(m.Processed)/duration.Seconds())
		fmt.Printf("   p50:         %v\n", m.percentile(0.50).Round(time.Microsecond))
		fmt.Printf("   p95:         %v\n", m.percentile(0.95).Round(time.Microsecond))
		fmt.Printf("   p99:         %v\n", m.percentile(0.99).Round(time.Microsecond))
	}
	fmt.Println()
}
