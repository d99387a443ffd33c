package main

import (
	"strings"
	"testing"
	"time"
)

func TestReadRows(t *testing.T) {
	data := `entity_id,amount,sender_country,is_pep,tags,label
cust-1,15000,IR,false,a|b,1
cust-2,12.5,,true,,0
broken,row
cust-3,1,US,false,,
`
	rows, err := readRows(strings.NewReader(data), 0)
	if err != nil {
		t.Fatalf("readRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.EntityID != "cust-1" || !first.Labelled || !first.Expected {
		t.Errorf("unexpected first row %+v", first)
	}
	if first.Facts["amount"] != 15000.0 {
		t.Errorf("expected numeric amount, got %v", first.Facts["amount"])
	}
	if tags, ok := first.Facts["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("expected list fact, got %v", first.Facts["tags"])
	}

	if _, ok := rows[1].Facts["sender_country"]; ok {
		t.Error("expected empty cell to be omitted")
	}
	if rows[1].Facts["is_pep"] != true || rows[1].Expected {
		t.Errorf("unexpected second row %+v", rows[1])
	}
	if rows[2].Labelled {
		t.Error("expected third row to be unlabelled")
	}

	limited, _ := readRows(strings.NewReader(data), 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestMetrics(t *testing.T) {
	m := &Metrics{}
	m.record(Row{Labelled: true, Expected: true}, true)
	m.record(Row{Labelled: true, Expected: false}, true)
	m.record(Row{Labelled: true, Expected: true}, false)
	m.record(Row{Labelled: true, Expected: false}, false)
	m.record(Row{}, true)

	if m.TruePositives != 1 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected confusion matrix %+v", m)
	}
	if m.Escalated != 3 || m.Unlabelled != 1 {
		t.Errorf("expected 3 escalated and 1 unlabelled, got %d and %d", m.Escalated, m.Unlabelled)
	}

	for i := 1; i <= 100; i++ {
		m.observe(time.Duration(i) * time.Millisecond)
	}
	if p := m.percentile(0.5); p != 50*time.Millisecond {
		t.Errorf("expected p50 of 50ms, got %v", p)
	}
	if p := m.percentile(0.99); p != 99*time.Millisecond {
		t.Errorf("expected p99 of 99ms, got %v", p)
	}
}
