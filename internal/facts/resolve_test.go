package facts

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	fs := FactSet{
		"amount":   Number(100),
		"volume":   String("1500.25"),
		"sci":      String("1e3"),
		"currency": String("USD"),
		"hex":      String("0x10"),
		"overflow": String("1e400"),
		"negInf":   String("-1e400"),
		"pep":      Bool(true),
	}

	tests := []struct {
		name  string
		field string
		want  Kind
		num   float64
		err   error
	}{
		{"Number", "amount", KindNumber, 100, nil},
		{"NumericString", "volume", KindNumber, 1500.25, nil},
		{"Scientific", "sci", KindNumber, 1000, nil},
		{"NonNumericString", "currency", KindNumber, 0, ErrTypeMismatch},
		{"HexRejected", "hex", KindNumber, 0, ErrTypeMismatch},
		{"OverflowRejected", "overflow", KindNumber, 0, ErrTypeMismatch},
		{"NegativeOverflowRejected", "negInf", KindNumber, 0, ErrTypeMismatch},
		{"BoolForNumber", "pep", KindNumber, 0, ErrTypeMismatch},
		{"Missing", "frequency_24h", KindNumber, 0, ErrMissingField},
		{"MissingAny", "frequency_24h", KindAny, 0, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Resolve(tt.field, fs, tt.want)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				var re *ResolutionError
				if !errors.As(err, &re) || re.Field != tt.field {
					t.Errorf("expected ResolutionError for %s, got %v", tt.field, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v.Num() != tt.num {
				t.Errorf("expected %v, got %v", tt.num, v.Num())
			}
		})
	}
}

func TestResolveAnyKeepsType(t *testing.T) {
	fs := FactSet{"volume": String("1500")}
	v, err := Resolve("volume", fs, KindAny)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind() != KindString {
		t.Errorf("expected string to be kept for non-numeric operators, got %s", v.Kind())
	}
}

func TestNewFactSet(t *testing.T) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(`{"amount": 15000, "country": "IR", "pep": false, "note": null, "tags": ["a", "b"]}`), &raw); err != nil {
		t.Fatal(err)
	}

	fs, err := NewFactSet(raw)
	if err != nil {
		t.Fatalf("NewFactSet failed: %v", err)
	}
	if _, ok := fs["note"]; ok {
		t.Error("expected null fact to be absent")
	}
	if fs["amount"].Kind() != KindNumber || fs["amount"].Num() != 15000 {
		t.Errorf("unexpected amount %s", fs["amount"])
	}
	if fs["pep"].Kind() != KindBool || fs["pep"].Boolean() {
		t.Errorf("unexpected pep %s", fs["pep"])
	}
	if fs["tags"].Kind() != KindList || len(fs["tags"].Items()) != 2 {
		t.Errorf("unexpected tags %s", fs["tags"])
	}

	if _, err := NewFactSet(map[string]any{"nested": map[string]any{"a": 1}}); err == nil {
		t.Error("expected error for object fact")
	}
	if _, err := NewFactSet(map[string]any{"nested": []any{[]any{1}}}); err == nil {
		t.Error("expected error for nested list fact")
	}
}

func TestValueEqual(t *testing.T) {
	if Number(1).Equal(String("1")) {
		t.Error("expected cross-type values to differ")
	}
	if !List(String("a"), Number(2)).Equal(List(String("a"), Number(2))) {
		t.Error("expected equal lists")
	}
	if !List(String("AF"), String("IR")).Contains(String("IR")) {
		t.Error("expected IR to be contained")
	}
	if List(Number(1)).Contains(String("1")) {
		t.Error("expected membership to be type-aware")
	}
}

func TestWithWithout(t *testing.T) {
	fs := FactSet{"amount": Number(1)}
	more := fs.With("currency", String("USD"))
	if _, ok := fs["currency"]; ok {
		t.Error("With must not mutate the receiver")
	}
	less := more.Without("amount")
	if len(less) != 1 || len(more) != 2 {
		t.Errorf("unexpected sizes %d and %d", len(less), len(more))
	}
}
