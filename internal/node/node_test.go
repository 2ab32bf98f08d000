package node

import (
	"encoding/json"
	"testing"
)

func TestRoundTripFile(t *testing.T) {
	hash, err := ParseFileHash("sha256:" + sampleHex())
	if err != nil {
		t.Fatalf("ParseFileHash failed: %v", err)
	}
	n := NewFile(hash)

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Node
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !got.Equal(n) {
		t.Errorf("round trip mismatch: got %s, want %s", got, n)
	}
	gotHash, ok := got.File()
	if !ok || gotHash != hash {
		t.Errorf("File() = %v, %v; want %v, true", gotHash, ok, hash)
	}
}

func TestRoundTripScalars(t *testing.T) {
	num, err := NewNumber("123456789012345678901234567890.5")
	if err != nil {
		t.Fatalf("NewNumber failed: %v", err)
	}

	cases := []struct {
		name string
		n    Node
	}{
		{"null", NewNull()},
		{"bool", NewBool(true)},
		{"string", NewString("hello \"world\"")},
		{"bignum", num},
		{"array", NewArray([]any{"a", json.Number("1"), nil})},
		{"object", NewObject(map[string]any{"b": json.Number("2"), "a": "x"})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := json.Marshal(c.n)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			var got Node
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !got.Equal(c.n) {
				t.Errorf("round trip mismatch: got %s, want %s", got, c.n)
			}
		})
	}
}

func TestNumberPrecisionNotCoerced(t *testing.T) {
	literal := "123456789012345678901234567890"
	n, err := NewNumber(literal)
	if err != nil {
		t.Fatalf("NewNumber failed: %v", err)
	}
	num, ok := n.Scalar().(json.Number)
	if !ok {
		t.Fatalf("Scalar() returned %T, want json.Number", n.Scalar())
	}
	if num.String() != literal {
		t.Errorf("number text = %q, want %q (lost precision via float coercion)", num.String(), literal)
	}
}

func TestMalformedNodeMissingTag(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"v": 1}`), &n)
	if err == nil {
		t.Fatal("expected error for missing type tag")
	}
}

func TestMalformedNodeInconsistentTag(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"t": "bool", "v": "not-a-bool"}`), &n)
	if err == nil {
		t.Fatal("expected error for type tag inconsistent with value")
	}
}

func TestFingerprintStableKeyOrder(t *testing.T) {
	a := NewObject(map[string]any{"a": "1", "b": "2"})
	b := NewObject(map[string]any{"b": "2", "a": "1"})
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ for objects that are structurally equal modulo key order")
	}
}

func sampleHex() string {
	return "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
}
