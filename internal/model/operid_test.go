package model

import (
	"math/big"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestParseOperIDHexAndDecimalAgree(t *testing.T) {
	hex, err := ParseOperID("0x2a")
	if err != nil {
		t.Fatalf("parsing hex operId: %v", err)
	}
	dec, err := ParseOperID("42")
	if err != nil {
		t.Fatalf("parsing decimal operId: %v", err)
	}
	if !hex.Equal(dec) {
		t.Fatalf("expected 0x2a and 42 to parse to the same operId, got %s vs %s", hex, dec)
	}
	if hex.String() != "42" {
		t.Fatalf("expected canonical decimal string %q, got %q", "42", hex.String())
	}
}

func TestParseOperIDIntegerForms(t *testing.T) {
	cases := []interface{}{
		int64(7), uint64(7), int(7), float64(7), big.NewInt(7),
	}
	for _, raw := range cases {
		got, err := ParseOperID(raw)
		if err != nil {
			t.Fatalf("parsing %T(%v): %v", raw, raw, err)
		}
		if got.Int64() != 7 {
			t.Fatalf("parsing %T(%v): expected 7, got %s", raw, raw, got)
		}
	}
}

func TestParseOperIDRejectsNonIntegralFloat(t *testing.T) {
	if _, err := ParseOperID(1.5); err == nil {
		t.Fatal("expected an error parsing a non-integral float operId")
	}
}

func TestParseOperIDRejectsGarbage(t *testing.T) {
	if _, err := ParseOperID("not-a-number"); err == nil {
		t.Fatal("expected an error parsing a garbage operId string")
	}
	if _, err := ParseOperID(""); err == nil {
		t.Fatal("expected an error parsing an empty operId string")
	}
}

func TestOperIDIsZeroOnlyForUnsetValue(t *testing.T) {
	var unset OperID
	if !unset.IsZero() {
		t.Fatal("expected the zero-value OperID to be IsZero")
	}
	explicit, err := ParseOperID("0")
	if err != nil {
		t.Fatalf("parsing explicit zero operId: %v", err)
	}
	if explicit.IsZero() {
		t.Fatal("expected an explicitly-parsed operId of 0 to not be IsZero")
	}
}

func TestOperIDBigReturnsDefensiveCopy(t *testing.T) {
	id, err := ParseOperID("100")
	if err != nil {
		t.Fatalf("parsing operId: %v", err)
	}
	b := id.Big()
	b.Add(b, big.NewInt(1))
	if id.String() != "100" {
		t.Fatalf("expected mutating the returned *big.Int to not affect the OperID, got %s", id)
	}
}

func TestOperIDBSONRoundTrip(t *testing.T) {
	id, err := ParseOperID("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("parsing large operId: %v", err)
	}
	raw, err := bson.Marshal(bson.M{"operId": id})
	if err != nil {
		t.Fatalf("marshaling: %v", err)
	}
	var out struct {
		OperID OperID `bson:"operId"`
	}
	if err := bson.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if !out.OperID.Equal(id) {
		t.Fatalf("expected round-tripped operId to equal original, got %s vs %s", out.OperID, id)
	}
}
