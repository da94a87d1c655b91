package chain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/R3E-Network/rentstream/internal/chain"
	"github.com/R3E-Network/rentstream/pkg/testutil"
)

func TestParseInteger(t *testing.T) {
	tests := []struct {
		name    string
		item    chain.StackItem
		want    string
		wantErr bool
	}{
		{"string value", testutil.Integer(42), "42", false},
		{"big value", testutil.BigInteger("123456789012345678901234567890"), "123456789012345678901234567890", false},
		{"numeric json", chain.StackItem{Type: "Integer", Value: json.RawMessage(`7`)}, "7", false},
		{"boolean true", chain.StackItem{Type: "Boolean", Value: json.RawMessage(`true`)}, "1", false},
		{"garbage", chain.StackItem{Type: "Integer", Value: json.RawMessage(`"12a"`)}, "", true},
		{"wrong type", testutil.String("42"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chain.ParseInteger(tt.item)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInteger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.String() != tt.want {
				t.Errorf("ParseInteger() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseUint64_Range(t *testing.T) {
	if _, err := chain.ParseUint64(testutil.Integer(-1)); err == nil {
		t.Error("ParseUint64(-1) expected error")
	}
	if _, err := chain.ParseUint64(testutil.BigInteger("18446744073709551616")); err == nil {
		t.Error("ParseUint64(2^64) expected error")
	}
	got, err := chain.ParseUint64(testutil.Integer(9))
	if err != nil || got != 9 {
		t.Errorf("ParseUint64(9) = %d, %v", got, err)
	}
}

func TestParseAddress(t *testing.T) {
	got, err := chain.ParseAddress(testutil.AddressItem(3))
	if err != nil {
		t.Fatalf("ParseAddress() error = %v", err)
	}
	if got != testutil.Address(3) {
		t.Errorf("ParseAddress() = %s, want %s", got, testutil.Address(3))
	}
	if got[0] != 'N' {
		t.Errorf("ParseAddress() = %s, want N-prefixed address", got)
	}

	if _, err := chain.ParseAddress(testutil.Bytes([]byte{1, 2, 3})); err == nil {
		t.Error("ParseAddress(short) expected error")
	}
	if _, err := chain.ParseAddress(testutil.Integer(1)); err == nil {
		t.Error("ParseAddress(Integer) expected error")
	}
}

func TestParseHash160_HexEncodings(t *testing.T) {
	u := testutil.Hash160(0x10)
	prefixed := chain.StackItem{Type: "ByteString", Value: json.RawMessage(`"0x` + hexBE(u.BytesBE()) + `"`)}
	got, err := chain.ParseHash160(prefixed)
	if err != nil {
		t.Fatalf("ParseHash160() error = %v", err)
	}
	if got != u {
		t.Errorf("ParseHash160() = %s, want %s", got.StringLE(), u.StringLE())
	}
}

func hexBE(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, digits[c>>4], digits[c&0x0f])
	}
	return string(out)
}

func TestParseTimestampMillis(t *testing.T) {
	got, err := chain.ParseTimestampMillis(testutil.Integer(1_700_000_000_000))
	if err != nil {
		t.Fatalf("ParseTimestampMillis() error = %v", err)
	}
	want := time.UnixMilli(1_700_000_000_000).UTC()
	if !got.Equal(want) {
		t.Errorf("ParseTimestampMillis() = %v, want %v", got, want)
	}
	if _, err := chain.ParseTimestampMillis(testutil.Integer(-5)); err == nil {
		t.Error("ParseTimestampMillis(-5) expected error")
	}
}

func TestParseStringFromItem(t *testing.T) {
	got, err := chain.ParseStringFromItem(testutil.String("late return"))
	if err != nil || got != "late return" {
		t.Errorf("ParseStringFromItem() = %q, %v", got, err)
	}
	got, err = chain.ParseStringFromItem(testutil.Null())
	if err != nil || got != "" {
		t.Errorf("ParseStringFromItem(Null) = %q, %v", got, err)
	}
}

func TestParseTokenID(t *testing.T) {
	got, err := chain.ParseTokenID(testutil.Bytes([]byte{0xca, 0xfe}))
	if err != nil || got != "cafe" {
		t.Errorf("ParseTokenID(bytes) = %q, %v", got, err)
	}
	got, err = chain.ParseTokenID(testutil.Integer(77))
	if err != nil || got != "77" {
		t.Errorf("ParseTokenID(int) = %q, %v", got, err)
	}
	if _, err := chain.ParseTokenID(testutil.Null()); err == nil {
		t.Error("ParseTokenID(Null) expected error")
	}
}

func TestNormalizeHash160(t *testing.T) {
	u := testutil.Hash160(0x20)
	want := "0x" + u.StringLE()

	for _, in := range []string{want, u.StringLE(), "0X" + u.StringLE(), testutil.Address(0x20)} {
		got, err := chain.NormalizeHash160(in)
		if err != nil {
			t.Fatalf("NormalizeHash160(%q) error = %v", in, err)
		}
		if got != want {
			t.Errorf("NormalizeHash160(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := chain.NormalizeHash160("0x1234"); err == nil {
		t.Error("NormalizeHash160(short) expected error")
	}
}

func TestValidateAddress(t *testing.T) {
	if err := chain.ValidateAddress(testutil.Address(1)); err != nil {
		t.Errorf("ValidateAddress() error = %v", err)
	}
	if err := chain.ValidateAddress("not-an-address"); err == nil {
		t.Error("ValidateAddress(garbage) expected error")
	}
}
