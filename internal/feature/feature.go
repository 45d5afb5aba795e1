// Package feature defines the feature vocabulary emitted by the extractor
// and consumed by the rule-matching engine.
package feature

import (
	"fmt"
	"strings"
)

// MaxBytesFeatureSize is the upper bound on how many bytes a single Bytes
// feature may carry.
const MaxBytesFeatureSize = 0x100

// Kind identifies the variant of a Feature.
type Kind string

const (
	KindNumber         Kind = "number"
	KindOffset         Kind = "offset"
	KindBytes          Kind = "bytes"
	KindString         Kind = "string"
	KindMnemonic       Kind = "mnemonic"
	KindAPI            Kind = "api"
	KindCharacteristic Kind = "characteristic"
)

// Feature is a tagged union over the feature kinds. It is a value type:
// two features are the same iff kind and value match, regardless of where
// they were observed.
type Feature struct {
	Kind Kind

	// Num holds the value for Number and Offset features.
	Num int64
	// Data holds the value for Bytes features.
	Data []byte
	// Text holds the value for String, Mnemonic, API and Characteristic features.
	Text string
}

// Number is an interesting immediate constant.
func Number(v int64) Feature { return Feature{Kind: KindNumber, Num: v} }

// Offset is a structure-offset style displacement.
func Offset(v int64) Feature { return Feature{Kind: KindOffset, Num: v} }

// Bytes is a referenced byte blob. The caller must not mutate b afterwards.
func Bytes(b []byte) Feature { return Feature{Kind: KindBytes, Data: b} }

// String is a referenced printable string.
func String(s string) Feature { return Feature{Kind: KindString, Text: s} }

// Mnemonic is the canonical instruction mnemonic.
func Mnemonic(s string) Feature { return Feature{Kind: KindMnemonic, Text: s} }

// API is a resolved imported API name, qualified ("kernel32.CreateFileA")
// or bare ("CreateFileA").
func API(s string) Feature { return Feature{Kind: KindAPI, Text: s} }

// Characteristic is a boolean property tag such as "nzxor" or "peb access".
func Characteristic(s string) Feature { return Feature{Kind: KindCharacteristic, Text: s} }

// ValueString renders the feature value without the kind prefix.
func (f Feature) ValueString() string {
	switch f.Kind {
	case KindNumber, KindOffset:
		if f.Num < 0 {
			return fmt.Sprintf("-0x%x", -f.Num)
		}
		return fmt.Sprintf("0x%x", f.Num)
	case KindBytes:
		return HexString(f.Data)
	default:
		return f.Text
	}
}

func (f Feature) String() string {
	return fmt.Sprintf("%s(%s)", f.Kind, f.ValueString())
}

// Equal reports whether two features have the same kind and value.
func (f Feature) Equal(other Feature) bool {
	if f.Kind != other.Kind {
		return false
	}
	switch f.Kind {
	case KindNumber, KindOffset:
		return f.Num == other.Num
	case KindBytes:
		return string(f.Data) == string(other.Data)
	default:
		return f.Text == other.Text
	}
}

// HexString renders bytes as upper-case hex pairs, e.g. "0A 40 B1".
func HexString(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
