package extractor

import (
	"testing"
)

func TestTwosComplementRoundTrip(t *testing.T) {
	tests := []int64{
		0, 1, -1, 4, -4, 0x7fffffff, -0x80000000, 0x1000, -0x1000, 42,
	}
	for _, want := range tests {
		encoded := uint64(uint32(want))
		if got := twosComplement(encoded, 32); got != want {
			t.Errorf("twosComplement(%#x, 32) = %d, want %d", encoded, got, want)
		}
	}
}

func TestTwosComplementMasksHighBits(t *testing.T) {
	// a 64-bit value with garbage above bit 31 must decode from the low
	// 32 bits only
	if got := twosComplement(0xdeadbeef_fffffffc, 32); got != -4 {
		t.Errorf("got %d, want -4", got)
	}
}

func TestAllZeros(t *testing.T) {
	if !allZeros([]byte{0, 0, 0}) {
		t.Error("expected all zeros")
	}
	if allZeros([]byte{0, 1, 0}) {
		t.Error("expected not all zeros")
	}
	if !allZeros(nil) {
		t.Error("empty span counts as all zeros")
	}
}

func TestGenerateSymbols(t *testing.T) {
	tests := []struct {
		name   string
		module string
		symbol string
		want   []string
	}{
		{
			name:   "plain",
			module: "kernel32",
			symbol: "ExitProcess",
			want:   []string{"kernel32.ExitProcess", "ExitProcess"},
		},
		{
			name:   "aw variant",
			module: "KERNEL32",
			symbol: "CreateFileA",
			want:   []string{"KERNEL32.CreateFileA", "CreateFileA", "KERNEL32.CreateFile", "CreateFile"},
		},
		{
			name:   "no module",
			module: "",
			symbol: "memcpy",
			want:   []string{"memcpy"},
		},
		{
			name:   "wide variant",
			module: "user32",
			symbol: "MessageBoxW",
			want:   []string{"user32.MessageBoxW", "MessageBoxW", "user32.MessageBox", "MessageBox"},
		},
		{
			name:   "lowercase suffix is not aw",
			module: "msvcrt",
			symbol: "_ltow",
			want:   []string{"msvcrt._ltow", "_ltow"},
		},
		{
			name:   "single letter symbol",
			module: "",
			symbol: "W",
			want:   []string{"W"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generateSymbols(tt.module, tt.symbol)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestLooksLikeCookieComment(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"xor ecx, ebp ; StackCookie", true},
		{"mov eax, ___security_cookie", true},
		{"  Stack Cookie check  ", true},
		{"cookie", false},
		{"stack smash", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := looksLikeCookieComment(tt.text); got != tt.want {
			t.Errorf("looksLikeCookieComment(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
