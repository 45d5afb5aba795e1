package extractor

// twosComplement reinterprets the low `bits` bits of v as a signed integer.
// Hardware displacement fields are fixed-width regardless of the operand
// width of the surrounding instruction.
func twosComplement(v uint64, bits uint) int64 {
	mask := uint64(1)<<bits - 1
	v &= mask
	if v&(uint64(1)<<(bits-1)) != 0 {
		return int64(v) - int64(1)<<bits
	}
	return int64(v)
}

// allZeros reports whether every byte of the span is zero. All-zero runs
// are not distinguishing and are never emitted as Bytes features.
func allZeros(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// isAWVariant reports whether symbol looks like a Windows API name carrying
// an ANSI/wide suffix, e.g. CreateFileA or MessageBoxW.
func isAWVariant(symbol string) bool {
	if len(symbol) < 2 {
		return false
	}
	last := symbol[len(symbol)-1]
	prev := symbol[len(symbol)-2]
	return (last == 'A' || last == 'W') && prev >= 'a' && prev <= 'z'
}

// generateSymbols expands one resolved import into the names a rule may
// refer to it by: module-qualified, bare, and with the A/W suffix trimmed.
// An empty module yields only the unqualified forms.
func generateSymbols(module, symbol string) []string {
	names := make([]string, 0, 4)
	if module != "" {
		names = append(names, module+"."+symbol)
	}
	names = append(names, symbol)
	if isAWVariant(symbol) {
		trimmed := symbol[:len(symbol)-1]
		if module != "" {
			names = append(names, module+"."+trimmed)
		}
		names = append(names, trimmed)
	}
	return names
}
