package workspace

// stringProbeMax bounds how many bytes a string probe examines.
const stringProbeMax = 0x200

// findString probes va for a terminated printable string, trying ASCII
// first and UTF-16LE second. Minimum lengths reject the one- and two-byte
// accidents that any data region is full of.
func (im *image) findString(va uint64) (string, bool) {
	raw, ok := im.readVA(va, stringProbeMax)
	if !ok || len(raw) == 0 {
		return "", false
	}
	if s, ok := detectASCII(raw); ok {
		return s, true
	}
	return detectUTF16(raw)
}

func printable(b byte) bool {
	return (b >= 0x20 && b < 0x7f) || b == '\t' || b == '\n' || b == '\r'
}

// detectASCII accepts a run of printable bytes closed by a NUL, at least
// two characters long.
func detectASCII(raw []byte) (string, bool) {
	n := 0
	for n < len(raw) && printable(raw[n]) {
		n++
	}
	if n < 2 || n >= len(raw) || raw[n] != 0 {
		return "", false
	}
	return string(raw[:n]), true
}

// detectUTF16 accepts a run of printable-low/zero-high byte pairs closed
// by a NUL pair, at least three characters long.
func detectUTF16(raw []byte) (string, bool) {
	var chars []byte
	i := 0
	for i+1 < len(raw) && printable(raw[i]) && raw[i+1] == 0 {
		chars = append(chars, raw[i])
		i += 2
	}
	if len(chars) < 3 || i+1 >= len(raw) || raw[i] != 0 || raw[i+1] != 0 {
		return "", false
	}
	return string(chars), true
}
