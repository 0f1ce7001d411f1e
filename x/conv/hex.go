package conv

const hexd = "0123456789ABCDEF"

// AppendHex appends each byte of p as two uppercase hex digits, separated
// by sep when sep != 0.
func AppendHex(dst, p []byte, sep byte) []byte {
	for i, b := range p {
		if i > 0 && sep != 0 {
			dst = append(dst, sep)
		}
		dst = append(dst, hexd[b>>4], hexd[b&0xF])
	}
	return dst
}

// ParseHexByte parses one or two hex digits, with an optional 0x prefix.
func ParseHexByte(s string) (byte, bool) {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	var v byte
	for i := 0; i < len(s); i++ {
		d, ok := hexDigit(s[i])
		if !ok {
			return 0, false
		}
		v = v<<4 | d
	}
	return v, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
