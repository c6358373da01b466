package fat

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// UnicodeFromUtf16 returns the text held by the given UTF-16 code units. The
// text ends at the first NUL or 0xFFFF (the padding used after the terminator
// in long-filename fragments).
func UnicodeFromUtf16(units []uint16) string {
	raw := make([]byte, 0, len(units)*2)
	for _, unit := range units {
		if unit == 0 || unit == 0xffff {
			break
		}

		raw = append(raw, 0, 0)
		binary.LittleEndian.PutUint16(raw[len(raw)-2:], unit)
	}

	decoded, err := utf16Decoder.NewDecoder().Bytes(raw)
	if err != nil {
		// Invalid units are substituted, so this is not expected.
		return ""
	}

	return string(decoded)
}

// UnicodeFromCodePage437 decodes OEM (short-name) bytes.
func UnicodeFromCodePage437(raw []byte) string {
	sb := strings.Builder{}
	for _, c := range raw {
		sb.WriteRune(charmap.CodePage437.DecodeByte(c))
	}

	return sb.String()
}
