package mtp3

import (
	"fmt"
	"strconv"
	"strings"
)

// PointCode is a signalling point address. ITU point codes are 14 bits wide.
type PointCode uint32

const pointCodeMask = 0x3FFF

// ParsePointCode accepts a decimal/hex integer ("1234", "0x4d2") or the ITU
// 3-8-3 structured notation ("2.154.2" or "2-154-2").
func ParsePointCode(s string) (PointCode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty point code")
	}

	sep := ""
	switch {
	case strings.Contains(s, "."):
		sep = "."
	case strings.Contains(s, "-"):
		sep = "-"
	}

	if sep == "" {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid point code %q: %w", s, err)
		}
		return PointCode(v), nil
	}

	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid point code %q: want zone%snetwork%ssp", s, sep, sep)
	}
	limits := [3]uint64{7, 255, 7}
	var fields [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid point code %q: %w", s, err)
		}
		if v > limits[i] {
			return 0, fmt.Errorf("invalid point code %q: field %d out of range", s, i+1)
		}
		fields[i] = v
	}
	return PointCode(fields[0]<<11 | fields[1]<<3 | fields[2]), nil
}

// String renders the point code in 3-8-3 notation.
func (pc PointCode) String() string {
	v := uint32(pc) & pointCodeMask
	return fmt.Sprintf("%d.%d.%d", v>>11, (v>>3)&0xFF, v&0x07)
}
