package evm

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Solidity appends a CBOR map describing the build to runtime code,
// followed by the map's length as a 2-byte big-endian integer:
//
//	<code> <cbor map, n bytes> <n as uint16>

// Metadata is the decoded compiler metadata trailer.
type Metadata struct {
	IPFS         string `json:"ipfs,omitempty"`
	Bzzr0        string `json:"bzzr0,omitempty"`
	Bzzr1        string `json:"bzzr1,omitempty"`
	Solc         string `json:"solc,omitempty"`
	Experimental bool   `json:"experimental,omitempty"`
	Length       int    `json:"length"` // trailer size including the length suffix
}

var errNoMetadata = errors.New("no metadata trailer")

// StripMetadata removes trailing compiler metadata sections. Stripping is
// repeated until no well-formed trailer remains, so applying it twice gives
// the same result as applying it once.
func StripMetadata(bytecode []byte) []byte {
	for {
		n, ok := trailerLength(bytecode)
		if !ok {
			return bytecode
		}
		bytecode = bytecode[:len(bytecode)-n]
	}
}

// DecodeMetadata decodes the last metadata trailer of bytecode.
func DecodeMetadata(bytecode []byte) (*Metadata, error) {
	n, ok := trailerLength(bytecode)
	if !ok {
		return nil, errNoMetadata
	}
	start := len(bytecode) - n
	md, err := decodeMetadataMap(bytecode[start : len(bytecode)-2])
	if err != nil {
		return nil, err
	}
	md.Length = n
	return md, nil
}

// trailerLength returns the size of a well-formed trailer at the end of
// code, including the 2-byte length suffix.
func trailerLength(code []byte) (int, bool) {
	if len(code) < 3 {
		return 0, false
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	if n == 0 || n+2 > len(code) {
		return 0, false
	}
	cbor := code[len(code)-2-n : len(code)-2]
	if _, err := decodeMetadataMap(cbor); err != nil {
		return 0, false
	}
	return n + 2, true
}

// decodeMetadataMap decodes a CBOR map with text keys whose values are byte
// strings, text strings, unsigned integers or booleans. The map must span
// all of b.
func decodeMetadataMap(b []byte) (*Metadata, error) {
	d := &cborReader{buf: b}
	major, count, err := d.head()
	if err != nil {
		return nil, err
	}
	if major != 5 || count == 0 {
		return nil, fmt.Errorf("metadata: expected non-empty map, got major type %d", major)
	}

	md := &Metadata{}
	for i := uint64(0); i < count; i++ {
		key, err := d.text()
		if err != nil {
			return nil, err
		}
		major, arg, err := d.head()
		if err != nil {
			return nil, err
		}
		switch major {
		case 0:
			// unsigned int values carry nothing we report
		case 2, 3:
			raw, err := d.take(arg)
			if err != nil {
				return nil, err
			}
			md.set(key, major, raw)
		case 7:
			if arg != 20 && arg != 21 {
				return nil, fmt.Errorf("metadata: unsupported simple value %d", arg)
			}
			if key == "experimental" {
				md.Experimental = arg == 21
			}
		default:
			return nil, fmt.Errorf("metadata: unsupported value type %d for %q", major, key)
		}
	}
	if d.pos != len(d.buf) {
		return nil, fmt.Errorf("metadata: %d trailing bytes", len(d.buf)-d.pos)
	}
	return md, nil
}

func (m *Metadata) set(key string, major byte, raw []byte) {
	switch key {
	case "ipfs":
		m.IPFS = hex.EncodeToString(raw)
	case "bzzr0":
		m.Bzzr0 = hex.EncodeToString(raw)
	case "bzzr1":
		m.Bzzr1 = hex.EncodeToString(raw)
	case "solc":
		// release builds store three version bytes, nightlies a string
		if major == 2 && len(raw) == 3 {
			m.Solc = fmt.Sprintf("%d.%d.%d", raw[0], raw[1], raw[2])
		} else {
			m.Solc = string(raw)
		}
	}
}

type cborReader struct {
	buf []byte
	pos int
}

func (r *cborReader) head() (byte, uint64, error) {
	if r.pos >= len(r.buf) {
		return 0, 0, errors.New("metadata: unexpected end")
	}
	b := r.buf[r.pos]
	r.pos++
	major, info := b>>5, b&0x1f

	var size int
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		size = 1
	case info == 25:
		size = 2
	case info == 26:
		size = 4
	case info == 27:
		size = 8
	default:
		return 0, 0, fmt.Errorf("metadata: unsupported additional info %d", info)
	}
	raw, err := r.take(uint64(size))
	if err != nil {
		return 0, 0, err
	}
	var v uint64
	for _, c := range raw {
		v = v<<8 | uint64(c)
	}
	return major, v, nil
}

func (r *cborReader) take(n uint64) ([]byte, error) {
	if n > uint64(len(r.buf)-r.pos) {
		return nil, errors.New("metadata: value exceeds trailer")
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *cborReader) text() (string, error) {
	major, n, err := r.head()
	if err != nil {
		return "", err
	}
	if major != 3 {
		return "", fmt.Errorf("metadata: expected text key, got major type %d", major)
	}
	raw, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
