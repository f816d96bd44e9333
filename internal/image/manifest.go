// Package image implements the kernel's boot input: a manifest of
// embedded user ELF images, each described as a (name, offset, length)
// triple into one concatenated blob. Adapted directly from elsie's
// internal/encoding.HexEncoding: the same Intel-Hex-flavored
// `:LLAAAATT[DD...]CC` record shape, repurposed to carry image
// descriptors instead of LC-3 object code words.
package image

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Grammar documents the record shape, unchanged from the original
// encoding it's adapted from:
//
//	file  = { line } ;
//	line  = ':' len addr kind data check nl ;
//	len   = byte ;            -- length of data field in bytes
//	addr  = byte byte ;       -- record index, for readability only
//	kind  = byte ;            -- 0 = entry, 1 = end of file
//	data  = offset(8) length(8) name(len-16) ;
//	check = byte ;            -- two's complement of the byte sum
const Grammar = `
file  = { line } ;
line  = ':' len addr kind data check nl ;
len   = byte ;
addr  = byte byte ;
kind  = byte ;
data  = offset length name ;
offset = 8 * byte ;
length = 8 * byte ;
check  = byte ;
nl     = '\n' ;
`

type recordKind byte

const (
	kindEntry recordKind = 0
	kindEOF   recordKind = 1
)

// Entry describes one embedded ELF image's location within the
// concatenated blob the manifest travels alongside.
type Entry struct {
	Name   string
	Offset uint64
	Length uint64
}

// Manifest is the decoded boot-input image table, spec.md §6's "a
// linked-in table describing embedded user ELF images".
type Manifest struct {
	Entries []Entry
}

// Lookup implements internal/syscall.ImageLookup over a manifest and
// its backing blob.
type Lookup struct {
	Manifest *Manifest
	Blob     []byte
}

func (l *Lookup) Lookup(name string) ([]byte, bool) {
	for _, e := range l.Manifest.Entries {
		if e.Name == name {
			return l.Blob[e.Offset : e.Offset+e.Length], true
		}
	}

	return nil, false
}

// Pack concatenates named ELF images into one blob and builds the
// manifest describing where each one lives, the inverse of Lookup.
func Pack(images map[string][]byte, order []string) (blob []byte, manifest *Manifest) {
	manifest = &Manifest{}

	var offset uint64

	for _, name := range order {
		img := images[name]

		manifest.Entries = append(manifest.Entries, Entry{
			Name:   name,
			Offset: offset,
			Length: uint64(len(img)),
		})

		blob = append(blob, img...)
		offset += uint64(len(img))
	}

	return blob, manifest
}

func (m *Manifest) MarshalText() ([]byte, error) {
	var buf bytes.Buffer

	for i, e := range m.Entries {
		data := recordData(e)

		if err := writeRecord(&buf, i, kindEntry, data); err != nil {
			return buf.Bytes(), err
		}
	}

	if err := writeRecord(&buf, len(m.Entries), kindEOF, nil); err != nil {
		return buf.Bytes(), err
	}

	return buf.Bytes(), nil
}

func recordData(e Entry) []byte {
	data := make([]byte, 16+len(e.Name))
	binary.BigEndian.PutUint64(data[0:8], e.Offset)
	binary.BigEndian.PutUint64(data[8:16], e.Length)
	copy(data[16:], e.Name)

	return data
}

func writeRecord(buf *bytes.Buffer, idx int, kind recordKind, data []byte) error {
	enc := hex.NewEncoder(buf)

	_ = buf.WriteByte(':')

	var check byte

	lenByte := byte(len(data))
	check += lenByte

	if _, err := enc.Write([]byte{lenByte}); err != nil {
		return err
	}

	addr := [2]byte{byte(idx >> 8), byte(idx)}
	check += addr[0] + addr[1]

	if _, err := enc.Write(addr[:]); err != nil {
		return err
	}

	check += byte(kind)
	if _, err := enc.Write([]byte{byte(kind)}); err != nil {
		return err
	}

	for _, b := range data {
		check += b
	}

	if _, err := enc.Write(data); err != nil {
		return err
	}

	checksum := byte(1 + ^check)
	if _, err := enc.Write([]byte{checksum}); err != nil {
		return err
	}

	return buf.WriteByte('\n')
}

func (m *Manifest) UnmarshalText(bs []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(bs))

	for scanner.Scan() {
		rec := scanner.Bytes()
		if len(rec) == 0 {
			continue
		}

		if rec[0] != ':' {
			return fmt.Errorf("%w: line does not start with ':'", ErrDecode)
		}

		var lenByte [1]byte
		if _, err := hex.Decode(lenByte[:], rec[1:3]); err != nil {
			return fmt.Errorf("%w: len: %s", ErrDecode, err)
		}

		recLen := int(lenByte[0])

		var kindByte [1]byte
		if _, err := hex.Decode(kindByte[:], rec[7:9]); err != nil {
			return fmt.Errorf("%w: kind: %s", ErrDecode, err)
		}

		kind := recordKind(kindByte[0])

		if kind == kindEOF {
			break
		}

		if kind != kindEntry {
			return fmt.Errorf("%w: unexpected record kind: %d", ErrDecode, kind)
		}

		data := make([]byte, recLen)
		if _, err := hex.Decode(data, rec[9:9+recLen*2]); err != nil {
			return fmt.Errorf("%w: data: %s", ErrDecode, err)
		}

		if recLen < 16 {
			return fmt.Errorf("%w: record too short for offset/length", ErrDecode)
		}

		m.Entries = append(m.Entries, Entry{
			Offset: binary.BigEndian.Uint64(data[0:8]),
			Length: binary.BigEndian.Uint64(data[8:16]),
			Name:   string(data[16:]),
		})
	}

	if len(m.Entries) == 0 {
		return ErrEmpty
	}

	return nil
}

// ErrDecode covers every manifest decode failure.
var ErrDecode = errors.New("image: invalid manifest encoding")

// ErrEmpty is returned when a manifest decodes with no image entries.
var ErrEmpty = fmt.Errorf("%w: no images decoded", ErrDecode)
