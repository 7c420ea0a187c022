package embedcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"article-finder/internal/utils/text"
)

// Entry is one cached embedding.
type Entry struct {
	Key        string
	Vector     []float32
	Model      string
	CreatedAt  time.Time
	ValidUntil time.Time
}

// Fresh reports whether the entry may be served without asking the upstream.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.ValidUntil)
}

// Key derives the cache key for text embedded by model. Texts that differ only in
// Unicode composition or whitespace layout share a key; different models never do.
func Key(model, input string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text.Normalize(input)))
	return hex.EncodeToString(h.Sum(nil))
}

const entryFormatV1 byte = 1

var errCorruptEntry = errors.New("corrupt cache entry")

// encodeEntry lays out an entry as:
// version(1) createdAt(8) validUntil(8) modelLen(2) model dim(4) float32*dim, little endian.
func encodeEntry(e *Entry) []byte {
	buf := make([]byte, 0, 1+8+8+2+len(e.Model)+4+4*len(e.Vector))
	buf = append(buf, entryFormatV1)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.CreatedAt.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ValidUntil.UnixNano()))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Model)))
	buf = append(buf, e.Model...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Vector)))
	for _, f := range e.Vector {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeEntry(key string, data []byte) (*Entry, error) {
	if len(data) < 1+8+8+2 || data[0] != entryFormatV1 {
		return nil, errCorruptEntry
	}
	p := 1
	created := int64(binary.LittleEndian.Uint64(data[p:]))
	p += 8
	valid := int64(binary.LittleEndian.Uint64(data[p:]))
	p += 8
	modelLen := int(binary.LittleEndian.Uint16(data[p:]))
	p += 2
	if len(data) < p+modelLen+4 {
		return nil, errCorruptEntry
	}
	model := string(data[p : p+modelLen])
	p += modelLen
	dim := int(binary.LittleEndian.Uint32(data[p:]))
	p += 4
	if len(data) != p+4*dim {
		return nil, fmt.Errorf("%w: want %d vector bytes, have %d", errCorruptEntry, 4*dim, len(data)-p)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[p:]))
		p += 4
	}
	return &Entry{
		Key:        key,
		Vector:     vec,
		Model:      model,
		CreatedAt:  time.Unix(0, created),
		ValidUntil: time.Unix(0, valid),
	}, nil
}
