// Package vocab holds the token vocabulary a matcher constrains. Tokens are
// identified by their position in the table and carry the raw bytes the
// detokenizer would emit for them.
package vocab

import (
	"encoding/binary"
	"hash/fnv"
	"sort"

	verr "github.com/nihei9/urubu/error"
)

type Table struct {
	tokens      [][]byte
	stop        []int32
	stopSet     map[int32]struct{}
	fingerprint uint64
}

// New builds a table. Stop token IDs must be valid and are deduplicated.
func New(tokens [][]byte, stopTokens []int32) (*Table, error) {
	t := &Table{
		tokens:  tokens,
		stopSet: map[int32]struct{}{},
	}
	for _, id := range stopTokens {
		if id < 0 || int(id) >= len(tokens) {
			return nil, verr.New(verr.KindValidation, "stop token %v is out of range", id)
		}
		if _, ok := t.stopSet[id]; ok {
			continue
		}
		t.stopSet[id] = struct{}{}
		t.stop = append(t.stop, id)
	}
	sort.Slice(t.stop, func(i, j int) bool { return t.stop[i] < t.stop[j] })

	h := fnv.New64a()
	var buf [4]byte
	for _, tok := range tokens {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(tok)))
		h.Write(buf[:])
		h.Write(tok)
	}
	for _, id := range t.stop {
		binary.LittleEndian.PutUint32(buf[:], uint32(id))
		h.Write(buf[:])
	}
	t.fingerprint = h.Sum64()
	return t, nil
}

func (t *Table) Size() int {
	return len(t.tokens)
}

// Token returns the raw bytes of a token. The result aliases the table.
func (t *Table) Token(id int32) []byte {
	return t.tokens[id]
}

func (t *Table) StopTokens() []int32 {
	return t.stop
}

func (t *Table) IsStop(id int32) bool {
	_, ok := t.stopSet[id]
	return ok
}

// Fingerprint identifies the table's contents, including the stop set.
func (t *Table) Fingerprint() uint64 {
	return t.fingerprint
}
