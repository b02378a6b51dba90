// Package compressor dedupes the rows of large sparse tables. The token
// mask tables keyed by grammar position repeat heavily, so interning each
// row and pointing positions at shared row numbers shrinks them by orders
// of magnitude.
package compressor

import "encoding/binary"

// RowTable interns variable-length rows of int32 values by content.
type RowTable struct {
	rows        [][]int32
	hash2RowNum map[string]int
}

func NewRowTable() *RowTable {
	return &RowTable{
		hash2RowNum: map[string]int{},
	}
}

// Intern returns the row number of a row with the given contents, adding it
// on first sight. The slice is retained when added; callers must not mutate
// it afterwards.
func (t *RowTable) Intern(row []int32) int {
	var rowHash string
	{
		buf := make([]byte, 0, len(row)*binary.MaxVarintLen32)
		b := make([]byte, binary.MaxVarintLen64)
		for _, v := range row {
			n := binary.PutVarint(b, int64(v))
			buf = append(buf, b[:n]...)
		}
		rowHash = string(buf)
	}
	if num, ok := t.hash2RowNum[rowHash]; ok {
		return num
	}
	num := len(t.rows)
	t.hash2RowNum[rowHash] = num
	t.rows = append(t.rows, row)
	return num
}

func (t *RowTable) Row(num int) []int32 {
	return t.rows[num]
}

func (t *RowTable) NumRows() int {
	return len(t.rows)
}
