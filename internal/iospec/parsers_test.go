package iospec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreStringHandlerReadScalar(t *testing.T) {
	path := writeTemp(t, "out.txt", "junk line\nCL = 0.452\nmore junk\n")
	p := PreStringHandler{Label: "CL = "}
	v, err := p.Read(path)
	require.NoError(t, err)
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.InDelta(t, 0.452, got, 1e-12)
}

func TestPreStringHandlerReadVector(t *testing.T) {
	path := writeTemp(t, "out.txt", "GRAD = 1.0, 2.0, 3.0\n")
	p := PreStringHandler{Label: "GRAD = "}
	v, err := p.Read(path)
	require.NoError(t, err)
	assert.True(t, v.IsVector())
	assert.Equal(t, []float64{1, 2, 3}, v.AsVector())
}

func TestPreStringHandlerMissingLabel(t *testing.T) {
	path := writeTemp(t, "out.txt", "nothing here\n")
	p := PreStringHandler{Label: "CL = "}
	_, err := p.Read(path)
	assert.Error(t, err)
}

func TestPreStringHandlerUsesLastMatchingLine(t *testing.T) {
	path := writeTemp(t, "out.txt", "CL = 1.0\nCL = 2.0\n")
	p := PreStringHandler{Label: "CL = "}
	v, err := p.Read(path)
	require.NoError(t, err)
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestTableReaderCell(t *testing.T) {
	path := writeTemp(t, "table.dat", "header\n1 2 3\n4 5 6\n7 8 9\n")
	r := TableReader{Row: 1, Col: 2, StartRow: 1}
	v, err := r.Read(path)
	require.NoError(t, err)
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)
}

func TestTableReaderNegativeRowIsFromEnd(t *testing.T) {
	path := writeTemp(t, "table.dat", "1 2\n3 4\n5 6\n")
	r := TableReader{Row: -2, Col: 0}
	v, err := r.Read(path)
	require.NoError(t, err)
	got, err := v.AsScalar()
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestTableReaderFullColumn(t *testing.T) {
	path := writeTemp(t, "table.dat", "1 2\n3 4\n5 6\n")
	r := TableReader{Row: -1, Col: 1}
	v, err := r.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, v.AsVector())
}

func TestTableReaderRaggedRowsError(t *testing.T) {
	path := writeTemp(t, "table.dat", "1 2 3\n4 5\n")
	r := TableReader{Row: -1, Col: -1}
	_, err := r.Read(path)
	assert.Error(t, err)
}
