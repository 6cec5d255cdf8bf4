package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title: "Coupons",
		Columns: []Column{
			{Key: "code", Title: "Code", Weight: 2},
			{Key: "uses", Title: "Uses"},
		},
		Rows: []map[string]string{
			{"code": "SAVE10", "uses": "1"},
			{"code": "VIP,1", "uses": "0"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "Code,Uses\nSAVE10,1\n\"VIP,1\",0\n", string(out))
}

func TestCSVExporterRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidthsFollowWeights(t *testing.T) {
	widths := columnWidths(sampleDataset().Columns)
	require.Len(t, widths, 2)
	assert.InDelta(t, widths[1]*2, widths[0], 0.001)
	assert.InDelta(t, landscapeWidth, widths[0]+widths[1], 0.001)
}
