package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVFromStripsBOM(t *testing.T) {
	data := "\xEF\xBB\xBFスタッフコード,氏名\n1001,佐藤\n1002,鈴木\n"

	frame, err := ReadCSVFrom(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"スタッフコード", "氏名"}, frame.Columns)
	assert.Equal(t, 2, frame.RowCount())
	assert.Equal(t, "佐藤", frame.Rows[0]["氏名"])
}

func TestFrameFromRecordsDropsUnnamedColumns(t *testing.T) {
	records := [][]string{
		{"スタッフコード", "", "氏名"},
		{"1001", "ゴミ", "佐藤"},
	}

	frame := FrameFromRecords(records)
	assert.Equal(t, []string{"スタッフコード", "氏名"}, frame.Columns)
	assert.Equal(t, Row{"スタッフコード": "1001", "氏名": "佐藤"}, frame.Rows[0])
}

func TestFrameFromRecordsRaggedRows(t *testing.T) {
	records := [][]string{
		{"a", "b"},
		{"1"},
		{"2", "3", "4"},
	}

	frame := FrameFromRecords(records)
	assert.Equal(t, Row{"a": "1", "b": ""}, frame.Rows[0])
	assert.Equal(t, Row{"a": "2", "b": "3"}, frame.Rows[1])
}

func TestWriteCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.csv")

	f := New([]string{"スタッフコード", "支給額"})
	f.AppendRow(Row{"スタッフコード": "1001", "支給額": "250000"})
	f.AppendRow(Row{"スタッフコード": "1002", "支給額": "238000"})

	require.NoError(t, f.WriteCSV(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// Excel needs the BOM to detect UTF-8
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBF"))

	loaded, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, f.Columns, loaded.Columns)
	assert.Equal(t, f.Rows, loaded.Rows)
}
