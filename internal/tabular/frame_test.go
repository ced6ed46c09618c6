package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStaffCodesNumeric(t *testing.T) {
	f := New([]string{"スタッフコード", "氏名"})
	f.AppendRow(Row{"スタッフコード": "1001.0", "氏名": "佐藤"})
	f.AppendRow(Row{"スタッフコード": "", "氏名": "欠損"})
	f.AppendRow(Row{"スタッフコード": "1002", "氏名": "鈴木"})

	normalized, err := NormalizeStaffCodes(f)
	require.NoError(t, err)

	// Missing codes drop, numeric codes become integer strings
	assert.Equal(t, 2, normalized.RowCount())
	assert.Equal(t, []string{"1001", "1002"}, normalized.Column("スタッフコード"))

	// Source frame untouched
	assert.Equal(t, 3, f.RowCount())
}

func TestNormalizeStaffCodesEmployeeNumberFallback(t *testing.T) {
	f := New([]string{"社員番号", "氏名"})
	f.AppendRow(Row{"社員番号": "2001", "氏名": "田中"})

	normalized, err := NormalizeStaffCodes(f)
	require.NoError(t, err)

	assert.True(t, normalized.HasColumn("スタッフコード"))
	assert.True(t, normalized.HasColumn("社員番号"))
	assert.Equal(t, []string{"2001"}, normalized.Column("スタッフコード"))
}

func TestNormalizeStaffCodesNonNumericKept(t *testing.T) {
	f := New([]string{"スタッフコード"})
	f.AppendRow(Row{"スタッフコード": "A-100"})
	f.AppendRow(Row{"スタッフコード": "1002"})

	normalized, err := NormalizeStaffCodes(f)
	require.NoError(t, err)

	// Mixed column stays as-is
	assert.Equal(t, []string{"A-100", "1002"}, normalized.Column("スタッフコード"))
}

func TestNormalizeStaffCodesMissingColumns(t *testing.T) {
	f := New([]string{"氏名"})
	f.AppendRow(Row{"氏名": "佐藤"})

	_, err := NormalizeStaffCodes(f)
	assert.ErrorIs(t, err, ErrNoStaffColumn)
}

func TestStaffCodesKeepsDuplicates(t *testing.T) {
	f := New([]string{"スタッフコード"})
	f.AppendRow(Row{"スタッフコード": "1001"})
	f.AppendRow(Row{"スタッフコード": "1001"})
	f.AppendRow(Row{"スタッフコード": "1003"})

	codes, err := StaffCodes(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "1001", "1003"}, codes)
}

func TestDTypes(t *testing.T) {
	f := New([]string{"コード", "金額", "氏名", "空"})
	f.AppendRow(Row{"コード": "1", "金額": "1200.5", "氏名": "佐藤", "空": ""})
	f.AppendRow(Row{"コード": "2", "金額": "900", "氏名": "鈴木", "空": ""})

	dtypes := f.DTypes()
	assert.Equal(t, "int64", dtypes["コード"])
	assert.Equal(t, "float64", dtypes["金額"])
	assert.Equal(t, "object", dtypes["氏名"])
	assert.Equal(t, "object", dtypes["空"])

	assert.True(t, f.HasNumericColumns())
}

func TestHasNumericColumnsFalse(t *testing.T) {
	f := New([]string{"氏名"})
	f.AppendRow(Row{"氏名": "佐藤"})
	assert.False(t, f.HasNumericColumns())
}

func TestSelectReordersAndFills(t *testing.T) {
	f := New([]string{"b", "a"})
	f.AppendRow(Row{"b": "2", "a": "1"})

	out := f.Select([]string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, out.Columns)
	assert.Equal(t, Row{"a": "1", "b": "2", "c": ""}, out.Rows[0])
}

func TestDescribe(t *testing.T) {
	f := New([]string{"区分"})
	f.AppendRow(Row{"区分": "正社員"})
	f.AppendRow(Row{"区分": "正社員"})
	f.AppendRow(Row{"区分": "パート"})

	summary := f.Describe()
	assert.Contains(t, summary, "区分: count=3, unique=2, top=正社員, freq=2")
}

func TestRowFromAny(t *testing.T) {
	row := RowFromAny(map[string]any{
		"コード": float64(1001),
		"金額":  float64(863.5),
		"氏名":  "佐藤",
		"欠損":  nil,
	})

	assert.Equal(t, "1001", row["コード"])
	assert.Equal(t, "863.5", row["金額"])
	assert.Equal(t, "佐藤", row["氏名"])
	assert.Equal(t, "", row["欠損"])
}
