package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestFileSpecIsRequired(t *testing.T) {
	tests := []struct {
		name     string
		spec     FileSpec
		expected bool
	}{
		{"output file always required", FileSpec{IsOutput: true, Required: boolPtr(false)}, true},
		{"unset defaults to required", FileSpec{}, true},
		{"explicit true", FileSpec{Required: boolPtr(true)}, true},
		{"explicit false", FileSpec{Required: boolPtr(false)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.spec.IsRequired())
		})
	}
}

func TestRequiredAndOptionalFiles(t *testing.T) {
	task := TaskDefinition{
		Name: "給与計算",
		Files: []FileSpec{
			{Name: "台帳.xlsx", Definition: "給与台帳", IsOutput: true},
			{Name: "勤怠.csv", Definition: "勤怠データ"},
			{Name: "手当.csv", Definition: "手当データ", Required: boolPtr(false)},
		},
	}

	required := task.RequiredFiles()
	require.Len(t, required, 2)
	assert.Equal(t, "給与台帳", required[0].Definition)
	assert.Equal(t, "勤怠データ", required[1].Definition)

	optional := task.OptionalFiles()
	require.Len(t, optional, 1)
	assert.Equal(t, "手当データ", optional[0].Definition)
}

func TestLoadCatalogJSON(t *testing.T) {
	content := `{
  "タスク": [
    {
      "名称": "給与計算(A形式)",
      "概要": "A形式の給与計算を行う",
      "必要なファイル": [
        {"ファイル名前": "台帳.xlsx", "定義": "給与台帳", "出力用": true},
        {"ファイル名前": "勤怠.csv", "定義": "勤怠データ", "必要": false}
      ],
      "ルール": "rule_a.md",
      "次のタスク名前": "賞与計算",
      "次のタスクで交換されるファイル": "台帳.xlsx",
      "次のタスクで交換されるファイル定義": "賞与台帳",
      "次のタスクで交換されるファイル出力用": true
    },
    {
      "名称": "賞与計算",
      "概要": "賞与の計算を行う",
      "必要なファイル": [
        {"ファイル名前": "賞与.csv", "定義": "賞与台帳", "出力用": true}
      ],
      "ルール": "rule_b.md"
    }
  ]
}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	task, ok := c.Task("給与計算(A形式)")
	require.True(t, ok)
	assert.Equal(t, "A形式の給与計算を行う", task.Description)
	assert.Equal(t, "賞与計算", task.NextTaskName)
	assert.Equal(t, "賞与台帳", task.NextTaskFileDefinition)
	assert.True(t, task.NextTaskFileOutput)

	require.Len(t, task.Files, 2)
	assert.True(t, task.Files[0].IsRequired())
	assert.False(t, task.Files[1].IsRequired())

	assert.Equal(t, 0, c.Index("給与計算(A形式)"))
	assert.Equal(t, 1, c.Index("賞与計算"))
	assert.Equal(t, -1, c.Index("不明"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}

func TestTaskLookupUnknown(t *testing.T) {
	c := New([]TaskDefinition{{Name: "給与計算"}})
	_, ok := c.Task("存在しない")
	assert.False(t, ok)
}

func TestGroups(t *testing.T) {
	c := New([]TaskDefinition{
		{Name: "給与計算(A形式)", Description: "A形式"},
		{Name: "勤怠集計", Description: "勤怠"},
		{Name: "給与計算(B形式)", Description: "B形式"},
	})

	groups := c.Groups()
	require.Len(t, groups, 2)

	assert.Equal(t, "給与計算", groups[0].Name)
	require.Len(t, groups[0].Tasks, 2)
	assert.Equal(t, "給与計算(A形式)", groups[0].Tasks[0].Name)
	assert.Equal(t, "給与計算(B形式)", groups[0].Tasks[1].Name)
	assert.Equal(t, "A形式 / B形式", groups[0].Description())

	assert.Equal(t, "勤怠集計", groups[1].Name)
}

func TestSortNames(t *testing.T) {
	names := []string{"給与タスクB", "給与タスクA"}
	SortNames(names)
	assert.Equal(t, []string{"給与タスクA", "給与タスクB"}, names)
}
