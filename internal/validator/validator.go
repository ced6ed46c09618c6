// Package validator matches uploaded payroll files against the per-task
// sample layouts and identifies unknown uploads across the whole catalogue.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// sampleInfo caches one sample file's column layout and its signature so
// identity detection does not re-read samples for every candidate.
type sampleInfo struct {
	columns   []string
	signature uint64
}

// Validator checks uploads against sample CSV layouts stored per task under
// the data directory.
type Validator struct {
	dataDir string
	log     *logger.Logger

	mu      sync.Mutex
	samples map[string]*sampleInfo
}

// New creates a validator over dataDir, the directory holding one
// subdirectory of sample files per task.
func New(dataDir string) *Validator {
	return &Validator{
		dataDir: dataDir,
		log:     logger.Global().WithPrefix("validator"),
		samples: make(map[string]*sampleInfo),
	}
}

// columnSignature fingerprints a column set independent of order.
func columnSignature(columns []string) uint64 {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	return xxhash.Sum64String(strings.Join(sorted, "\x00"))
}

func (v *Validator) samplePath(taskName, specFileName string) string {
	return filepath.Join(v.dataDir, taskName, specFileName+"_sample.csv")
}

// sample loads and caches the sample layout; nil means no sample exists.
func (v *Validator) sample(path string) (*sampleInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if info, ok := v.samples[path]; ok {
		return info, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	frame, err := tabular.ReadCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sample %s: %w", path, err)
	}

	info := &sampleInfo{
		columns:   frame.Columns,
		signature: columnSignature(frame.Columns),
	}
	v.samples[path] = info
	return info, nil
}

// Match loads the upload at path for the given task file spec. On success it
// returns the parsed frame. A layout mismatch returns nil with diagnostic
// messages; a non-nil error means the upload could not be processed at all.
func (v *Validator) Match(path, taskName string, spec catalog.FileSpec) (*tabular.Frame, []string, error) {
	sample, err := v.sample(v.samplePath(taskName, spec.Name))
	if err != nil {
		return nil, nil, err
	}

	// Without a sample the file only has to be readable.
	if sample == nil {
		frame, err := v.directRead(path)
		if err != nil {
			return nil, nil, err
		}
		return frame, nil, nil
	}

	switch {
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		return v.matchCSV(path, sample)
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return v.matchWorkbook(path, spec.Name, sample)
	default:
		return nil, nil, fmt.Errorf("unsupported file type: %s", path)
	}
}

func (v *Validator) matchCSV(path string, sample *sampleInfo) (*tabular.Frame, []string, error) {
	frame, err := tabular.ReadCSV(path)
	if err != nil {
		v.log.Warn("csv read failed: %v", err)
		return nil, []string{"CSVファイル読み込み失敗"}, nil
	}

	if columnSignature(frame.Columns) == sample.signature {
		return frame, nil, nil
	}
	return nil, []string{diffColumns(sample.columns, frame.Columns)}, nil
}

func (v *Validator) matchWorkbook(path, specFileName string, sample *sampleInfo) (*tabular.Frame, []string, error) {
	sheets, err := tabular.ReadWorkbook(path)
	if err != nil {
		return nil, nil, err
	}

	var diags []string
	for _, sheet := range sheets {
		frame := frameFromSheet(sheet)
		if columnSignature(frame.Columns) == sample.signature {
			return frame, nil, nil
		}
		diags = append(diags, fmt.Sprintf("シート「%s」: \n%s\n", sheet.Name, diffColumns(sample.columns, frame.Columns)))
	}

	diags = append([]string{
		fmt.Sprintf("サンプルファイル「%s_sample.csv」と同じ形式のシートは見つかりませんでした。", specFileName),
	}, diags...)
	return nil, diags, nil
}

// frameFromSheet converts raw sheet rows to a frame. The header is the first
// row containing a staff code or employee number cell because payroll
// exports often put title rows above it.
func frameFromSheet(sheet tabular.Sheet) *tabular.Frame {
	for i, row := range sheet.Rows {
		for _, cell := range row {
			if strings.Contains(cell, tabular.EmployeeNumberColumn) ||
				strings.Contains(cell, tabular.StaffCodeColumn) {
				return tabular.FrameFromRecords(sheet.Rows[i:])
			}
		}
	}
	return tabular.FrameFromRecords(sheet.Rows)
}

// directRead loads a file without sample comparison.
func (v *Validator) directRead(path string) (*tabular.Frame, error) {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return tabular.ReadCSV(path)
	}

	sheets, err := tabular.ReadWorkbook(path)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	return tabular.FrameFromRecords(sheets[0].Rows), nil
}

// diffColumns renders the column-set mismatch between sample and upload.
// Differences are sorted for stable output.
func diffColumns(sampleCols, uploadedCols []string) string {
	sampleSet := make(map[string]bool, len(sampleCols))
	for _, c := range sampleCols {
		sampleSet[c] = true
	}
	uploadedSet := make(map[string]bool, len(uploadedCols))
	for _, c := range uploadedCols {
		uploadedSet[c] = true
	}

	var onlySample, onlyUploaded []string
	for c := range sampleSet {
		if !uploadedSet[c] {
			onlySample = append(onlySample, c)
		}
	}
	for c := range uploadedSet {
		if !sampleSet[c] {
			onlyUploaded = append(onlyUploaded, c)
		}
	}
	sort.Strings(onlySample)
	sort.Strings(onlyUploaded)

	var details []string
	if len(onlySample) > 0 {
		details = append(details, "サンプルファイルにのみ存在する列: "+strings.Join(onlySample, " | "))
	}
	if len(onlyUploaded) > 0 {
		details = append(details, "アップロードファイルにのみ存在する列: "+strings.Join(onlyUploaded, " | "))
	}

	return "アップロードとサンプルの列名が一致しません:\n" + strings.Join(details, "\n")
}

// Identify tries the upload against every file spec of every catalogue task
// and reports the candidates it could belong to.
func (v *Validator) Identify(path string, cat *catalog.Catalog) string {
	var candidates []string

	for _, name := range cat.Names() {
		task, ok := cat.Task(name)
		if !ok {
			continue
		}
		for _, spec := range task.Files {
			frame, _, err := v.Match(path, task.Name, spec)
			if err != nil {
				v.log.Debug("identify: %s/%s: %v", task.Name, spec.Name, err)
				continue
			}
			if frame != nil {
				candidates = append(candidates, fmt.Sprintf("%s-%s", task.Name, spec.Definition))
			}
		}
	}

	if len(candidates) == 0 {
		return "検索した結果、ファイルの識別ができません。"
	}
	return "アップロードされたファイルは以下のファイルの一つと推定する：\n" + strings.Join(candidates, "\n")
}
