// Package catalog loads and indexes payroll task definitions from the
// deployment's config.json.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// FileSpec describes one input file a task needs. Field names mirror the
// catalogue's Japanese JSON keys.
type FileSpec struct {
	Name       string `json:"ファイル名前"`
	Definition string `json:"定義"`
	IsOutput   bool   `json:"出力用"`
	Required   *bool  `json:"必要,omitempty"`
}

// IsRequired reports whether the file must be uploaded before the task can
// run. Output files are always required; otherwise 必要 defaults to true.
func (s FileSpec) IsRequired() bool {
	if s.IsOutput {
		return true
	}
	if s.Required == nil {
		return true
	}
	return *s.Required
}

// TaskDefinition is one entry of the catalogue's タスク array.
type TaskDefinition struct {
	Name                   string     `json:"名称"`
	Description            string     `json:"概要"`
	Files                  []FileSpec `json:"必要なファイル"`
	Rule                   string     `json:"ルール"`
	NextTaskName           string     `json:"次のタスク名前"`
	NextTaskFile           string     `json:"次のタスクで交換されるファイル"`
	NextTaskFileDefinition string     `json:"次のタスクで交換されるファイル定義"`
	NextTaskFileOutput     bool       `json:"次のタスクで交換されるファイル出力用"`
}

// RequiredFiles returns the file specs that must be uploaded.
func (t *TaskDefinition) RequiredFiles() []FileSpec {
	var specs []FileSpec
	for _, f := range t.Files {
		if f.IsRequired() {
			specs = append(specs, f)
		}
	}
	return specs
}

// OptionalFiles returns the file specs the user may skip.
func (t *TaskDefinition) OptionalFiles() []FileSpec {
	var specs []FileSpec
	for _, f := range t.Files {
		if !f.IsRequired() {
			specs = append(specs, f)
		}
	}
	return specs
}

// GroupName derives the display group: the name up to the first "(", so
// 給与計算(A形式) and 給与計算(B形式) share the 給与計算 group.
func (t *TaskDefinition) GroupName() string {
	if i := strings.Index(t.Name, "("); i >= 0 {
		return strings.TrimSpace(t.Name[:i])
	}
	return t.Name
}

type catalogFile struct {
	Tasks []TaskDefinition `json:"タスク"`
}

// Catalog holds the immutable task definitions in declaration order.
type Catalog struct {
	tasks  []TaskDefinition
	byName map[string]int
}

// New builds a catalog from task definitions. Later duplicates of a task
// name shadow earlier ones, matching a JSON object keyed by 名称.
func New(tasks []TaskDefinition) *Catalog {
	c := &Catalog{
		tasks:  tasks,
		byName: make(map[string]int, len(tasks)),
	}
	for i := range tasks {
		c.byName[tasks[i].Name] = i
	}
	return c
}

// Load reads the catalogue JSON from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルが見つかりません: %s: %w", path, err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse task catalogue %s: %w", path, err)
	}

	return New(file.Tasks), nil
}

// Task returns the definition for name.
func (c *Catalog) Task(name string) (*TaskDefinition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.tasks[i], true
}

// Index returns the declaration position of name, or -1. Used to derive
// per-task generated function names.
func (c *Catalog) Index(name string) int {
	i, ok := c.byName[name]
	if !ok {
		return -1
	}
	return i
}

// Names returns all task names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tasks))
	for i := range c.tasks {
		names = append(names, c.tasks[i].Name)
	}
	return names
}

// Len returns the number of tasks.
func (c *Catalog) Len() int {
	return len(c.tasks)
}

// Group is a set of task variants sharing a display-name prefix.
type Group struct {
	Name  string
	Tasks []*TaskDefinition
}

// Groups derives the display grouping on demand, ordered by first
// appearance of each group in the catalogue.
func (c *Catalog) Groups() []Group {
	order := make([]string, 0)
	byGroup := make(map[string][]*TaskDefinition)

	for i := range c.tasks {
		t := &c.tasks[i]
		key := t.GroupName()
		if _, seen := byGroup[key]; !seen {
			order = append(order, key)
		}
		byGroup[key] = append(byGroup[key], t)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		groups = append(groups, Group{Name: key, Tasks: byGroup[key]})
	}
	return groups
}

// Description joins the variant descriptions of a group for display.
func (g Group) Description() string {
	seen := make(map[string]bool)
	var parts []string
	for _, t := range g.Tasks {
		if t.Description == "" || seen[t.Description] {
			continue
		}
		seen[t.Description] = true
		parts = append(parts, t.Description)
	}
	return strings.Join(parts, " / ")
}

// SortNames sorts task names alphabetically in place and returns them.
// Multi-task selections are processed in this order.
func SortNames(names []string) []string {
	sort.Strings(names)
	return names
}
