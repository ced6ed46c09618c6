package runner

import (
	"fmt"
	"strings"
)

// requiredImports are needed by the execution harness regardless of what
// the generated code imports itself.
var requiredImports = []string{
	`"encoding/json"`,
	`"fmt"`,
	`"io"`,
	`"os"`,
}

// WrapProgram turns generated function source into a complete main package:
// a harness that decodes one staff code plus every table from stdin, calls
// the generated function and writes its rows to stdout as JSON. Imports
// declared by the generated code are merged with the harness's own.
func WrapProgram(source, functionName string) string {
	userImports, body := extractImportsAndCode(source)
	merged := mergeImports(requiredImports, userImports)

	var b strings.Builder
	b.WriteString("package main\n\n")
	b.WriteString("import (\n")
	for _, imp := range merged {
		b.WriteString("\t" + imp + "\n")
	}
	b.WriteString(")\n\n")
	b.WriteString(harness(functionName))
	b.WriteString("\n// Generated code begins here:\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

func harness(functionName string) string {
	return fmt.Sprintf(`type runInput struct {
	StaffCode string
	Frames    map[string][]map[string]string
}

func main() {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %%v\n", err)
		os.Exit(1)
	}
	var in runInput
	if err := json.Unmarshal(raw, &in); err != nil {
		fmt.Fprintf(os.Stderr, "decode input: %%v\n", err)
		os.Exit(1)
	}
	rows := %s(in.StaffCode, in.Frames)
	out, err := json.Marshal(rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %%v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}
`, functionName)
}

// mergeImports combines required imports with user imports, removing
// duplicates while keeping the required ones first.
func mergeImports(required, user []string) []string {
	importSet := make(map[string]bool)
	var result []string

	for _, imp := range required {
		if !importSet[imp] {
			importSet[imp] = true
			result = append(result, imp)
		}
	}
	for _, imp := range user {
		if !importSet[imp] {
			importSet[imp] = true
			result = append(result, imp)
		}
	}
	return result
}

// extractImportsAndCode separates import declarations from the rest of the
// generated source. A leading package clause is dropped.
func extractImportsAndCode(code string) ([]string, string) {
	lines := strings.Split(code, "\n")
	var imports []string
	var codeLines []string
	inImportBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "package ") {
			continue
		}

		if strings.HasPrefix(trimmed, "import (") {
			inImportBlock = true
			continue
		}
		if inImportBlock {
			if trimmed == ")" {
				inImportBlock = false
				continue
			}
			if trimmed != "" {
				imports = append(imports, trimmed)
			}
			continue
		}
		if strings.HasPrefix(trimmed, "import ") {
			imports = append(imports, strings.TrimSpace(strings.TrimPrefix(trimmed, "import ")))
			continue
		}

		codeLines = append(codeLines, line)
	}

	return imports, strings.TrimSpace(strings.Join(codeLines, "\n"))
}
