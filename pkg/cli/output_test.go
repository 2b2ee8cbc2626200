package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestTextFormatter(t *testing.T) {
	output, err := (&TextFormatter{}).Format("allowed")
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if string(output) != "allowed\n" {
		t.Errorf("Format() = %q, want %q", string(output), "allowed\n")
	}
}

func TestTextFormatterTable(t *testing.T) {
	table := &Table{Headers: []string{"TIER", "COUNT", "LIMIT"}}
	table.AddRow("user-model", 3, 100)
	table.AddRow("global", 1234, 10000)

	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, table); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	// Columns are aligned, so every line starts its second column at the
	// same offset.
	col := strings.Index(lines[0], "COUNT")
	if !strings.HasPrefix(lines[1][col:], "3") || !strings.HasPrefix(lines[2][col:], "1234") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	tests := []struct {
		name   string
		data   interface{}
		indent bool
	}{
		{name: "simple string", data: "test"},
		{name: "map with indent", data: map[string]string{"key": "value"}, indent: true},
		{name: "table", data: Table{Headers: []string{"a"}, Rows: [][]string{{"1"}}}, indent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := (&JSONFormatter{Indent: tt.indent}).Format(tt.data)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			var result interface{}
			if err := json.Unmarshal(output, &result); err != nil {
				t.Errorf("Format() produced invalid JSON: %v", err)
			}
		})
	}
}

func TestCSVFormatter(t *testing.T) {
	table := Table{Headers: []string{"tier", "key"}}
	table.AddRow("user-model", "alice:gpt-4")
	table.AddRow("global", "__global__:gpt,4")

	output, err := (&CSVFormatter{}).Format(table)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "tier,key\nuser-model,alice:gpt-4\nglobal,\"__global__:gpt,4\"\n"
	if string(output) != want {
		t.Errorf("Format() = %q, want %q", output, want)
	}

	if _, err := (&CSVFormatter{}).Format("not a table"); err == nil {
		t.Error("Format() of a non-table should fail")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{FormatCSV, "*cli.CSVFormatter"},
		{"unknown", "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		if got := fmt.Sprintf("%T", NewFormatter(tt.format)); got != tt.want {
			t.Errorf("NewFormatter(%q) type = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"junit", "", true},
	}

	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
