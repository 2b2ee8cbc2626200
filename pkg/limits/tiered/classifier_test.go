package tiered

import (
	"sync"
	"testing"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(map[string]string{
		"gpt-4":         "high",
		"gpt-3.5-turbo": "medium",
		"llama-7b":      "low",
	}, "")

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4", "high"},
		{"gpt-3.5-turbo", "medium"},
		{"llama-7b", "low"},
		{"unknown", DefaultClass},
		{"", DefaultClass},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.model); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestClassifier_UpdateIsolatesCallerMap(t *testing.T) {
	table := map[string]string{"gpt-4": "high"}
	c := NewClassifier(table, "basic")

	table["gpt-4"] = "low"
	if got := c.Classify("gpt-4"); got != "high" {
		t.Errorf("Classify() = %q after caller mutation, want high", got)
	}

	got, def := c.Table()
	got["gpt-4"] = "changed"
	if def != "basic" {
		t.Errorf("default = %q, want basic", def)
	}
	if c.Classify("gpt-4") != "high" {
		t.Error("Table() returned the live map")
	}
}

func TestClassifier_ConcurrentUpdate(t *testing.T) {
	c := NewClassifier(map[string]string{"m": "a"}, "a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.Update(map[string]string{"m": "b"}, "b")
				c.Update(map[string]string{"m": "a"}, "a")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if got := c.Classify("m"); got != "a" && got != "b" {
					t.Errorf("Classify() = %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
