package collectgen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const workloadDir = "../internal/workload"

func TestLoadWorkload(t *testing.T) {
	m, err := Load(workloadDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name != "workload" {
		t.Errorf("Name = %q, want workload", m.Name)
	}
	var names []string
	for _, tm := range m.Types {
		names = append(names, tm.Name)
	}
	want := "Value,Table,Entry,Closure,Proto,Upvalue,Userdata,Root"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("types = %s, want %s", got, want)
	}

	entry := typeNamed(t, m, "Entry")
	if !entry.TypeParams[0].Heap {
		t.Error("Entry's V should be the heap parameter")
	}
	if typeNamed(t, m, "Proto").NeedsTrace() {
		t.Error("Proto is static")
	}
	if got := fieldNamed(t, typeNamed(t, m, "Root"), "Stats"); !got.Static {
		t.Error("Root.Stats should be exempt")
	}
}

// The checked-in generated file must match what the generator emits today.
func TestWorkloadGeneratedFileIsCurrent(t *testing.T) {
	m, err := Load(workloadDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	src, err := Generate(m)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	checked, err := os.ReadFile(filepath.Join(workloadDir, GeneratedFile(m.Name)))
	if err != nil {
		t.Fatalf("reading generated file: %v", err)
	}
	for _, line := range strings.Split(string(src), "\n") {
		if strings.HasPrefix(line, "func ") || strings.HasPrefix(line, "var _") || strings.HasPrefix(line, "\t") {
			if !strings.Contains(string(checked), line) {
				t.Errorf("checked-in file is missing %q; run go generate", line)
			}
		}
	}
}

func TestLintWorkload(t *testing.T) {
	if err := Lint(workloadDir); err != nil {
		t.Errorf("Lint: %v", err)
	}
}

func TestLoadMissingPackage(t *testing.T) {
	if _, err := Load("./does-not-exist"); err == nil {
		t.Error("Load of a missing directory should fail")
	}
}
