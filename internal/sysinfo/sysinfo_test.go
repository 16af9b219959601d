package sysinfo

import (
	"bytes"
	"strings"
	"testing"
)

func TestWrite(t *testing.T) {
	info := Info{
		Name:        Name,
		Version:     "1.2.3",
		Description: Description,
		GoVersion:   "go1.26.0",
		Platform:    "linux/arm",
		CPUs:        4,
		HeapAlloc:   50,
		HeapSys:     200,
		Drivers:     []string{"bcm283x-gpio"},
	}
	var buf bytes.Buffer
	if err := info.Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"=== vdu System Information ===",
		"Version: 1.2.3",
		"Go: go1.26.0 on linux/arm, 4 CPUs",
		"heap 50/200 bytes (25.0% used)",
		"[bcm283x-gpio]",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCollect(t *testing.T) {
	info := Collect()
	if info.Name != Name || info.CPUs < 1 || info.GoVersion == "" || info.HeapSys == 0 {
		t.Fatalf("incomplete report %+v", info)
	}
}
