// Package sysinfo reports build and runtime information for the INFO
// console command, the web API and the startup log.
package sysinfo

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"sort"

	"periph.io/x/host/v3"
)

// Set with -ldflags "-X vdu/internal/sysinfo.Version=...".
var (
	Version   = "1.0.0-dev"
	GitCommit = ""
)

const (
	Name        = "vdu"
	Description = "Multi-Dashboard LCD Display System"
)

// Info is a point-in-time report.
type Info struct {
	Name        string `json:"name" cbor:"name"`
	Version     string `json:"version" cbor:"version"`
	Commit      string `json:"commit,omitempty" cbor:"commit,omitempty"`
	Description string `json:"description" cbor:"description"`
	GoVersion   string `json:"go_version" cbor:"go_version"`
	Platform    string `json:"platform" cbor:"platform"`
	Hostname    string `json:"hostname" cbor:"hostname"`
	CPUs        int    `json:"cpus" cbor:"cpus"`
	Goroutines  int    `json:"goroutines" cbor:"goroutines"`

	HeapAlloc uint64 `json:"heap_alloc" cbor:"heap_alloc"`
	HeapSys   uint64 `json:"heap_sys" cbor:"heap_sys"`
	NumGC     uint32 `json:"num_gc" cbor:"num_gc"`

	// Drivers lists periph host drivers that loaded; empty when the host
	// has no supported peripherals.
	Drivers []string `json:"drivers" cbor:"drivers"`
}

// Collect gathers the current report.
func Collect() Info {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	info := Info{
		Name:        Name,
		Version:     Version,
		Commit:      GitCommit,
		Description: Description,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		CPUs:        runtime.NumCPU(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   ms.HeapAlloc,
		HeapSys:     ms.HeapSys,
		NumGC:       ms.NumGC,
	}
	info.Hostname, _ = os.Hostname()
	if info.Commit == "" {
		info.Commit = vcsRevision()
	}
	info.Drivers = hostDrivers()
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}

// hostDrivers initializes periph (idempotent) and names the drivers it
// loaded.
func hostDrivers() []string {
	state, err := host.Init()
	if err != nil || state == nil {
		return nil
	}
	names := make([]string, 0, len(state.Loaded))
	for _, d := range state.Loaded {
		names = append(names, d.String())
	}
	sort.Strings(names)
	return names
}

// Write prints the report in the console's plain-text form.
func (i Info) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"=== %s System Information ===\n"+
			"Version: %s %s\n"+
			"Description: %s\n"+
			"Go: %s on %s, %d CPUs\n"+
			"Host: %s\n"+
			"Memory: heap %d/%d bytes (%.1f%% used), %d GCs\n"+
			"Goroutines: %d\n"+
			"Peripheral drivers: %v\n"+
			"==============================\n",
		i.Name, i.Version, i.Commit, i.Description,
		i.GoVersion, i.Platform, i.CPUs,
		i.Hostname,
		i.HeapAlloc, i.HeapSys, percent(i.HeapAlloc, i.HeapSys), i.NumGC,
		i.Goroutines,
		i.Drivers,
	)
	return err
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
