// Package topology resolves CPU affinity sets for the three concurrency
// models (PCPU, PCACHE, SINGLE), matching the queue count reported by the
// kernel upcall object. Grounded on libupcall/upcall.c's parse_clusters(),
// including its first-CPU-is-lead tie-break rule.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Model selects the affinity-set construction strategy.
type Model int

const (
	PCPU Model = iota
	PCACHE
	SINGLE
)

// clusterCPUsListFmt is the platform-specific topology source for PCACHE.
// Overridable in tests.
var clusterCPUsListFmt = "/sys/devices/system/cpu/cpu%d/topology/cluster_cpus_list"

// Resolve builds one CPU-affinity set per queue under model, for a machine
// with numCPU online CPUs. queueCount is the kernel-reported number of
// event queues; for PCACHE it must equal the number of discovered
// clusters, or Resolve fails (a topology/queue-count mismatch is fatal per
// the design's error model).
func Resolve(model Model, numCPU, queueCount int) ([]unix.CPUSet, error) {
	switch model {
	case PCPU:
		return resolvePCPU(numCPU, queueCount)
	case PCACHE:
		return resolvePCACHE(numCPU, queueCount)
	case SINGLE:
		return resolveSINGLE(numCPU, queueCount)
	default:
		return nil, fmt.Errorf("topology: unknown model %d", model)
	}
}

func resolvePCPU(numCPU, queueCount int) ([]unix.CPUSet, error) {
	if queueCount != numCPU {
		return nil, fmt.Errorf("topology: PCPU requires queueCount(%d) == numCPU(%d)", queueCount, numCPU)
	}
	sets := make([]unix.CPUSet, numCPU)
	for i := range sets {
		sets[i].Set(i)
	}
	return sets, nil
}

func resolveSINGLE(numCPU, queueCount int) ([]unix.CPUSet, error) {
	if queueCount != 1 {
		return nil, fmt.Errorf("topology: SINGLE requires queueCount == 1, got %d", queueCount)
	}
	var set unix.CPUSet
	for i := 0; i < numCPU; i++ {
		set.Set(i)
	}
	return []unix.CPUSet{set}, nil
}

// resolvePCACHE groups CPUs by last-level-cache cluster. For each CPU i it
// reads cluster_cpus_list, whose first entry is the lowest-numbered CPU in
// i's cluster. The first CPU whose list starts with a given lead value
// opens a fresh set for that lead; every later CPU whose list starts with
// the same value joins that set. This mirrors parse_clusters()'s
// tie-break: the first CPU encountered in a cluster becomes its lead.
func resolvePCACHE(numCPU, queueCount int) ([]unix.CPUSet, error) {
	leadOf := make(map[int]int) // lead CPU -> index into sets
	sets := make([]unix.CPUSet, 0, queueCount)

	for i := 0; i < numCPU; i++ {
		lead, err := readClusterLead(i)
		if err != nil {
			return nil, err
		}
		idx, ok := leadOf[lead]
		if !ok {
			if len(sets) >= queueCount {
				return nil, fmt.Errorf("topology: more clusters than reported queues (%d)", queueCount)
			}
			idx = len(sets)
			leadOf[lead] = idx
			sets = append(sets, unix.CPUSet{})
		}
		sets[idx].Set(i)
	}

	if len(sets) != queueCount {
		return nil, fmt.Errorf("topology: found %d clusters, kernel reports %d queues", len(sets), queueCount)
	}
	return sets, nil
}

// readClusterLead reads the first entry of cpu's cluster_cpus_list, which
// identifies the lowest-numbered CPU sharing its last-level cache.
func readClusterLead(cpu int) (int, error) {
	path := fmt.Sprintf(clusterCPUsListFmt, cpu)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("topology: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("topology: %s is empty", path)
	}
	line := strings.TrimSpace(sc.Text())
	// cluster_cpus_list may be a range/list like "0-3" or "0,2,4"; the
	// lead is always the first numeric token.
	first := line
	if idx := strings.IndexAny(line, ",-"); idx >= 0 {
		first = line[:idx]
	}
	lead, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("topology: parsing %s: %w", path, err)
	}
	return lead, nil
}
