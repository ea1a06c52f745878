package upcall

import "github.com/behrlich/go-upcall/internal/topology"

// Model re-exports the concurrency-model selector so callers never need to
// import internal/topology directly.
type Model = topology.Model

// Concurrency models (spec.md §4.3, GLOSSARY): PCPU pins one queue per
// CPU, PCACHE one queue per last-level-cache cluster, SINGLE one global
// queue shared by every worker.
const (
	PCPU   = topology.PCPU
	PCACHE = topology.PCACHE
	SINGLE = topology.SINGLE
)

// Sensible defaults for Options, mirroring the teacher's DefaultParams
// pattern in backend.go.
const (
	DefaultMsgSize         = 4096
	DefaultThreadsPerQueue = 1
	DefaultInboundCap      = 64
	DefaultBufCount        = 8
	DefaultBindAddr        = ":9999"
)
