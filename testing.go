package upcall

import "github.com/behrlich/go-upcall/internal/upsys"

// NewMockShim returns an in-process fake of the kernel upcall object: it
// discards submitted work and returns only the completions a test stages
// via its Complete method. queueCount should match whatever Model/NumCPU
// combination Options configures (e.g. queueCount == 1 under SINGLE).
// Grounded on the teacher's testing.go MockBackend, which plays the same
// role for Backend as this does for upsys.Shim.
func NewMockShim(queueCount int) *upsys.Mock {
	return upsys.NewMock(queueCount)
}
