package uapi

// Concurrency-model bits for Create's flags argument. Exactly one must be
// set; create() rejects any other combination.
const (
	ModelPCPU   = 0x10000 // one queue per CPU
	ModelPCACHE = 0x20000 // one queue per last-level-cache cluster
	ModelSINGLE = 0x40000 // one global queue
	ModelMask   = ModelPCPU | ModelPCACHE | ModelSINGLE

	CloseOnExec    = 0x1 // O_CLOEXEC equivalent on the upcall fd
	WorkerInitHint = 0x2 // kernel should expect a worker_setup handshake

	CreateMask = CloseOnExec | ModelMask
)

// Legacy ioctl opcodes against the upcall fd.
const (
	CtlAdd = 0x1 // bind {work_fn, arg} to (fd, event-mask)
	CtlDel = 0x2 // unbind
)

// UPIOGQCNT writes a 64-bit queue count at the caller's pointer.
// UPIOSTSK registers the calling context as a dispatch target (legacy only).
const (
	IoctlQueueCount    = 0x1
	IoctlRegisterTask  = 0x2
)

// EventMask bits used by the legacy Ctl/Wait variant.
const (
	EventRead  = 0x1
	EventWrite = 0x2
)
