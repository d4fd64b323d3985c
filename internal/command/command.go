package command

import "fmt"

// Op identifies one of the simulator's commands
type Op int

const (
	OpInitHeap Op = iota
	OpMalloc
	OpFree
	OpRead
	OpWrite
	OpDumpMemory
	OpDestroyHeap
)

var opNames = map[Op]string{
	OpInitHeap:    "INIT_HEAP",
	OpMalloc:      "MALLOC",
	OpFree:        "FREE",
	OpRead:        "READ",
	OpWrite:       "WRITE",
	OpDumpMemory:  "DUMP_MEMORY",
	OpDestroyHeap: "DESTROY_HEAP",
}

var opsByName = func() map[string]Op {
	ops := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		ops[name] = op
	}
	return ops
}()

func (o Op) String() string {
	name, ok := opNames[o]
	if !ok {
		return fmt.Sprintf("Op(%d)", int(o))
	}

	return name
}

// ParseOp maps a command word to its Op. Command words are case sensitive.
func ParseOp(word string) (Op, bool) {
	op, ok := opsByName[word]
	return op, ok
}

// Command is one parsed simulator command. Only the fields used by Op are set.
type Command struct {
	Op Op

	// Address is the base address for INIT_HEAP and the target address for FREE, READ, and WRITE
	Address int
	// Size is the request size for MALLOC and the byte count for READ and WRITE
	Size int

	Partitions        int
	BytesPerPartition int
	Coalesce          bool

	Payload []byte
}
