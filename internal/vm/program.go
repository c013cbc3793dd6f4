package vm

// Function is a compiled unit of bytecode. Lines is parallel to Code so the
// line of any byte offset, operands included, is a single index.
type Function struct {
	Name      string
	Filename  string // empty for synthetic functions
	Params    int
	Locals    []string
	Code      []byte
	Lines     []int
	Constants []Value
}

// LineAt returns the source line of the instruction at ip.
func (f *Function) LineAt(ip int) int {
	if len(f.Lines) == 0 {
		return 0
	}
	if ip >= len(f.Lines) {
		ip = len(f.Lines) - 1
	}
	if ip < 0 {
		ip = 0
	}
	return f.Lines[ip]
}

// Program is a loaded set of functions plus the source texts they were
// built from.
type Program struct {
	Name      string
	Engine    string // semver constraint on the engine, may be empty
	Functions []*Function
	Entry     int
	Sources   map[string]string
}

// Lookup finds a function by name.
func (p *Program) Lookup(name string) (int, *Function, bool) {
	for i, fn := range p.Functions {
		if fn.Name == name {
			return i, fn, true
		}
	}
	return -1, nil, false
}
