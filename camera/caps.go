package camera

// Caps declares one option's capability bits and value domain for a model.
type Caps struct {
	Implemented bool
	Readable    bool
	Writable    bool
	Domain      Domain
	Min, Max    int
	Step        int
}

// rw is shorthand for a fully readable/writable integer option.
func rw(min, max, step int) Caps {
	return Caps{Implemented: true, Readable: true, Writable: true, Domain: DomainInt, Min: min, Max: max, Step: step}
}

// boolOpt is a readable/writable boolean option.
func boolOpt() Caps {
	return Caps{Implemented: true, Readable: true, Writable: true, Domain: DomainBool, Min: 0, Max: 1, Step: 1}
}

// enumOpt is a readable/writable enum option over [min,max].
func enumOpt(min, max int) Caps {
	return Caps{Implemented: true, Readable: true, Writable: true, Domain: DomainEnum, Min: min, Max: max, Step: 1}
}

// trigger is a write-only command option.
func trigger() Caps {
	return Caps{Implemented: true, Readable: false, Writable: true, Domain: DomainBool, Min: 0, Max: 1, Step: 1}
}

// ModelTable is the capability table plus fixed geometry for one model.
type ModelTable struct {
	Model Model
	// Sensor geometry; buffers are sized from these.
	WidthMax  int
	HeightMax int
	// RawStrideFactor scales the raw interleaved line width. The 4K heads
	// pack two bytes per pixel column in the raw stream; VM and XC pack one.
	RawStrideFactor int
	// MaxDisparity is the FPGA search range for this head.
	MaxDisparity int
	Caps         map[Option]Caps
}

// Lookup returns the capability entry for opt. Options absent from the
// table are not implemented on this model.
func (t *ModelTable) Lookup(opt Option) (Caps, bool) {
	c, ok := t.Caps[opt]
	return c, ok
}

// TableFor returns the capability table for a model, or nil when the model
// is unknown.
func TableFor(m Model) *ModelTable {
	switch m {
	case ModelVM:
		return &vmTable
	case ModelXC:
		return &xcTable
	case ModelK4, ModelK4A, ModelK4J:
		return k4Table(m)
	}
	return nil
}
