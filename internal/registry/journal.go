package registry

// journal is the undo log for a single operation. Every mutation made while
// executing an operation records its inverse here; if the operation fails at
// any point the journal is replayed in reverse and the registry is left
// exactly as it was before the call.
type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}
