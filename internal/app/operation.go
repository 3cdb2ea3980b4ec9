package app

const (
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation tracks a CLI invocation that may mutate the progress store.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an ID from the runs table).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // OperationSuccess or OperationError
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     OperationSuccess,
	}
}

// Persisted returns true if this operation has been saved to the runs table.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = OperationError
}
