package store

import "fmt"

// IntegrityError reports an entity invariant broken mid-transaction. It is
// fatal for the enclosing request: the transaction must roll back and the
// caller runs compensation if a mutation already committed.
type IntegrityError struct {
	Op     string
	SlotID int64
	Detail string
}

func (e *IntegrityError) Error() string {
	if e.SlotID != 0 {
		return fmt.Sprintf("slot integrity violation during %s on slot %d: %s", e.Op, e.SlotID, e.Detail)
	}
	return fmt.Sprintf("slot integrity violation during %s: %s", e.Op, e.Detail)
}
