package block

import (
	"errors"
	"fmt"
)

// Set of error variables for working with a block.
var (
	ErrInvalidOperationOnSealedBlock = errors.New("invalid operation on sealed block")
	ErrUnknownChain                  = errors.New("chain operation with unknown blockchain")
	ErrNotReset                      = errors.New("block has no current header")
	ErrNotCommitted                  = errors.New("block not committed to seal")
	ErrSealMismatch                  = errors.New("sealed header does not match committed header")
	ErrInvalidParentHash             = errors.New("invalid parent hash")
	ErrUnknownParent                 = errors.New("unknown parent")
	ErrInvalidReceiptsStateRoot      = errors.New("invalid receipts state root")
	ErrInvalidLogBloom               = errors.New("invalid log bloom")
	ErrTooManyUncles                 = errors.New("too many uncles")
	ErrUncleInChain                  = errors.New("uncle in block already mentioned")
	ErrUncleTooOld                   = errors.New("uncle too old")
	ErrUncleIsBrother                = errors.New("uncle is brother")
	ErrUncleParentNotInChain         = errors.New("uncle parent not in chain")
	ErrInvalidStateRoot              = errors.New("invalid state root")
	ErrInvalidGasUsed                = errors.New("invalid gas used")
)

// MismatchError is returned when a value derived from the block does not
// match the value the header declares.
type MismatchError struct {
	Err      error
	Expected any
	Got      any
}

// Error implements the error interface.
func (me *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %v, got %v", me.Err, me.Expected, me.Got)
}

// Unwrap returns the sentinel error.
func (me *MismatchError) Unwrap() error {
	return me.Err
}

// TxError is returned when a transaction of an imported block fails.
type TxError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (te *TxError) Error() string {
	return fmt.Sprintf("transaction %d: %s", te.Index, te.Err)
}

// Unwrap returns the transaction fault.
func (te *TxError) Unwrap() error {
	return te.Err
}

// UncleError is returned when an uncle of an imported block is invalid.
type UncleError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (ue *UncleError) Error() string {
	return fmt.Sprintf("uncle %d: %s", ue.Index, ue.Err)
}

// Unwrap returns the underlying error.
func (ue *UncleError) Unwrap() error {
	return ue.Err
}
