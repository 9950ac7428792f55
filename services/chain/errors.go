// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for chain operations.
var (
	// ErrGroupNotFound is returned when a group id is out of range or the
	// contract returns an empty record.
	ErrGroupNotFound = errors.New("group not found")

	// ErrPrecondition is the base error for operations skipped because an
	// on-chain precondition does not hold yet (insufficient escrow,
	// insufficient allowance). These are retry-later conditions, never
	// fatal.
	ErrPrecondition = errors.New("precondition not met")

	// ErrExternalOperation is the base error for transactions that were
	// rejected by the node or reverted on chain.
	ErrExternalOperation = errors.New("external operation failed")
)

// PreconditionError reports an unmet on-chain precondition together
// with the operation that required it. It unwraps to ErrPrecondition.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition not met: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// ExternalOperationError reports a rejected or reverted transaction.
// TxHash is the zero hash when the transaction never left the node.
// It unwraps to ErrExternalOperation and to the underlying cause.
type ExternalOperationError struct {
	Op     string
	TxHash common.Hash
	Err    error
}

func (e *ExternalOperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: transaction %s reverted", e.Op, e.TxHash.Hex())
}

func (e *ExternalOperationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrExternalOperation
}

// Is lets errors.Is(err, ErrExternalOperation) match regardless of the
// wrapped cause.
func (e *ExternalOperationError) Is(target error) bool {
	return target == ErrExternalOperation
}
