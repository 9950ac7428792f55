// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/Neurvinch/eth-global-hackmoney/services/nlp"
)

// ErrMissingParams is returned when an intent arrives without the
// parameters its action requires, typically a keyword-fallback intent
// where the model could not extract a group id or amount.
var ErrMissingParams = errors.New("intent is missing required parameters")

// UnknownIntentError reports an intent type the orchestrator cannot
// execute.
type UnknownIntentError struct {
	Type nlp.IntentType
}

func (e *UnknownIntentError) Error() string {
	return fmt.Sprintf("cannot execute intent %q", e.Type)
}
