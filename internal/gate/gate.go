// Package gate implements the confirmation check for mutating operations.
// It is stateless: refusal has no side effects, and the retry carrying
// confirm=true repeats the full pipeline from the start.
package gate

import (
	"github.com/opgate/opgate/internal/model"
	"github.com/opgate/opgate/internal/policy"
)

// NeedsConfirmation reports whether the request must be refused pending an
// explicit confirm flag. Confirmation on an operation that does not require
// it is accepted and ignored.
func NeedsConfirmation(def policy.OperationDefinition, req model.Request) bool {
	return def.RequiresConfirm && !req.Confirm
}
