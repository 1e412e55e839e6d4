//go:build property
// +build property

// Property-based tests for the lifecycle transition table: whatever event
// sequence a caller throws at it, a draft can only reach posted through an
// approval, and terminal states stay terminal.
package draft_test

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
)

func genStatus() gopter.Gen {
	return gen.OneConstOf(
		draft.StatusPendingApproval,
		draft.StatusApproved,
		draft.StatusPosted,
		draft.StatusFailed,
		draft.StatusRejected,
		draft.StatusScheduled,
		draft.StatusExpired,
	)
}

func genEvent() gopter.Gen {
	return gen.OneConstOf(
		draft.EventApprove,
		draft.EventReject,
		draft.EventSchedule,
		draft.EventDispatchSuccess,
		draft.EventDispatchFailure,
		draft.EventExpire,
	)
}

// TestTransitionSafety verifies the single-edge invariants of the table.
func TestTransitionSafety(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("posted is reachable only by dispatch_success from approved", prop.ForAll(
		func(from draft.Status, event draft.Event) bool {
			next, err := draft.Next(from, event)
			if err != nil {
				var invalid *draft.InvalidTransitionError
				return errors.As(err, &invalid)
			}
			if next == draft.StatusPosted {
				return from == draft.StatusApproved && event == draft.EventDispatchSuccess
			}
			return true
		},
		genStatus(), genEvent(),
	))

	properties.Property("terminal statuses admit no events", prop.ForAll(
		func(from draft.Status, event draft.Event) bool {
			if !draft.IsTerminal(from) {
				return true
			}
			_, err := draft.Next(from, event)
			return err != nil
		},
		genStatus(), genEvent(),
	))

	properties.Property("every edge lands on a valid status", prop.ForAll(
		func(from draft.Status, event draft.Event) bool {
			next, err := draft.Next(from, event)
			if err != nil {
				return true
			}
			return draft.ValidStatus(next)
		},
		genStatus(), genEvent(),
	))

	properties.TestingRun(t)
}

// TestTransitionWalks drives random event sequences from pending_approval
// and checks the path invariants hold at every step, not just per edge.
func TestTransitionWalks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no walk posts without passing approved", prop.ForAll(
		func(events []draft.Event) bool {
			status := draft.StatusPendingApproval
			for _, event := range events {
				if draft.IsTerminal(status) {
					if _, err := draft.Next(status, event); err == nil {
						return false
					}
					continue
				}
				next, err := draft.Next(status, event)
				if err != nil {
					// Invalid edges leave the draft where it was.
					continue
				}
				if next == draft.StatusPosted && status != draft.StatusApproved {
					return false
				}
				status = next
			}
			return true
		},
		gen.SliceOf(genEvent()),
	))

	properties.Property("a rejected or expired walk never dispatches afterwards", prop.ForAll(
		func(events []draft.Event) bool {
			status := draft.StatusPendingApproval
			retired := false
			for _, event := range events {
				next, err := draft.Next(status, event)
				if err != nil {
					continue
				}
				if retired {
					// Any successful edge after retirement is a table hole.
					return false
				}
				status = next
				if status == draft.StatusRejected || status == draft.StatusExpired {
					retired = true
				}
			}
			return true
		},
		gen.SliceOf(genEvent()),
	))

	properties.TestingRun(t)
}
