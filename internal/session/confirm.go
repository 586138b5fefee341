package session

import "context"

// Confirm asks the operator to approve a risky continuation, such as
// flashing an image whose application version or id differs from what's
// already on the device. It returns the operator's answer, or an error
// if the question couldn't be asked (stdin closed, ctx canceled).
type Confirm func(ctx context.Context, prompt string) (bool, error)

// AlwaysConfirm approves every prompt without asking, for non-interactive
// use (CI, scripted reflashing) where the caller has already decided.
func AlwaysConfirm(_ context.Context, _ string) (bool, error) { return true, nil }

// NeverConfirm declines every prompt without asking.
func NeverConfirm(_ context.Context, _ string) (bool, error) { return false, nil }
