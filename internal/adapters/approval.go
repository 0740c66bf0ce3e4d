package adapters

import "context"

// ApprovalAdapter never does work itself; it signals the engine to halt the
// execution in WAITING_APPROVAL until a human decides.
type ApprovalAdapter struct{}

func NewApprovalAdapter() *ApprovalAdapter { return &ApprovalAdapter{} }

func (a *ApprovalAdapter) Execute(_ context.Context, req Request) (Result, error) {
	message, _ := req.Config["message"].(string)
	if message == "" {
		message = "Please review and approve to continue"
	}
	return Result{
		RequiresApproval: true,
		Output: map[string]interface{}{
			"requires_approval": true,
			"approval_message":  interpolate(message, req.Variables),
		},
	}, nil
}
