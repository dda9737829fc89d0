package toolexecutor

import "context"

// AutoApproveHandler approves every request without user interaction. Used by
// the CLI's --yes flag.
type AutoApproveHandler struct{}

// RequestApproval implements ApprovalHandler.
func (AutoApproveHandler) RequestApproval(_ context.Context, _ ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: true, Reason: "auto-approved"}, nil
}

// DenyHandler refuses every request. Used when stdin is not a terminal.
type DenyHandler struct{}

// RequestApproval implements ApprovalHandler.
func (DenyHandler) RequestApproval(_ context.Context, req ApprovalRequest) (ApprovalResponse, error) {
	return ApprovalResponse{Approved: false, Reason: "no interactive terminal"}, nil
}
