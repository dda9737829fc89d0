package toolexecutor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ApprovalRequest describes a command awaiting the operator's decision.
type ApprovalRequest struct {
	Command   string        `json:"command"`
	Reason    string        `json:"reason"`
	Cwd       string        `json:"cwd,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Timeout   time.Duration `json:"timeout"`
}

// ApprovalResponse is the operator's decision. Always asks for the command to
// be added to the allowlist.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Always   bool   `json:"always,omitempty"`
	Reason   string `json:"reason"`
}

// ApprovalHandler handles approval requests
type ApprovalHandler interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}

// ApprovalManager bounds approval requests by a timeout and records "always"
// decisions in the allowlist.
type ApprovalManager struct {
	mu             sync.RWMutex
	handler        ApprovalHandler
	allowlist      *AllowlistManager
	defaultTimeout time.Duration
}

// NewApprovalManager creates a new approval manager
func NewApprovalManager(handler ApprovalHandler) *ApprovalManager {
	return &ApprovalManager{
		handler:        handler,
		defaultTimeout: 5 * time.Minute,
	}
}

// SetAllowlist sets where "always" decisions are stored.
func (am *ApprovalManager) SetAllowlist(allowlist *AllowlistManager) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.allowlist = allowlist
}

// RequestApproval asks the handler and returns whether the command may run.
// A timeout or handler error counts as a denial and is returned as an error.
func (am *ApprovalManager) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	am.mu.RLock()
	handler := am.handler
	allowlist := am.allowlist
	timeout := am.defaultTimeout
	am.mu.RUnlock()

	if handler == nil {
		return false, fmt.Errorf("no approval handler configured")
	}
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("command", req.Command).Str("reason", req.Reason).Msg("Requesting approval")

	type outcome struct {
		resp ApprovalResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := handler.RequestApproval(timeoutCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			log.Error().Err(out.err).Str("command", req.Command).Msg("Approval request failed")
			return false, fmt.Errorf("approval request failed: %w", out.err)
		}
		if !out.resp.Approved {
			log.Info().Str("command", req.Command).Str("reason", out.resp.Reason).Msg("Approval denied")
			return false, nil
		}
		if out.resp.Always && allowlist != nil {
			if err := allowlist.AllowCommandLine(req.Command, req.Reason); err != nil {
				log.Warn().Err(err).Str("command", req.Command).Msg("Failed to persist allowlist entry")
			}
		}
		log.Info().Str("command", req.Command).Bool("always", out.resp.Always).Msg("Approval granted")
		return true, nil

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn().Str("command", req.Command).Dur("timeout", timeout).Msg("Approval request timed out")
		return false, fmt.Errorf("approval request timed out after %v", timeout)
	}
}

// ConfirmFunc adapts the manager to the callback the tool registry expects.
func (am *ApprovalManager) ConfirmFunc() ConfirmFunc {
	return func(ctx context.Context, command, reason string) (bool, error) {
		req := ApprovalRequest{Command: command, Reason: reason}
		if opts := OptionsFromContext(ctx); opts != nil {
			req.Cwd = opts.WorkingDir
			req.SessionID = opts.SessionID
		}
		return am.RequestApproval(ctx, req)
	}
}

// SetDefaultTimeout sets the default timeout for approval requests
func (am *ApprovalManager) SetDefaultTimeout(timeout time.Duration) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.defaultTimeout = timeout
}

// GetDefaultTimeout returns the default timeout
func (am *ApprovalManager) GetDefaultTimeout() time.Duration {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.defaultTimeout
}

// SetHandler sets the approval handler
func (am *ApprovalManager) SetHandler(handler ApprovalHandler) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.handler = handler
}
