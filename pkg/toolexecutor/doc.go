// Package toolexecutor is the tool registry the agent loop dispatches into.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Execute never fails out of band: unknown tools, invalid arguments,
//   denied confirmations and timeouts all come back as a ToolResult with
//   success=false.
// - Calls whose tool declares a classifier are gated: unsafe commands run only
//   after AutoApprove or an approving ConfirmFunc.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
//			return map[string]interface{}{"text": params["text"]}, nil
//		},
//	})
//	res := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, nil)
package toolexecutor
