package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/coda/internal/observability"
	"github.com/harun/coda/internal/tracing"
	"github.com/harun/coda/pkg/llm"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// RejectedByUser is the result error for a denied confirmation.
	RejectedByUser = "Command was rejected by user"

	defaultTimeout   = 2 * time.Minute
	defaultMaxOutput = 16 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Items       string      `json:"items,omitempty"` // element type for arrays
}

// ToolHandler runs a tool. The returned fields are flattened into the result
// envelope; a non-nil error becomes the result's error.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Classification is the confirmation verdict for one call.
type Classification struct {
	Safe    bool
	Command string
	Reason  string
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`

	// Classify, when set, decides whether a call needs confirmation.
	Classify func(params map[string]interface{}) Classification `json:"-"`
}

// ConfirmFunc asks the operator to approve an unsafe command.
type ConfirmFunc func(ctx context.Context, command, reason string) (bool, error)

// ExecuteOptions carries per-call settings.
type ExecuteOptions struct {
	Confirm     ConfirmFunc
	AutoApprove bool
	WorkingDir  string
	Timeout     time.Duration
	SessionID   string
	ToolCallID  string
}

type registeredTool struct {
	def        ToolDefinition
	schema     *gojsonschema.Schema
	schemaJSON map[string]interface{}
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools     map[string]*registeredTool
	maxOutput int
	mu        sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:     make(map[string]*registeredTool),
		maxOutput: defaultMaxOutput,
	}
}

// SetMaxOutput sets the per-field cap for string output.
func (te *ToolExecutor) SetMaxOutput(bytes int) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.maxOutput = bytes
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := generateJSONSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	te.tools[def.Name] = &registeredTool{def: def, schema: schema, schemaJSON: schemaMap}

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()
	delete(te.tools, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	if tool, ok := te.tools[name]; ok {
		def := tool.def
		return &def
	}
	return nil
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the vendor-neutral declarations of every tool.
func (te *ToolExecutor) Schemas() []llm.ToolSchema {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make([]llm.ToolSchema, 0, len(te.tools))
	for _, tool := range te.tools {
		out = append(out, llm.ToolSchema{
			Name:        tool.def.Name,
			Description: tool.def.Description,
			Parameters:  tool.schemaJSON,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool. It never returns an error: every failure, including an
// unknown name, a denied confirmation or a timeout, is reported in the result.
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, opts *ExecuteOptions) ToolResult {
	if opts == nil {
		opts = &ExecuteOptions{}
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	maxOutput := te.maxOutput
	te.mu.RUnlock()

	if tool == nil {
		log.Warn().Str("tool", toolName).Msg("Tool not found")
		return Failure("Unknown tool: " + toolName)
	}

	ctx, span := tracing.StartSpan(ctx, "coda/toolexecutor", "tool.execute",
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", opts.ToolCallID),
	)
	defer span.End()
	ctx = ContextWithOptions(ctx, opts)

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", toolName).Logger()

	if err := validateParameters(tool.schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return Failure(fmt.Sprintf("Invalid arguments for %s: %v", toolName, err))
	}

	if tool.def.Classify != nil {
		if result, ok := te.confirm(ctx, toolName, tool.def.Classify(params), opts); !ok {
			span.SetAttributes(attribute.Bool("tool.rejected", true))
			return result
		}
	}

	timeout := defaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	type outcome struct {
		fields map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		fields, err := tool.def.Handler(timeoutCtx, params)
		done <- outcome{fields: fields, err: err}
	}()

	var result ToolResult
	select {
	case out := <-done:
		if out.err != nil {
			result = Failure(out.err.Error())
			if len(out.fields) > 0 {
				result.Fields = out.fields
			}
		} else {
			result = Success(out.fields)
		}
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			result = Failure("Tool execution cancelled")
		} else {
			result = Failure(fmt.Sprintf("Tool execution timed out after %v", timeout))
		}
	}

	duration := time.Since(startTime)
	if truncateFields(result.Fields, maxOutput) {
		result.Fields["truncated"] = true
	}

	observability.RecordToolExecution(toolName, duration, result.Success)
	observability.RecordToolAudit(ctx, toolName, opts.SessionID, statusOf(result), map[string]interface{}{
		"duration_ms":  duration.Milliseconds(),
		"tool_call_id": opts.ToolCallID,
	})

	logger.Debug().
		Dur("duration", duration).
		Bool("success", result.Success).
		Msg("Tool execution completed")

	return result
}

// confirm applies the confirmation policy. ok is false when the call must not run.
func (te *ToolExecutor) confirm(ctx context.Context, toolName string, c Classification, opts *ExecuteOptions) (ToolResult, bool) {
	if c.Safe {
		return ToolResult{}, true
	}

	audit := func(decision string) {
		observability.RecordConfirmation(decision)
		observability.RecordConfirmationAudit(ctx, toolName, opts.SessionID, decision, map[string]interface{}{
			"command": c.Command,
			"reason":  c.Reason,
		})
	}

	if opts.AutoApprove {
		audit("auto")
		return ToolResult{}, true
	}
	if opts.Confirm == nil {
		audit("unavailable")
		return Failure(fmt.Sprintf("Confirmation required (%s) but no confirmation handler is available", c.Reason)), false
	}

	approved, err := opts.Confirm(ctx, c.Command, c.Reason)
	if err != nil {
		audit("error")
		log.Warn().Err(err).Str("tool", toolName).Msg("Confirmation failed")
		return Failure(fmt.Sprintf("Confirmation failed: %v", err)), false
	}
	if !approved {
		audit("denied")
		return Failure(RejectedByUser), false
	}
	audit("approved")
	return ToolResult{}, true
}

func statusOf(r ToolResult) string {
	if r.Success {
		return "success"
	}
	return "failure"
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
		if param.Items != "" && !validTypes[param.Items] {
			return fmt.Errorf("invalid item type %q for %s", param.Items, param.Name)
		}
	}
	return nil
}

// generateJSONSchema builds the JSON Schema for a tool's parameters
func generateJSONSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []interface{}{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			paramSchema["enum"] = enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]interface{}{"type": items}
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("%v", errors)
	}
	return nil
}

// truncateFields caps string fields at max bytes on a rune boundary.
func truncateFields(fields map[string]interface{}, max int) bool {
	if max <= 0 {
		return false
	}
	truncated := false
	for key, value := range fields {
		str, ok := value.(string)
		if !ok || len(str) <= max {
			continue
		}
		cut := max
		for cut > 0 && !isRuneStart(str[cut]) {
			cut--
		}
		fields[key] = str[:cut] + "\n... [output truncated]"
		truncated = true
	}
	return truncated
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
