package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo input",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
			{Name: "mode", Type: "string", Description: "Output mode", Enum: []string{"plain", "upper"}},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			text := params["text"].(string)
			if params["mode"] == "upper" {
				text = strings.ToUpper(text)
			}
			return map[string]interface{}{"text": text}, nil
		},
	}
}

func commandTool(ran *bool) ToolDefinition {
	classifier := NewCommandClassifier()
	return ToolDefinition{
		Name:        "run_command",
		Description: "Run a command",
		Parameters: []ToolParameter{
			{Name: "command", Type: "string", Description: "Command line", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			*ran = true
			return map[string]interface{}{"output": "ok"}, nil
		},
		Classify: classifier.ClassifyParam("command"),
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	t.Run("should register and expose schema", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(echoTool()))

		tool := te.GetTool("echo")
		require.NotNil(t, tool)
		assert.Equal(t, "echo", tool.Name)
		assert.Equal(t, []string{"echo"}, te.ListTools())

		schemas := te.Schemas()
		require.Len(t, schemas, 1)
		assert.Equal(t, "object", schemas[0].Parameters["type"])
		assert.Equal(t, []interface{}{"text"}, schemas[0].Parameters["required"])
		props := schemas[0].Parameters["properties"].(map[string]interface{})
		assert.Contains(t, props, "mode")
	})

	t.Run("should reject duplicates", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(echoTool()))
		assert.Error(t, te.RegisterTool(echoTool()))
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		noop := func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) { return nil, nil }
		cases := map[string]ToolDefinition{
			"empty name":        {Description: "x", Handler: noop},
			"empty description": {Name: "x", Handler: noop},
			"nil handler":       {Name: "x", Description: "x"},
			"bad param type": {Name: "x", Description: "x", Handler: noop, Parameters: []ToolParameter{
				{Name: "p", Type: "float", Description: "p"},
			}},
		}
		for name, def := range cases {
			t.Run(name, func(t *testing.T) {
				assert.Error(t, New().RegisterTool(def))
			})
		}
	})
}

func TestToolExecutor_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("should report unknown tool in the result", func(t *testing.T) {
		res := New().Execute(ctx, "nope", nil, nil)
		assert.False(t, res.Success)
		assert.Equal(t, "Unknown tool: nope", res.Error)
	})

	t.Run("should flatten handler fields", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(echoTool()))

		res := te.Execute(ctx, "echo", map[string]interface{}{"text": "hi", "mode": "upper"}, nil)
		require.True(t, res.Success)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(res.String()), &decoded))
		assert.Equal(t, map[string]interface{}{"success": true, "text": "HI"}, decoded)
	})

	t.Run("should fail validation for missing and extra parameters", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(echoTool()))

		res := te.Execute(ctx, "echo", map[string]interface{}{}, nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Invalid arguments for echo")

		res = te.Execute(ctx, "echo", map[string]interface{}{"text": "a", "extra": 1}, nil)
		assert.False(t, res.Success)

		res = te.Execute(ctx, "echo", map[string]interface{}{"text": "a", "mode": "loud"}, nil)
		assert.False(t, res.Success)
	})

	t.Run("should turn handler errors into failed results", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "fail",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"exit_code": 2}, errors.New("boom")
			},
		}))

		res := te.Execute(ctx, "fail", nil, nil)
		assert.False(t, res.Success)
		assert.Equal(t, "boom", res.Error)
		assert.Equal(t, 2, res.Fields["exit_code"])
	})

	t.Run("should time out slow handlers", func(t *testing.T) {
		te := New()
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "slow",
			Description: "Sleeps",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}))

		res := te.Execute(ctx, "slow", nil, &ExecuteOptions{Timeout: 20 * time.Millisecond})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "timed out")
	})

	t.Run("should truncate long string fields", func(t *testing.T) {
		te := New()
		te.SetMaxOutput(10)
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "big",
			Description: "Big output",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"output": strings.Repeat("é", 20)}, nil
			},
		}))

		res := te.Execute(ctx, "big", nil, nil)
		require.True(t, res.Success)
		assert.Equal(t, true, res.Fields["truncated"])
		out := res.Fields["output"].(string)
		assert.True(t, strings.HasSuffix(out, "[output truncated]"))
		assert.True(t, strings.HasPrefix(out, strings.Repeat("é", 5)))
	})

	t.Run("should expose options to handlers", func(t *testing.T) {
		te := New()
		var seen string
		require.NoError(t, te.RegisterTool(ToolDefinition{
			Name:        "cwd",
			Description: "Reports cwd",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				seen = WorkingDirFromContext(ctx)
				return nil, nil
			},
		}))

		res := te.Execute(ctx, "cwd", nil, &ExecuteOptions{WorkingDir: "/work"})
		assert.True(t, res.Success)
		assert.Equal(t, "/work", seen)
	})
}

func TestToolExecutor_Confirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("should run safe commands without asking", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		asked := false
		confirm := func(ctx context.Context, command, reason string) (bool, error) {
			asked = true
			return false, nil
		}
		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "ls -la"}, &ExecuteOptions{Confirm: confirm})
		assert.True(t, res.Success)
		assert.True(t, ran)
		assert.False(t, asked)
	})

	t.Run("should report rejection when denied", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		var gotCommand, gotReason string
		confirm := func(ctx context.Context, command, reason string) (bool, error) {
			gotCommand, gotReason = command, reason
			return false, nil
		}
		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "rm -rf build"}, &ExecuteOptions{Confirm: confirm})
		assert.False(t, res.Success)
		assert.Equal(t, RejectedByUser, res.Error)
		assert.False(t, ran)
		assert.Equal(t, "rm -rf build", gotCommand)
		assert.Equal(t, "recursive delete", gotReason)
	})

	t.Run("should run when approved", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		confirm := func(ctx context.Context, command, reason string) (bool, error) { return true, nil }
		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "make deploy"}, &ExecuteOptions{Confirm: confirm})
		assert.True(t, res.Success)
		assert.True(t, ran)
	})

	t.Run("should fail only this call without a callback", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "make deploy"}, nil)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Confirmation required")
		assert.False(t, ran)
	})

	t.Run("should skip confirmation with auto-approve", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "make deploy"}, &ExecuteOptions{AutoApprove: true})
		assert.True(t, res.Success)
		assert.True(t, ran)
	})

	t.Run("should surface callback errors", func(t *testing.T) {
		var ran bool
		te := New()
		require.NoError(t, te.RegisterTool(commandTool(&ran)))

		confirm := func(ctx context.Context, command, reason string) (bool, error) {
			return false, errors.New("terminal closed")
		}
		res := te.Execute(ctx, "run_command", map[string]interface{}{"command": "make deploy"}, &ExecuteOptions{Confirm: confirm})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "terminal closed")
		assert.False(t, ran)
	})
}

func TestToolResult_JSON(t *testing.T) {
	t.Run("should omit empty error and round trip fields", func(t *testing.T) {
		data, err := json.Marshal(Success(map[string]interface{}{"path": "a.go"}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true,"path":"a.go"}`, string(data))

		var back ToolResult
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Success)
		assert.Equal(t, "a.go", back.Fields["path"])
	})

	t.Run("should render failures", func(t *testing.T) {
		assert.JSONEq(t, `{"success":false,"error":"Command was rejected by user"}`, Failure(RejectedByUser).String())
	})

	t.Run("should reject non-boolean success", func(t *testing.T) {
		var r ToolResult
		assert.Error(t, json.Unmarshal([]byte(`{"success":"yes"}`), &r))
	})
}
