package toolexecutor

import (
	"encoding/json"
	"fmt"
)

// ToolResult is the outcome of one tool call. On the wire it is a flat JSON
// object: Fields plus "success" and, when set, "error".
type ToolResult struct {
	Success bool
	Error   string
	Fields  map[string]interface{}
}

// Success builds a successful result carrying fields.
func Success(fields map[string]interface{}) ToolResult {
	return ToolResult{Success: true, Fields: fields}
}

// Failure builds a failed result.
func Failure(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

// Get returns a field value.
func (r ToolResult) Get(key string) (interface{}, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// MarshalJSON flattens the envelope.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	} else {
		delete(out, "error")
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object back into the envelope.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = ToolResult{}
	if v, ok := raw["success"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("tool result: success is %T, want bool", v)
		}
		r.Success = b
		delete(raw, "success")
	}
	if v, ok := raw["error"]; ok {
		if s, isString := v.(string); isString {
			r.Error = s
			delete(raw, "error")
		}
	}
	if len(raw) > 0 {
		r.Fields = raw
	}
	return nil
}

// String renders the result as the JSON stored in a tool message.
func (r ToolResult) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
