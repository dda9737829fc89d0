package toolexecutor

import "context"

type execOptionsKey struct{}

// ContextWithOptions attaches the call options to a context for tool handlers.
func ContextWithOptions(ctx context.Context, opts *ExecuteOptions) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		return ctx
	}
	return context.WithValue(ctx, execOptionsKey{}, opts)
}

// OptionsFromContext extracts the call options from a context.
func OptionsFromContext(ctx context.Context) *ExecuteOptions {
	if ctx == nil {
		return nil
	}
	if opts, ok := ctx.Value(execOptionsKey{}).(*ExecuteOptions); ok {
		return opts
	}
	return nil
}

// WorkingDirFromContext returns the working directory for the current call, or "".
func WorkingDirFromContext(ctx context.Context) string {
	if opts := OptionsFromContext(ctx); opts != nil {
		return opts.WorkingDir
	}
	return ""
}
