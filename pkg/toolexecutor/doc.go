// Package toolexecutor runs capabilities on behalf of the agent loop.
//
// Invariants:
// - Local tools take precedence over remote providers with the same name.
// - Remote calls go only to ONLINE providers; candidates rotate round-robin.
// - Dispatch failures become "Error: ..." observations, never Go errors.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{Name: "echo", Description: "Echo input", Handler: h})
//	d, _ := toolexecutor.NewDispatcher(toolexecutor.DispatcherConfig{Executor: exec, Providers: reg})
//	obs := d.Invoke(ctx, "echo", map[string]interface{}{"text": "hi"})
//	_ = obs
package toolexecutor
