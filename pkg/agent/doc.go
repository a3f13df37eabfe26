// Package agent runs the reasoning loop that turns a user request into a
// final answer by alternating model calls and tool invocations.
//
// The model steers the loop with two textual markers: a reply containing
// FINAL_ANSWER: ends the run, a reply containing TOOL_CALL: followed by
// {"name": ..., "args": {...}} dispatches a capability and feeds the
// observation back. Anything else is kept as a thought.
//
// Invariants:
// - A run always ends in COMPLETED or ERROR and never exceeds its iteration limit.
// - FINAL_ANSWER wins when a reply carries both markers.
// - Tool failures are observations; only LLM and store failures end a run in ERROR.
// - Service runs at most one turn per session at a time (session.Guard).
//
// Usage:
//
//	orch, _ := agent.NewOrchestrator(agent.OrchestratorConfig{Tools: dispatcher})
//	svc, _ := agent.NewService(agent.ServiceConfig{Orchestrator: orch, ...})
//	result, err := svc.Chat(ctx, agent.ChatParams{Message: "add 10 and 5"})
//	_, _ = result, err
package agent
