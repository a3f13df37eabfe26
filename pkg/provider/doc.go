// Package provider is the library a remote tool provider embeds: Handler
// serves a local ToolExecutor over HTTP and Reporter keeps the provider
// registered with the core.
package provider
