package registry

import (
	"context"
	"encoding/json"
	"fmt"
)

// MethodHandler matches the gateway's JSON-RPC handler signature
type MethodHandler = func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// GatewayMethods returns the registry's JSON-RPC methods keyed by name
func GatewayMethods(r *Registry) map[string]MethodHandler {
	return map[string]MethodHandler{
		"registry.register": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			var req RegisterRequest
			if err := decodeParams(params, &req); err != nil {
				return nil, err
			}
			if err := r.Register(req); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"success":    true,
				"instanceId": req.InstanceID,
			}, nil
		},

		"registry.heartbeat": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			var req HeartbeatRequest
			if err := decodeParams(params, &req); err != nil {
				return nil, err
			}
			if req.InstanceID == "" {
				return nil, fmt.Errorf("%w: instanceId is required", ErrInvalidProvider)
			}
			return HeartbeatAck{Success: true, Known: r.Heartbeat(req.InstanceID)}, nil
		},

		"registry.list": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			providers := r.ListAll()
			return map[string]interface{}{
				"providers": providers,
				"count":     len(providers),
			}, nil
		},

		"registry.listOnline": func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			providers := r.ListOnline()
			return map[string]interface{}{
				"providers": providers,
				"count":     len(providers),
			}, nil
		},
	}
}

// decodeParams re-encodes loosely typed RPC params into a typed request
func decodeParams(params map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProvider, err)
	}
	return nil
}
