// ABOUTME: Static tool definitions advertised by the registry's MCP endpoint
// ABOUTME: Names and input schemas for tools/list responses

package mcp

// toolDefinition is the MCP tool descriptor shape.
type toolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func toolDefinitions() []toolDefinition {
	pathProp := stringProp("Service path, e.g. /fininfo")

	return []toolDefinition{
		{
			Name:        "list_services",
			Description: "List registered services visible to the caller",
			InputSchema: objectSchema(map[string]any{
				"enabled_only": map[string]any{"type": "boolean", "description": "Only services currently enabled"},
			}),
		},
		{
			Name:        "register_service",
			Description: "Register a new backend service with the gateway",
			InputSchema: objectSchema(map[string]any{
				"server_name":    stringProp("Human-readable display name"),
				"path":           pathProp,
				"proxy_pass_url": stringProp("Absolute URL of the backend"),
				"description":    stringProp("What the service does"),
				"tags":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"num_stars":      map[string]any{"type": "integer"},
				"is_python":      map[string]any{"type": "boolean"},
				"license":        stringProp("License identifier"),
			}, "server_name", "path", "proxy_pass_url"),
		},
		{
			Name:        "remove_service",
			Description: "Remove a registered service and its cached tool catalog",
			InputSchema: objectSchema(map[string]any{"service_path": pathProp}, "service_path"),
		},
		{
			Name:        "toggle_service",
			Description: "Flip a service between enabled and disabled",
			InputSchema: objectSchema(map[string]any{"service_path": pathProp}, "service_path"),
		},
		{
			Name:        "healthcheck",
			Description: "Report the current health status of all registered services",
			InputSchema: objectSchema(map[string]any{}),
		},
		{
			Name:        "intelligent_tool_finder",
			Description: "Rank registered tools against a natural-language query or tag set",
			InputSchema: objectSchema(map[string]any{
				"natural_language_query": stringProp("Free-text description of the desired capability"),
				"tags":                   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"top_k_services":         map[string]any{"type": "integer", "description": "Service shortlist size (default 3)"},
				"top_n_tools":            map[string]any{"type": "integer", "description": "Result bound (default 1)"},
			}),
		},
		{
			Name:        "get_server_details",
			Description: "Fetch the full registration record for one service",
			InputSchema: objectSchema(map[string]any{"service_path": pathProp}, "service_path"),
		},
		{
			Name:        "get_service_tools",
			Description: "Return the cached tool catalog for one service",
			InputSchema: objectSchema(map[string]any{"service_path": pathProp}, "service_path"),
		},
		{
			Name:        "refresh_service",
			Description: "Re-fetch a service's tool list from its backend and update the cache",
			InputSchema: objectSchema(map[string]any{"service_path": pathProp}, "service_path"),
		},
	}
}
