package api

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the status endpoints.
func buildOpenAPIDoc() map[string]any {
	get := func(summary, desc string) map[string]any {
		return map[string]any{
			"get": map[string]any{
				"summary":   summary,
				"responses": map[string]any{"200": map[string]any{"description": desc}},
			},
		}
	}

	workerByID := get("One worker slot", "Worker view")
	op := workerByID["get"].(map[string]any)
	op["parameters"] = []any{map[string]any{
		"name": "id", "in": "path", "required": true,
		"schema": map[string]any{"type": "integer"},
	}}
	op["responses"].(map[string]any)["404"] = map[string]any{"description": "Unknown worker"}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "typepool status",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz":      get("Pool health and counters", "Health summary"),
			"/workers":      get("Worker table as seen through the event stream", "Worker views"),
			"/workers/{id}": workerByID,
			"/events":       get("Server-sent event stream (honours Last-Event-ID)", "text/event-stream"),
		},
	}
}
