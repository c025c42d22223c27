// Package openapi assembles the OpenAPI document served at /.well-known/openapi.json.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Scopes      []string       `json:"x-required-scopes,omitempty"`
	Public      bool           `json:"-"` // no bearer required
	Parameters  []Parameter    `json:"parameters,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

type Parameter struct {
	Name     string `json:"name"`
	In       string `json:"in"` // query | path | header
	Required bool   `json:"required,omitempty"`
}

// Registry holds the registered operations.
type Registry struct {
	mu  sync.RWMutex
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	if op.Method != "" {
		op.Method = strings.ToLower(op.Method)
	}
	if op.Responses == nil {
		op.Responses = map[string]any{"200": map[string]any{"description": "OK"}}
	}
	r.mu.Lock()
	r.Ops = append(r.Ops, op)
	r.mu.Unlock()
}

// Build produces a minimal OpenAPI 3.1 document. Schemas are kept inline.
func (r *Registry) Build(serviceName, version string) map[string]any {
	r.mu.RLock()
	ops := append([]Operation(nil), r.Ops...)
	r.mu.RUnlock()
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })

	paths := map[string]any{}
	for _, op := range ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": op.Responses,
		}
		if op.Description != "" {
			m["description"] = op.Description
		}
		if len(op.Scopes) > 0 {
			m["x-required-scopes"] = op.Scopes
		}
		if len(op.Parameters) > 0 {
			params := make([]map[string]any, 0, len(op.Parameters))
			for _, p := range op.Parameters {
				params = append(params, map[string]any{"name": p.Name, "in": p.In, "required": p.Required || p.In == "path", "schema": map[string]any{"type": "string"}})
			}
			m["parameters"] = params
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		if op.Public {
			m["security"] = []map[string]any{}
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string]any{{"bearer": []string{}}},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
