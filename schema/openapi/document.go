package openapi

import (
	"fmt"
	"sort"

	params "github.com/goliatone/go-params"
)

type documentEntry struct {
	definition params.ParameterDefinition
	ref        string
}

type openAPIDocumentBuilder struct {
	config   generatorConfig
	registry *componentRegistry
	entries  []documentEntry
}

func newOpenAPIDocumentBuilder(config generatorConfig, registry *componentRegistry, entries []documentEntry) *openAPIDocumentBuilder {
	return &openAPIDocumentBuilder{
		config:   config,
		registry: registry,
		entries:  entries,
	}
}

func (b *openAPIDocumentBuilder) build() (map[string]any, error) {
	document := map[string]any{
		"openapi": b.config.openAPIVersion,
		"info":    b.buildInfo(),
		"paths":   b.buildPaths(),
	}

	if components := b.registry.componentsMap(); components != nil {
		document["components"] = map[string]any{
			"schemas": components,
		}
	}

	if err := validateDocument(document); err != nil {
		return nil, err
	}
	return document, nil
}

func (b *openAPIDocumentBuilder) buildInfo() map[string]any {
	info := map[string]any{
		"title":   b.config.info.Title,
		"version": b.config.info.Version,
	}
	if b.config.info.Description != "" {
		info["description"] = b.config.info.Description
	}
	return info
}

func (b *openAPIDocumentBuilder) buildPaths() map[string]any {
	paths := make(map[string]any, len(b.entries))
	for _, entry := range b.entries {
		pathItem := map[string]any{
			"get": b.resolveOperation(entry),
		}
		if entry.definition.Overridable {
			pathItem["put"] = b.overrideOperation(entry)
		}
		paths[fmt.Sprintf("%s/%s", b.config.basePath, entry.definition.Name)] = pathItem
	}
	return paths
}

func (b *openAPIDocumentBuilder) resolveOperation(entry documentEntry) map[string]any {
	return map[string]any{
		"operationId": "resolve:" + entry.definition.Name,
		"summary":     fmt.Sprintf("Resolve %s for a merchant", entry.definition.Name),
		"parameters": []any{
			map[string]any{
				"name":     b.config.merchantQueryParam,
				"in":       "query",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			},
		},
		"responses": map[string]any{
			"200": map[string]any{
				"description": "Effective value",
				"content":     b.content(entry.ref),
			},
			"404": map[string]any{"description": "Unknown parameter"},
		},
	}
}

func (b *openAPIDocumentBuilder) overrideOperation(entry documentEntry) map[string]any {
	responses := make(map[string]any, len(b.config.responses))
	statuses := make([]string, 0, len(b.config.responses))
	for status := range b.config.responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		responses[status] = map[string]any{
			"description": b.config.responses[status].Description,
		}
	}

	return map[string]any{
		"operationId": "override:" + entry.definition.Name,
		"summary":     fmt.Sprintf("Set an override of %s", entry.definition.Name),
		"parameters": []any{
			map[string]any{
				"name":     "entity_type",
				"in":       "query",
				"required": true,
				"schema": map[string]any{
					"type": "string",
					"enum": []any{
						string(params.EntityMerchant),
						string(params.EntityOrganization),
						string(params.EntityProgram),
						string(params.EntityBank),
					},
				},
			},
			map[string]any{
				"name":     "entity_id",
				"in":       "query",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			},
		},
		"requestBody": map[string]any{
			"required": true,
			"content":  b.content(entry.ref),
		},
		"responses": responses,
	}
}

func (b *openAPIDocumentBuilder) content(ref string) map[string]any {
	return map[string]any{
		b.config.contentType: map[string]any{
			"schema": map[string]any{"$ref": ref},
		},
	}
}

func validateDocument(document map[string]any) error {
	if document == nil {
		return fmt.Errorf("openapi: document cannot be nil")
	}
	openapi, _ := document["openapi"].(string)
	if openapi == "" {
		return fmt.Errorf("openapi: document missing version string")
	}
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, _ := document["paths"].(map[string]any)
	for pathKey, pathValue := range paths {
		pathItem, _ := pathValue.(map[string]any)
		if len(pathItem) == 0 {
			return fmt.Errorf("openapi: path %q missing operations", pathKey)
		}
		for method, operationValue := range pathItem {
			operation, _ := operationValue.(map[string]any)
			if operation == nil {
				return fmt.Errorf("openapi: operation %s %s invalid payload", method, pathKey)
			}
			if _, ok := operation["operationId"].(string); !ok {
				return fmt.Errorf("openapi: operation %s %s missing operationId", method, pathKey)
			}
			if method == "put" {
				requestBody, _ := operation["requestBody"].(map[string]any)
				if requestBody == nil {
					return fmt.Errorf("openapi: operation %s %s missing requestBody", method, pathKey)
				}
			}
			if _, ok := operation["responses"].(map[string]any); !ok {
				return fmt.Errorf("openapi: operation %s %s missing responses", method, pathKey)
			}
		}
	}
	return nil
}
