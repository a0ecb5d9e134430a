// Schema Generator
//
// Generates JSON Schema files from the HTTP request and response types so
// clients of the ranking service can validate payloads.
//
// Usage:
//
//	go run ./cmd/schema-gen
//
// Output:
//
//	schemas/offers.json
//	schemas/events.json
//	schemas/jobs.json
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/souqnear/ranking-service/internal/handlers"
	"github.com/souqnear/ranking-service/internal/jobs"
	"github.com/souqnear/ranking-service/internal/query"
	"github.com/souqnear/ranking-service/internal/ranking"
)

// SchemaGroup represents a group of related schemas
type SchemaGroup struct {
	Name   string
	Types  []any
	Output string
}

func main() {
	outputDir := "schemas"
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output directory: %v\n", err)
		os.Exit(1)
	}

	groups := []SchemaGroup{
		{
			Name: "offers",
			Types: []any{
				// Request types
				handlers.GetOffersRequest{},
				handlers.GetCommonOffersRequest{},
				handlers.NearestReferencePointRequest{},
				handlers.GetSyncDataRequest{},
				handlers.GetPromoProductsRequest{},
				// Response types
				query.OffersResult{},
				query.SyncData{},
				query.PromoProducts{},
				query.NearestPoint{},
				ranking.NearestMerchantsSet{},
				ranking.CommonCategorySet{},
				handlers.ErrorResponse{},
			},
			Output: "offers.json",
		},
		{
			Name: "events",
			Types: []any{
				ranking.OfferChange{},
				ranking.UpdateSummary{},
				handlers.OfferEventAccepted{},
				handlers.OfferEventFailed{},
			},
			Output: "events.json",
		},
		{
			Name: "jobs",
			Types: []any{
				jobs.Summary{},
				handlers.RebuildAccepted{},
				handlers.RebuildStatusResponse{},
			},
			Output: "jobs.json",
		},
	}

	for _, group := range groups {
		schema := generateGroupSchema(group)
		outputPath := filepath.Join(outputDir, group.Output)

		if err := writeSchema(schema, outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", group.Output, err)
			os.Exit(1)
		}

		fmt.Printf("Generated %s\n", outputPath)
	}

	fmt.Println("Schema generation complete!")
}

// generateGroupSchema creates a combined schema with all types in a group
func generateGroupSchema(group SchemaGroup) map[string]any {
	reflector := &jsonschema.Reflector{
		DoNotReference: false,
		ExpandedStruct: false,
	}

	// Create combined definitions
	definitions := make(map[string]any)

	for _, t := range group.Types {
		schema := reflector.Reflect(t)

		// Get the type name from the schema
		typeName := ""
		if schema.Ref != "" {
			// Extract type name from $ref like "#/$defs/OffersResult"
			typeName = filepath.Base(schema.Ref)
		}

		// Add all definitions from this type's schema
		for name, def := range schema.Definitions {
			definitions[name] = def
		}

		// If there's a main type, add it to definitions too
		if typeName != "" && schema.Definitions[typeName] != nil {
			definitions[typeName] = schema.Definitions[typeName]
		}
	}

	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         fmt.Sprintf("https://souqnear.ma/schemas/ranking/%s.json", group.Name),
		"title":       fmt.Sprintf("%s API Types", capitalize(group.Name)),
		"description": fmt.Sprintf("JSON Schema for %s API types generated from Go structs", group.Name),
		"$defs":       definitions,
	}
}

// writeSchema writes a schema to a JSON file
func writeSchema(schema map[string]any, path string) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
