// Package model loads trained model artifacts and evaluates them.
//
// Artifacts are JSON (or YAML) documents validated against embedded JSON
// Schemas before decoding. Loaded models are read-only and safe for
// concurrent use.
package model

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema/*.json
var schemaFS embed.FS

const (
	ensembleSchema = "schema/ensemble.schema.json"
	noveltySchema  = "schema/novelty.schema.json"
)

// Info describes the artifact file behind a loaded model.
type Info struct {
	Path      string `json:"path"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"sizeBytes"`
}

// readArtifact reads path and fingerprints its content.
func readArtifact(path string) ([]byte, Info, error) {
	info := Info{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, info, err
	}

	sum := sha256.Sum256(data)
	info.Checksum = hex.EncodeToString(sum[:])
	info.SizeBytes = int64(len(data))
	return data, info, nil
}

// normalize returns the JSON form of an artifact. YAML documents are
// recognised by extension.
func normalize(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml to json: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// validateDocument checks a JSON document against an embedded schema.
func validateDocument(schemaPath string, doc []byte) error {
	schemaData, err := schemaFS.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaPath, bytes.NewReader(schemaData)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// decode validates doc against schemaPath and unmarshals it into v.
func decode(schemaPath string, doc []byte, v any) error {
	if err := validateDocument(schemaPath, doc); err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}
