package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// webhookSchemaJSON and pluginSchemaJSON constrain the shape of individual
// list entries in k6s.yaml, catching malformed URLs, missing module paths,
// and malformed event-name lists before values reach the core constructors.
const webhookSchemaJSON = `{
	"type": "object",
	"properties": {
		"url": {"type": "string", "pattern": "^https?://"},
		"secret": {"type": "string"},
		"events": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["url"]
}`

const pluginSchemaJSON = `{
	"type": "object",
	"properties": {
		"module": {"type": "string", "minLength": 1},
		"config": {"type": "object"}
	},
	"required": ["module"]
}`

func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	return c.Compile(name)
}

// validateFragments re-parses the raw YAML as generic maps so each webhook
// and plugin entry can be schema-checked independently of the typed Config
// struct, which would silently zero-value a malformed field instead of
// rejecting it.
func validateFragments(raw []byte) error {
	var doc struct {
		Webhooks []yaml.Node `yaml:"webhooks"`
		Plugins  []yaml.Node `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse k6s.yaml for validation: %w", err)
	}

	if len(doc.Webhooks) > 0 {
		schema, err := compileSchema("webhook.json", webhookSchemaJSON)
		if err != nil {
			return err
		}
		for i, node := range doc.Webhooks {
			if err := validateNode(schema, &node); err != nil {
				return fmt.Errorf("webhooks[%d]: %w", i, err)
			}
		}
	}

	if len(doc.Plugins) > 0 {
		schema, err := compileSchema("plugin.json", pluginSchemaJSON)
		if err != nil {
			return err
		}
		for i, node := range doc.Plugins {
			if err := validateNode(schema, &node); err != nil {
				return fmt.Errorf("plugins[%d]: %w", i, err)
			}
		}
	}

	return nil
}

func validateNode(schema *jsonschema.Schema, node *yaml.Node) error {
	var generic interface{}
	if err := node.Decode(&generic); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	// jsonschema requires JSON-native types (map[string]any, not
	// map[interface{}]interface{}); round-trip through encoding/json.
	b, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return fmt.Errorf("unmarshal entry: %w", err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
