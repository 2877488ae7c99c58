package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/user/notifirc/pkg/filter"
	"github.com/user/notifirc/pkg/template"
)

const rootSchema = `{
	"type": "object",
	"properties": {
		"pollingInterval": {"type": "integer", "minimum": 50},
		"debug": {"type": "boolean"},
		"logDirectory": {"type": "string"},
		"configDirectory": {"type": "string"},
		"rescanLogsOnStartup": {"type": "boolean"},
		"api": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"host": {"type": "string"},
				"authToken": {"type": "string"},
				"enableFileOps": {"type": "boolean"}
			}
		}
	}
}`

const clientSchema = `{
	"type": "object",
	"required": ["id", "type", "logDirectory"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"type": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"enabled": {"type": "boolean"},
		"logDirectory": {"type": "string", "minLength": 1},
		"discovery": {
			"type": "object",
			"properties": {
				"consoleGlobs": {"type": "array", "items": {"type": "string"}},
				"channelGlobs": {"type": "array", "items": {"type": "string"}},
				"queryGlobs": {"type": "array", "items": {"type": "string"}},
				"serverPattern": {"$ref": "#/definitions/pathPattern"},
				"consolePattern": {"$ref": "#/definitions/pathPattern"},
				"channelPattern": {"$ref": "#/definitions/pathPattern"},
				"queryPattern": {"$ref": "#/definitions/pathPattern"}
			}
		},
		"serverDiscovery": {
			"type": "object",
			"required": ["mode"],
			"properties": {
				"mode": {"enum": ["static", "filesystem", "json", "sqlite"]},
				"servers": {"type": "array"},
				"glob": {"type": "string"},
				"hostnamePattern": {"type": "string"},
				"path": {"type": "string"},
				"hostnameField": {"type": "string"},
				"query": {"type": "string"}
			}
		},
		"fileType": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["text", "json", "sqlite"]},
				"readInterval": {"type": "integer", "minimum": 100}
			}
		},
		"parserRules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "pattern"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"pattern": {"type": "string", "minLength": 1},
					"flags": {"type": "string"},
					"messageType": {"type": "string"},
					"fields": {"type": "object", "additionalProperties": {"type": "string"}},
					"skip": {"type": "boolean"},
					"priority": {"type": "integer"}
				}
			}
		},
		"metadata": {"type": "object"}
	},
	"definitions": {
		"pathPattern": {
			"type": "object",
			"required": ["pattern"],
			"properties": {
				"pattern": {"type": "string", "minLength": 1},
				"group": {"type": "integer", "minimum": 0}
			}
		}
	}
}`

const serverSchema = `{
	"type": "object",
	"required": ["id", "hostname"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"hostname": {"type": "string", "minLength": 1},
		"displayName": {"type": "string"},
		"clientNickname": {"type": "string"},
		"network": {"type": "string"},
		"port": {"type": "integer", "minimum": 1, "maximum": 65535},
		"tls": {"type": "boolean"},
		"enabled": {"type": "boolean"},
		"users": {"type": "object"},
		"metadata": {"type": "object"}
	}
}`

const eventSchema = `{
	"type": "object",
	"required": ["id", "baseEvent"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"enabled": {"type": "boolean"},
		"baseEvent": {"enum": ["message", "join", "part", "quit", "nick", "kick", "mode", "topic", "connect", "disconnect", "any"]},
		"serverIds": {"type": "array", "items": {"type": "string"}},
		"filters": {"type": "object"},
		"sinkIds": {"type": "array", "items": {"type": "string"}},
		"priority": {"type": "integer"},
		"metadata": {"type": "object"}
	}
}`

const sinkSchema = `{
	"type": "object",
	"required": ["id", "kind"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"kind": {"enum": ["ntfy", "webhook", "console", "file", "custom"]},
		"name": {"type": "string"},
		"enabled": {"type": "boolean"},
		"config": {"type": "object"},
		"template": {
			"type": "object",
			"properties": {
				"title": {"type": "string"},
				"body": {"type": "string"},
				"format": {"enum": ["text", "markdown", "json"]}
			}
		},
		"rateLimit": {
			"type": "object",
			"properties": {
				"maxPerMinute": {"type": "integer", "minimum": 1},
				"maxPerHour": {"type": "integer", "minimum": 1}
			}
		},
		"allowedMetadata": {"type": "array", "items": {"type": "string"}},
		"metadata": {"type": "object"}
	}
}`

var schemas = map[string]*gojsonschema.Schema{}

func init() {
	for name, src := range map[string]string{
		"root":          rootSchema,
		CategoryClients: clientSchema,
		CategoryServers: serverSchema,
		CategoryEvents:  eventSchema,
		CategorySinks:   sinkSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("config: bad %s schema: %v", name, err))
		}
		schemas[name] = schema
	}
}

// ValidateRaw checks raw JSON against the schema for the given category
// ("root" or one of the four category names).
func ValidateRaw(category string, raw []byte) error {
	schema, ok := schemas[category]
	if !ok {
		return fmt.Errorf("unknown config category: %s", category)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateClient performs the semantic checks the schema cannot express:
// every parser rule pattern and every path pattern must compile.
func ValidateClient(c *Client) error {
	for _, rule := range c.ParserRules {
		if _, err := filter.CompilePattern(rule.Pattern, rule.Flags); err != nil {
			return fmt.Errorf("parser rule %q: invalid pattern: %w", rule.Name, err)
		}
	}
	for name, pp := range map[string]*PathPattern{
		"serverPattern":  c.Discovery.ServerPattern,
		"consolePattern": c.Discovery.ConsolePattern,
		"channelPattern": c.Discovery.ChannelPattern,
		"queryPattern":   c.Discovery.QueryPattern,
	} {
		if pp == nil {
			continue
		}
		if _, err := regexp.Compile(pp.Pattern); err != nil {
			return fmt.Errorf("discovery %s: invalid pattern: %w", name, err)
		}
	}
	if sd := c.ServerDiscovery; sd != nil && sd.HostnamePattern != "" {
		if _, err := regexp.Compile(sd.HostnamePattern); err != nil {
			return fmt.Errorf("serverDiscovery hostnamePattern: %w", err)
		}
	}
	return nil
}

// ValidateEvent checks that every static (template-free) filter pattern in
// the tree compiles. Patterns containing {{...}} are only checkable after
// expansion and are skipped here.
func ValidateEvent(e *Event) error {
	return walkFilters(e.Filters, func(n *filter.Node) error {
		if n.Pattern == "" || template.HasRefs(n.Pattern) {
			return nil
		}
		if _, err := regexp.Compile(n.Pattern); err != nil {
			return fmt.Errorf("filter on %q: invalid pattern: %w", n.Field, err)
		}
		return nil
	})
}

func walkFilters(n *filter.Node, fn func(*filter.Node) error) error {
	if n == nil {
		return nil
	}
	if err := fn(n); err != nil {
		return err
	}
	for i := range n.Filters {
		if err := walkFilters(&n.Filters[i], fn); err != nil {
			return err
		}
	}
	return nil
}
