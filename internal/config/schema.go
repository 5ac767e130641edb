// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Agora Contributors

package config

import (
	"encoding/json"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated config schema.
const SchemaID = "https://agora-forum.github.io/schemas/config.schema.json"

// durationPattern accepts Go duration strings such as "15m" or "1h30m".
const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`

// redacted replaces secret values in Redacted output.
const redacted = "[REDACTED]"

var durationType = reflect.TypeFor[time.Duration]()

// GenerateSchema returns the JSON Schema describing the YAML config file.
// Every key is optional since defaults and the environment fill the gaps.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		FieldNameTag:               "koanf",
		RequiredFromJSONSchemaTags: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != durationType {
				return nil
			}
			return &jsonschema.Schema{
				OneOf: []*jsonschema.Schema{
					{Type: "string", Pattern: durationPattern},
					{Type: "integer"},
				},
				Description: "duration such as 30s, 15m or 168h",
			}
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Agora configuration"
	schema.Description = "Schema for the agora config.yaml file"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").With("operation", "marshal schema").Wrap(err)
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	raw, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").With("operation", "parse schema").Wrap(err)
	}
	c := jschema.NewCompiler()
	if err := c.AddResource("config.schema.json", doc); err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").With("operation", "add schema resource").Wrap(err)
	}
	sch, err := c.Compile("config.schema.json")
	if err != nil {
		return nil, oops.Code("CONFIG_SCHEMA_FAILED").With("operation", "compile schema").Wrap(err)
	}
	return sch, nil
})

// ValidateDocument checks a YAML config document against the schema. It
// catches unknown keys and malformed values; cross-field rules are left to
// Validate.
func ValidateDocument(data []byte) error {
	if len(data) == 0 {
		return oops.Code("CONFIG_SCHEMA_INVALID").Errorf("config document is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").With("operation", "parse yaml").Wrap(err)
	}
	if doc == nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Errorf("config document is empty")
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonValue(doc)); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").Wrap(err)
	}
	return nil
}

// jsonValue normalizes yaml.v3 output to the types the validator accepts.
func jsonValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = jsonValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = jsonValue(v)
		}
		return out
	case string, int, int64, float64, bool, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return val
		}
		return out
	}
}

// Redacted returns a copy of c with every secret masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			c.Database.URL = u.String()
		}
	}
	mask(&c.Tokens.HashSecret)
	mask(&c.OAuth.StateSecret)
	mask(&c.OAuth.Google.ClientSecret)
	c.OAuth.AllowedRedirects = append([]string(nil), c.OAuth.AllowedRedirects...)
	return c
}

// YAML renders c as a config document.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, oops.Code("CONFIG_RENDER_FAILED").Wrap(err)
	}
	return out, nil
}
