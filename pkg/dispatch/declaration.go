package dispatch

import (
	"encoding/json"

	"github.com/voxbridge/voxbridge/pkg/agent"
)

// Implementation selects how a declared function executes.
type Implementation string

const (
	ImplementationStub    Implementation = "stub"    // canned templated text
	ImplementationREST    Implementation = "rest"    // outbound HTTP call
	ImplementationBuiltin Implementation = "builtin" // in-process handler
)

// Field sources. The empty source means the value comes from model input.
const (
	SourceStatic   = "static"
	SourceMetadata = "metadata"
)

// FieldSpec declares one input field of a function.
type FieldSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	// From names the metadata key (prefix.suffix) for metadata-sourced
	// fields.
	From string `json:"from,omitempty"`
	// Default is the fixed value for static fields, or the fallback for
	// model-sourced fields.
	Default  any  `json:"default,omitempty"`
	Required bool `json:"required,omitempty"`
}

// InputSchema declares a function's input fields.
type InputSchema struct {
	Properties map[string]FieldSpec `json:"properties"`
}

// Declaration is one function as configured on the agent.
type Declaration struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Implementation Implementation `json:"implementation"`
	// Method and URL configure rest functions. URL may contain {field}
	// placeholders consumed from resolved inputs.
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	// Key names the credential a rest function authenticates with.
	Key string `json:"key,omitempty"`
	// Platform names the registered handler a builtin function invokes.
	Platform string `json:"platform,omitempty"`
	// Template is the result template for stub functions.
	Template    string      `json:"template,omitempty"`
	InputSchema InputSchema `json:"input_schema"`
}

// CredentialType selects how a credential becomes an HTTP header.
type CredentialType string

const (
	CredentialBasic  CredentialType = "basic"
	CredentialBearer CredentialType = "bearer"
	CredentialHeader CredentialType = "header"
)

// Credential is a named secret rest functions may reference.
type Credential struct {
	Name     string         `json:"name"`
	Type     CredentialType `json:"type"`
	Username string         `json:"username,omitempty"`
	Password string         `json:"password,omitempty"`
	Token    string         `json:"token,omitempty"`
	Header   string         `json:"header,omitempty"`
	Value    string         `json:"value,omitempty"`
}

// jsonSchema is the subset of JSON schema exposed to the model.
type jsonSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]jsonSchemaProp `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type jsonSchemaProp struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolSpecs renders declarations for the conversation model. Static and
// metadata fields are resolved server-side and never shown to the model.
func ToolSpecs(decls []Declaration) []agent.ToolSpec {
	specs := make([]agent.ToolSpec, 0, len(decls))
	for _, decl := range decls {
		schema := jsonSchema{Type: "object", Properties: map[string]jsonSchemaProp{}}
		for name, field := range decl.InputSchema.Properties {
			if field.Source != "" {
				continue
			}
			typ := field.Type
			if typ == "" {
				typ = "string"
			}
			schema.Properties[name] = jsonSchemaProp{Type: typ, Description: field.Description}
			if field.Required {
				schema.Required = append(schema.Required, name)
			}
		}
		raw, _ := json.Marshal(schema)
		specs = append(specs, agent.ToolSpec{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  raw,
		})
	}
	return specs
}
