package catalog

import (
	"fmt"

	"github.com/ocx/gateway/internal/ocxerr"
)

var validLocations = map[string]bool{
	"path": true, "query": true, "header": true, "cookie": true, "body": true,
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true, "array": true, "object": true, "file": true,
}

// ValidateManifest checks a Function definition for the structural
// invariants the rest of the system assumes hold: every parameter has a
// known location and type, path parameters referenced in PathTemplate
// are declared, and "file" typed parameters only appear in a multipart
// body (location "body" with type "file").
func ValidateManifest(f *Function) error {
	if f.Name == "" {
		return ocxerr.Validation("function name is required")
	}
	if f.AppName == "" {
		return ocxerr.Validation("function app_name is required")
	}
	if f.Method == "" {
		return ocxerr.Validation("function method is required")
	}
	if f.PathTemplate == "" {
		return ocxerr.Validation("function path_template is required")
	}

	seen := make(map[string]bool, len(f.Parameters))
	for _, p := range f.Parameters {
		if p.Name == "" {
			return ocxerr.Validation("parameter name is required")
		}
		if seen[p.Name] {
			return ocxerr.Validation(fmt.Sprintf("duplicate parameter %q", p.Name))
		}
		seen[p.Name] = true

		if !validLocations[p.Location] {
			return ocxerr.Validation(fmt.Sprintf("parameter %q has unknown location %q", p.Name, p.Location))
		}
		if !validParamTypes[p.Type] {
			return ocxerr.Validation(fmt.Sprintf("parameter %q has unknown type %q", p.Name, p.Type))
		}
		if p.Type == "file" && p.Location != "body" {
			return ocxerr.Validation(fmt.Sprintf("parameter %q: file parameters must be located in body", p.Name))
		}
	}

	for name, tmplParam := range pathTemplateParams(f.PathTemplate) {
		if tmplParam && !seen[name] {
			return ocxerr.Validation(fmt.Sprintf("path_template references undeclared parameter %q", name))
		}
	}

	return nil
}

// pathTemplateParams extracts {param} placeholders from a path template.
func pathTemplateParams(tmpl string) map[string]bool {
	out := make(map[string]bool)
	inBrace := false
	var cur []rune
	for _, r := range tmpl {
		switch {
		case r == '{':
			inBrace = true
			cur = nil
		case r == '}':
			if inBrace && len(cur) > 0 {
				out[string(cur)] = true
			}
			inBrace = false
		case inBrace:
			cur = append(cur, r)
		}
	}
	return out
}
