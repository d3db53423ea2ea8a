// Package schema merges the GraphQL contributions of loaded plugins: SDL type
// definitions through gqlparser, resolver maps field by field.
package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// Merger merges SDL documents. Same-named definitions are combined the way
// graphql-tools' mergeTypeDefs does it.
type Merger struct {
	// Name prefixes the source names used in parse errors.
	Name string
}

// NewMerger returns a Merger with the default source name.
func NewMerger() *Merger {
	return &Merger{Name: "plugin"}
}

// MergeTypes returns the SDL produced by folding extra into base. An empty base
// yields extra normalised through the formatter.
func (m *Merger) MergeTypes(base, extra string) (string, error) {
	name := m.Name
	if name == "" {
		name = "plugin"
	}
	var doc *ast.SchemaDocument
	if strings.TrimSpace(base) != "" {
		parsed, err := parse(name+"-base", base)
		if err != nil {
			return "", err
		}
		doc = parsed
	} else {
		doc = &ast.SchemaDocument{}
	}

	add, err := parse(name, extra)
	if err != nil {
		return "", err
	}
	if err := mergeDocument(doc, add); err != nil {
		return "", err
	}
	return format(doc), nil
}

func parse(name, sdl string) (*ast.SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("parse %s types: %w", name, err)
	}
	return doc, nil
}

func format(doc *ast.SchemaDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	return buf.String()
}

func mergeDocument(dst, src *ast.SchemaDocument) error {
	dst.Schema = append(dst.Schema, src.Schema...)
	dst.SchemaExtension = append(dst.SchemaExtension, src.SchemaExtension...)

	for _, dir := range src.Directives {
		if dst.Directives.ForName(dir.Name) == nil {
			dst.Directives = append(dst.Directives, dir)
		}
	}

	for _, def := range src.Definitions {
		existing := dst.Definitions.ForName(def.Name)
		if existing == nil {
			dst.Definitions = append(dst.Definitions, def)
			continue
		}
		if err := mergeDefinition(existing, def); err != nil {
			return err
		}
	}

	// Extensions fold into their base definition; orphans stay extensions.
	var pending ast.DefinitionList
	for _, ext := range append(dst.Extensions, src.Extensions...) {
		base := dst.Definitions.ForName(ext.Name)
		if base == nil {
			if prior := pending.ForName(ext.Name); prior != nil {
				if err := mergeDefinition(prior, ext); err != nil {
					return err
				}
				continue
			}
			pending = append(pending, ext)
			continue
		}
		if err := mergeDefinition(base, ext); err != nil {
			return err
		}
	}
	dst.Extensions = pending
	return nil
}

func mergeDefinition(dst, src *ast.Definition) error {
	if dst.Kind != src.Kind {
		return fmt.Errorf("type %s declared as both %s and %s", dst.Name, dst.Kind, src.Kind)
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}

	for _, field := range src.Fields {
		prior := dst.Fields.ForName(field.Name)
		if prior == nil {
			dst.Fields = append(dst.Fields, field)
			continue
		}
		if prior.Type.String() != field.Type.String() {
			return fmt.Errorf("field %s.%s declared as both %s and %s", dst.Name, field.Name, prior.Type.String(), field.Type.String())
		}
	}

	for _, value := range src.EnumValues {
		if dst.EnumValues.ForName(value.Name) == nil {
			dst.EnumValues = append(dst.EnumValues, value)
		}
	}
	dst.Interfaces = union(dst.Interfaces, src.Interfaces)
	dst.Types = union(dst.Types, src.Types)

	for _, dir := range src.Directives {
		if dst.Directives.ForName(dir.Name) == nil {
			dst.Directives = append(dst.Directives, dir)
		}
	}
	return nil
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		a = append(a, v)
	}
	return a
}

// MergeResolvers returns a new resolver map holding dst overlaid with src.
// Neither input is modified; on a field collision src wins.
func MergeResolvers(dst, src map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(dst)+len(src))
	for typeName, fields := range dst {
		copied := make(map[string]any, len(fields))
		for name, resolver := range fields {
			copied[name] = resolver
		}
		out[typeName] = copied
	}
	for typeName, fields := range src {
		target, ok := out[typeName]
		if !ok {
			target = make(map[string]any, len(fields))
			out[typeName] = target
		}
		for name, resolver := range fields {
			target[name] = resolver
		}
	}
	return out
}
