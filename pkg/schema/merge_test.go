package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func reparse(t *testing.T, sdl string) *ast.SchemaDocument {
	t.Helper()
	doc, err := parser.ParseSchema(&ast.Source{Name: "merged", Input: sdl})
	require.NoError(t, err)
	return doc
}

func fieldNames(def *ast.Definition) []string {
	names := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		names = append(names, f.Name)
	}
	return names
}

func TestMergeTypesCombinesSameNamedTypes(t *testing.T) {
	m := NewMerger()

	first, err := m.MergeTypes("", `type Query { getHosts: [Host] }
type Host { id: ID! ip_address: String }`)
	require.NoError(t, err)

	merged, err := m.MergeTypes(first, `type Query { getNetworks: [String] }
type Host { id: ID! hostname: String }`)
	require.NoError(t, err)

	doc := reparse(t, merged)
	query := doc.Definitions.ForName("Query")
	require.NotNil(t, query)
	assert.Equal(t, []string{"getHosts", "getNetworks"}, fieldNames(query))

	host := doc.Definitions.ForName("Host")
	require.NotNil(t, host)
	assert.Equal(t, []string{"id", "ip_address", "hostname"}, fieldNames(host))
}

func TestMergeTypesFoldsExtensions(t *testing.T) {
	m := NewMerger()

	merged, err := m.MergeTypes(`type Mutation { ping: Boolean }`, `extend type Mutation { startScan(id: ID!): Boolean }
extend type Subscription { scanUpdated: String }`)
	require.NoError(t, err)

	doc := reparse(t, merged)
	mutation := doc.Definitions.ForName("Mutation")
	require.NotNil(t, mutation)
	assert.Equal(t, []string{"ping", "startScan"}, fieldNames(mutation))
	require.Len(t, doc.Extensions, 1)
	assert.Equal(t, "Subscription", doc.Extensions[0].Name)
}

func TestMergeTypesUnionsEnumsAndInterfaces(t *testing.T) {
	m := NewMerger()

	merged, err := m.MergeTypes(`enum Status { UP DOWN }
type Service implements Node { id: ID! }
interface Node { id: ID! }`, `enum Status { DOWN FILTERED }
interface Tagged { tags: [String] }
type Service implements Tagged { tags: [String] }`)
	require.NoError(t, err)

	doc := reparse(t, merged)
	status := doc.Definitions.ForName("Status")
	require.NotNil(t, status)
	var values []string
	for _, v := range status.EnumValues {
		values = append(values, v.Name)
	}
	assert.Equal(t, []string{"UP", "DOWN", "FILTERED"}, values)
	assert.Equal(t, []string{"Node", "Tagged"}, doc.Definitions.ForName("Service").Interfaces)
}

func TestMergeTypesRejectsConflicts(t *testing.T) {
	m := NewMerger()

	_, err := m.MergeTypes(`type Host { id: ID! }`, `type Host { id: String }`)
	assert.Error(t, err)

	_, err = m.MergeTypes(`type Host { id: ID! }`, `enum Host { A }`)
	assert.Error(t, err)

	_, err = m.MergeTypes("", `type Query {`)
	assert.Error(t, err)
}

func TestMergeResolversDoesNotMutateInputs(t *testing.T) {
	base := map[string]map[string]any{"Query": {}, "Mutation": {}}
	extra := map[string]map[string]any{
		"Query": {"getHosts": "hosts"},
		"Host":  {"services": "services"},
	}

	merged := MergeResolvers(base, extra)
	assert.Equal(t, "hosts", merged["Query"]["getHosts"])
	assert.Equal(t, "services", merged["Host"]["services"])
	assert.Contains(t, merged, "Mutation")
	assert.Empty(t, base["Query"])

	override := MergeResolvers(merged, map[string]map[string]any{"Query": {"getHosts": "v2"}})
	assert.Equal(t, "v2", override["Query"]["getHosts"])
	assert.Equal(t, "hosts", merged["Query"]["getHosts"])
}
