// Package request builds Web API resource paths, query strings and headers.
//
// Paths are relative to the service root (<org>/api/data/v<version>/) and are
// returned unescaped; the transport is responsible for URL encoding.
package request

import (
	"fmt"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
)

// QueryString prefixes q with '?' unless it already has one. Empty stays empty.
func QueryString(q string) string {
	if q == "" || strings.HasPrefix(q, "?") {
		return q
	}
	return "?" + q
}

// EntityPath addresses a single record: entitySet(ID)?query
func EntityPath(entitySet string, id guid.Guid, query string) string {
	return fmt.Sprintf("%s(%s)%s", entitySet, id, QueryString(query))
}

// CollectionPath addresses an entity set: entitySet?query
func CollectionPath(entitySet, query string) string {
	return entitySet + QueryString(query)
}

// PropertyPath addresses a single attribute of a record. Navigation properties
// are addressed through their reference: entitySet(ID)/attribute/$ref
func PropertyPath(entitySet string, id guid.Guid, attribute string, navigation bool) string {
	path := fmt.Sprintf("%s(%s)/%s", entitySet, id, attribute)
	if navigation {
		path += "/" + constants.RefSegment
	}
	return path
}

// AssociatePath addresses the reference collection of a relationship
func AssociatePath(entitySet string, id guid.Guid, relationship string) string {
	return fmt.Sprintf("%s(%s)/%s/%s", entitySet, id, relationship, constants.RefSegment)
}

// AssociateBody is the payload that links a related record by its absolute URL
func AssociateBody(baseURL, relatedEntitySet string, relatedID guid.Guid) map[string]string {
	return map[string]string{
		constants.ODataID: fmt.Sprintf("%s/%s(%s)", strings.TrimSuffix(baseURL, "/"), relatedEntitySet, relatedID),
	}
}

// DisassociatePath addresses the reference to remove. relatedID is required
// for collection-valued navigation properties and must be nil for
// single-valued ones.
func DisassociatePath(entitySet string, id guid.Guid, property string, relatedID *guid.Guid) string {
	segment := property
	if relatedID != nil {
		segment += fmt.Sprintf("(%s)", relatedID)
	}
	return fmt.Sprintf("%s(%s)/%s/%s", entitySet, id, segment, constants.RefSegment)
}

// BoundOperationPath addresses an action or function bound to a record
func BoundOperationPath(entitySet string, id guid.Guid, name string) string {
	return fmt.Sprintf("%s(%s)/%s", entitySet, id, constants.Namespaced(name))
}

// UnboundOperationPath addresses a top-level action or function
func UnboundOperationPath(name string) string {
	return name
}

// FunctionPath appends the parenthesized parameter list to prefix.
//
// Inline parameters are written as Name=Value. Aliased parameters are written
// as Name=@alias and their values are appended afterwards as
// ?@alias1=v1&@alias2=v2, in input order.
func FunctionPath(prefix string, inputs []models.FunctionInput) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("(")

	var aliases []string
	for i, input := range inputs {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(input.Name)
		b.WriteString("=")
		if input.Alias != "" {
			b.WriteString("@" + input.Alias)
			aliases = append(aliases, fmt.Sprintf("@%s=%s", input.Alias, input.Value))
		} else {
			b.WriteString(input.Value)
		}
	}
	b.WriteString(")")

	if len(aliases) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(aliases, "&"))
	}

	return b.String()
}

// BoundFunctionPath combines BoundOperationPath and FunctionPath
func BoundFunctionPath(entitySet string, id guid.Guid, name string, inputs []models.FunctionInput) string {
	return FunctionPath(BoundOperationPath(entitySet, id, name), inputs)
}

// UnboundFunctionPath combines UnboundOperationPath and FunctionPath
func UnboundFunctionPath(name string, inputs []models.FunctionInput) string {
	return FunctionPath(UnboundOperationPath(name), inputs)
}

// EntityIDFromURI extracts the identifier from an OData-EntityId value such as
// https://org/api/data/v9.2/accounts(87989176-0887-45d1-93da-4d5f228c10e6)
func EntityIDFromURI(uri string) (guid.Guid, error) {
	start := strings.LastIndex(uri, "(")
	if start < 0 {
		return guid.Guid{}, fmt.Errorf("no record id in %q", uri)
	}
	end := strings.Index(uri[start:], ")")
	if end < 0 {
		return guid.Guid{}, fmt.Errorf("no record id in %q", uri)
	}
	return guid.Parse(uri[start+1 : start+end])
}
