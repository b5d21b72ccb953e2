package models

import (
	"encoding/json"

	"github.com/zmcp/xrm-webapi/internal/guid"
)

// Entity is a record payload keyed by attribute logical name
type Entity map[string]interface{}

// QueryOptions controls the Prefer header and impersonation for a request.
// Operations never modify the options they are given; those that need
// return=representation work on a copy.
type QueryOptions struct {
	IncludeFormattedValues                bool       `json:"include_formatted_values,omitempty"`
	IncludeLookupLogicalNames             bool       `json:"include_lookup_logical_names,omitempty"`
	IncludeAssociatedNavigationProperties bool       `json:"include_associated_navigation_properties,omitempty"`
	MaxPageSize                           int        `json:"max_page_size,omitempty"`
	ImpersonateUser                       *guid.Guid `json:"impersonate_user,omitempty"`
	Representation                        bool       `json:"representation,omitempty"`
}

// WithRepresentation returns a copy of o (or of the zero value) with Representation set
func WithRepresentation(o *QueryOptions) *QueryOptions {
	var out QueryOptions
	if o != nil {
		out = *o
	}
	out.Representation = true
	return &out
}

// FunctionInput is one parameter of a function call. A non-empty Alias moves
// the value into the query string as @alias=value.
type FunctionInput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Alias string `json:"alias,omitempty"`
}

// ChangeSet is a single write inside a batch changeset
type ChangeSet struct {
	Method      string      `json:"method,omitempty"` // POST or PATCH; empty means POST
	QueryString string      `json:"query_string"`
	Entity      interface{} `json:"entity"`
}

// Attribute is a name/value pair for single-property updates
type Attribute struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// CreatedEntity is synthesized from the OData-EntityId header of a 204 create
type CreatedEntity struct {
	ID  guid.Guid `json:"id"`
	URI string    `json:"uri"`
}

// RetrieveMultipleResponse is one page of a collection query
type RetrieveMultipleResponse struct {
	Context  string   `json:"@odata.context,omitempty"`
	Count    *int64   `json:"@odata.count,omitempty"`
	NextLink string   `json:"@odata.nextLink,omitempty"`
	Value    []Entity `json:"value"`
}

// UnmarshalJSON accepts both @odata.nextLink and the lower-case @odata.nextlink
// spelling emitted by some server versions.
func (r *RetrieveMultipleResponse) UnmarshalJSON(data []byte) error {
	type plain RetrieveMultipleResponse
	var aux struct {
		plain
		NextLinkLower string `json:"@odata.nextlink,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RetrieveMultipleResponse(aux.plain)
	if r.NextLink == "" {
		r.NextLink = aux.NextLinkLower
	}
	return nil
}

// WhoAmIResponse is the payload of the WhoAmI function
type WhoAmIResponse struct {
	BusinessUnitID guid.Guid `json:"BusinessUnitId"`
	UserID         guid.Guid `json:"UserId"`
	OrganizationID guid.Guid `json:"OrganizationId"`
}

// ODataError represents the error object of a Web API error response
type ODataError struct {
	Code       string                 `json:"code,omitempty"`
	Message    string                 `json:"message"`
	Details    []ODataErrorDetail     `json:"details,omitempty"`
	InnerError map[string]interface{} `json:"innererror,omitempty"`
	Target     string                 `json:"target,omitempty"`
}

// ODataErrorDetail represents detailed error information
type ODataErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}
