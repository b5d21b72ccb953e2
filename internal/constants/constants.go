package constants

import "strings"

// HTTP methods used by the Web API
const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	PATCH  = "PATCH"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter  = "$filter"
	QuerySelect  = "$select"
	QueryExpand  = "$expand"
	QueryOrderBy = "$orderby"
	QueryTop     = "$top"
	QueryCount   = "$count"
)

// HTTP headers
const (
	ContentType             = "Content-Type"
	Accept                  = "Accept"
	Authorization           = "Authorization"
	UserAgent               = "User-Agent"
	ContentLength           = "Content-Length"
	ContentID               = "Content-ID"
	ContentTransferEncoding = "Content-Transfer-Encoding"
	ODataMaxVersion         = "OData-MaxVersion"
	ODataVersion            = "OData-Version"
	ODataEntityID           = "OData-EntityId"
	Prefer                  = "Prefer"
	CallerID                = "MSCRMCallerID"
)

// Header values
const (
	ODataProtocolVersion = "4.0"
	BearerPrefix         = "Bearer "
	TransferBinary       = "binary"
)

// Content types
const (
	ContentTypeJSON          = "application/json"
	ContentTypeJSONUTF8      = "application/json; charset=utf-8"
	ContentTypeJSONEntry     = "application/json;type=entry"
	ContentTypeHTTP          = "application/http"
	ContentTypeMultipartBase = "multipart/mixed;boundary="
)

// Prefer directives
const (
	PreferMaxPageSize        = "odata.maxpagesize="
	PreferRepresentation     = "return=representation"
	PreferIncludeAnnotations = "odata.include-annotations="
	PreferAllAnnotations     = `odata.include-annotations="*"`
	AnnotationFormattedValue = "OData.Community.Display.V1.FormattedValue"
	AnnotationLookupLogical  = "Microsoft.Dynamics.CRM.lookuplogicalname"
	AnnotationAssociatedNav  = "Microsoft.Dynamics.CRM.associatednavigationproperty"
)

// OData annotations returned in payloads
const (
	ODataContext  = "@odata.context"
	ODataID       = "@odata.id"
	ODataCount    = "@odata.count"
	ODataNextLink = "@odata.nextLink"
	ODataEtag     = "@odata.etag"
)

// Web API endpoints and path fragments
const (
	BatchEndpoint     = "$batch"
	RefSegment        = "$ref"
	APIPathSegment    = "api/data/v"
	ActionNamespace   = "Microsoft.Dynamics.CRM"
	WhoAmIFunction    = "WhoAmI"
	BatchBoundary     = "batch_"
	ChangeSetBoundary = "changeset_"
	BoundaryMarker    = "--"
	HTTPVersion       = "HTTP/1.1"
	CRLF              = "\r\n"
	DefaultAPIVersion = "9.2"
)

// Error messages
const (
	ErrInvalidServiceURL    = "invalid service URL"
	ErrAuthenticationFailed = "authentication failed"
	ErrRequestFailed        = "HTTP request failed"
	ErrResponseParseFailed  = "response parsing failed"
	ErrUnexpected           = "unexpected error"
)

// Default values
const (
	DefaultUserAgent = "xrm-webapi/1.0 (Go)"
	DefaultTimeout   = 120 // seconds
	DefaultTenant    = "organizations"
	DefaultClientID  = "51f81489-12ee-4a9e-aaae-a2591f45987d" // Dataverse sample public client
)

// Namespaced returns name qualified with the Web API action namespace.
func Namespaced(name string) string {
	if strings.HasPrefix(name, ActionNamespace+".") {
		return name
	}
	return ActionNamespace + "." + name
}
