package request

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/models"
)

// PreferHeader encodes query options as the value of the Prefer header.
//
// return=representation and odata.include-annotations are mutually exclusive;
// representation wins. When neither representation nor all three annotation
// flags are set, the annotation list is emitted even if it is empty.
func PreferHeader(o *models.QueryOptions) string {
	if o == nil {
		return ""
	}

	var prefer []string

	if o.MaxPageSize != 0 {
		prefer = append(prefer, constants.PreferMaxPageSize+strconv.Itoa(o.MaxPageSize))
	}

	switch {
	case o.Representation:
		prefer = append(prefer, constants.PreferRepresentation)
	case o.IncludeFormattedValues && o.IncludeLookupLogicalNames && o.IncludeAssociatedNavigationProperties:
		prefer = append(prefer, constants.PreferAllAnnotations)
	default:
		var annotations []string
		if o.IncludeFormattedValues {
			annotations = append(annotations, constants.AnnotationFormattedValue)
		}
		if o.IncludeLookupLogicalNames {
			annotations = append(annotations, constants.AnnotationLookupLogical)
		}
		if o.IncludeAssociatedNavigationProperties {
			annotations = append(annotations, constants.AnnotationAssociatedNav)
		}
		prefer = append(prefer, constants.PreferIncludeAnnotations+`"`+strings.Join(annotations, ",")+`"`)
	}

	return strings.Join(prefer, ",")
}

// AuxiliaryHeaders returns the per-request headers derived from o other than Prefer.
// Today that is only the impersonation header.
func AuxiliaryHeaders(o *models.QueryOptions) map[string]string {
	aux := map[string]string{}
	if o != nil && o.ImpersonateUser != nil && !o.ImpersonateUser.IsZero() {
		aux[constants.CallerID] = o.ImpersonateUser.String()
	}
	return aux
}

// EncodeOptions returns both the Prefer value and the auxiliary headers.
func EncodeOptions(o *models.QueryOptions) (string, map[string]string) {
	return PreferHeader(o), AuxiliaryHeaders(o)
}

// Headers builds the complete header set for a Web API request: the fixed
// OData protocol headers, the content type, an optional bearer token and the
// headers derived from query options.
func Headers(contentType, accessToken string, o *models.QueryOptions) http.Header {
	h := http.Header{}
	h.Set(constants.Accept, constants.ContentTypeJSON)
	h.Set(constants.ODataMaxVersion, constants.ODataProtocolVersion)
	h.Set(constants.ODataVersion, constants.ODataProtocolVersion)
	h.Set(constants.ContentType, contentType)

	if accessToken != "" {
		h.Set(constants.Authorization, constants.BearerPrefix+accessToken)
	}

	if o != nil {
		prefer, aux := EncodeOptions(o)
		h.Set(constants.Prefer, prefer)
		for name, value := range aux {
			h.Set(name, value)
		}
	}

	return h
}
