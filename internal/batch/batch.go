// Package batch encodes Web API $batch request bodies.
//
// A batch carries at most one changeset of writes, applied atomically by the
// server, followed by independent GET requests. Batch and changeset ids are
// used verbatim as MIME boundary tokens and must not occur in any payload.
package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/models"
)

// Request is a batch to encode
type Request struct {
	BatchID     string
	ChangeSetID string
	ChangeSets  []models.ChangeSet
	Gets        []string
}

// BatchBoundary is the outer boundary token for id
func BatchBoundary(id string) string {
	return constants.BatchBoundary + id
}

// ChangeSetBoundary is the changeset boundary token for id
func ChangeSetBoundary(id string) string {
	return constants.ChangeSetBoundary + id
}

// ContentType is the Content-Type of the outer $batch POST
func ContentType(batchID string) string {
	return constants.ContentTypeMultipartBase + BatchBoundary(batchID)
}

// Encode renders req as a CRLF-delimited multipart body. Sub-request targets
// are absolute: baseURL joined with each relative path.
//
// Changeset entries get 1-based Content-IDs in slice order; the id is the only
// way to correlate changeset responses, which the server may reorder.
func Encode(baseURL string, req *Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("batch request is nil")
	}
	base := strings.TrimSuffix(baseURL, "/")
	batchDelim := constants.BoundaryMarker + BatchBoundary(req.BatchID)
	changeSetDelim := constants.BoundaryMarker + ChangeSetBoundary(req.ChangeSetID)

	var body []string

	if len(req.ChangeSets) > 0 {
		body = append(body,
			batchDelim,
			constants.ContentType+": "+constants.ContentTypeMultipartBase+ChangeSetBoundary(req.ChangeSetID),
			"",
		)
	}

	for i, cs := range req.ChangeSets {
		payload, err := json.Marshal(cs.Entity)
		if err != nil {
			return "", fmt.Errorf("failed to marshal changeset %d: %w", i+1, err)
		}

		method := cs.Method
		if method == "" {
			method = constants.POST
		}

		body = append(body,
			changeSetDelim,
			constants.ContentType+": "+constants.ContentTypeHTTP,
			constants.ContentTransferEncoding+":"+constants.TransferBinary,
			fmt.Sprintf("%s: %d", constants.ContentID, i+1),
			"",
			fmt.Sprintf("%s %s/%s %s", method, base, cs.QueryString, constants.HTTPVersion),
			constants.ContentType+": "+constants.ContentTypeJSONEntry,
			"",
			string(payload),
		)
	}

	if len(req.ChangeSets) > 0 {
		body = append(body, changeSetDelim+constants.BoundaryMarker, "")
	}

	for _, get := range req.Gets {
		body = append(body,
			batchDelim,
			constants.ContentType+": "+constants.ContentTypeHTTP,
			constants.ContentTransferEncoding+":"+constants.TransferBinary,
			"",
			fmt.Sprintf("%s %s/%s %s", constants.GET, base, get, constants.HTTPVersion),
			constants.Accept+": "+constants.ContentTypeJSON,
			"",
		)
	}

	if len(req.Gets) > 0 {
		body = append(body, "")
	}

	body = append(body, batchDelim+constants.BoundaryMarker)

	return strings.Join(body, constants.CRLF), nil
}
