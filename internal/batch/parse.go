package batch

import (
	"encoding/json"
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/models"
)

// Split returns the parts of a multipart body delimited by boundary. The
// preamble and epilogue are dropped, as are the blank lines around each part.
// Both CRLF and bare LF line endings are accepted.
func Split(body, boundary string) []string {
	delim := constants.BoundaryMarker + boundary
	closing := delim + constants.BoundaryMarker

	var parts []string
	var current []string
	open := false

	flush := func() {
		if open {
			parts = append(parts, strings.Trim(strings.Join(current, constants.CRLF), constants.CRLF))
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(body, constants.CRLF, "\n"), "\n") {
		switch strings.TrimRight(line, " \t") {
		case closing:
			flush()
			return parts
		case delim:
			flush()
			open = true
			current = nil
		default:
			if open {
				current = append(current, line)
			}
		}
	}

	flush()
	return parts
}

// Boundary extracts the boundary parameter from a multipart Content-Type
func Boundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("content type %q is not multipart", contentType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("content type %q has no boundary", contentType)
	}
	return boundary, nil
}

// Part is a single application/http part of a batch body
type Part struct {
	Headers     map[string]string
	RequestLine string
	Inner       map[string]string
	Body        string
}

// ParsePart reads the MIME headers, the embedded request or status line, the
// embedded headers and the remaining body of one part.
func ParsePart(raw string) Part {
	p := Part{Headers: map[string]string{}, Inner: map[string]string{}}
	lines := strings.Split(strings.ReplaceAll(raw, constants.CRLF, "\n"), "\n")

	i := readHeaders(lines, 0, p.Headers)
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i < len(lines) {
		p.RequestLine = strings.TrimSpace(lines[i])
		i++
	}
	i = readHeaders(lines, i, p.Inner)
	if i < len(lines) {
		p.Body = strings.TrimSpace(strings.Join(lines[i:], "\n"))
	}
	return p
}

// readHeaders consumes "Name: value" lines up to and including the first blank
// line and returns the index after it.
func readHeaders(lines []string, i int, into map[string]string) int {
	for ; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			return i + 1
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return i
		}
		into[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return i
}

// ParseRequest decodes a body produced by Encode back into a Request. Targets
// are made relative again by removing baseURL. Changeset entities are decoded
// into generic JSON values and ordered by Content-ID.
func ParseRequest(baseURL, body string) (*Request, error) {
	base := strings.TrimSuffix(baseURL, "/") + "/"

	first := strings.TrimSpace(strings.SplitN(strings.TrimLeft(body, constants.CRLF), "\n", 2)[0])
	prefix := constants.BoundaryMarker + constants.BatchBoundary
	if !strings.HasPrefix(first, prefix) {
		return nil, fmt.Errorf("body does not start with a batch boundary")
	}

	req := &Request{BatchID: strings.TrimSuffix(strings.TrimPrefix(first, prefix), constants.BoundaryMarker)}

	type entry struct {
		id int
		cs models.ChangeSet
	}
	var entries []entry

	for _, raw := range Split(body, BatchBoundary(req.BatchID)) {
		part := ParsePart(raw)
		contentType := part.Headers[constants.ContentType]

		if strings.HasPrefix(contentType, constants.ContentTypeMultipartBase+constants.ChangeSetBoundary) {
			req.ChangeSetID = strings.TrimPrefix(contentType, constants.ContentTypeMultipartBase+constants.ChangeSetBoundary)
			for _, inner := range Split(raw, ChangeSetBoundary(req.ChangeSetID)) {
				sub := ParsePart(inner)
				method, target, err := splitRequestLine(sub.RequestLine, base)
				if err != nil {
					return nil, err
				}
				id, err := strconv.Atoi(sub.Headers[constants.ContentID])
				if err != nil {
					return nil, fmt.Errorf("invalid %s in changeset: %w", constants.ContentID, err)
				}
				var entity interface{}
				if sub.Body != "" {
					if err := json.Unmarshal([]byte(sub.Body), &entity); err != nil {
						return nil, fmt.Errorf("changeset %d: %w", id, err)
					}
				}
				entries = append(entries, entry{id: id, cs: models.ChangeSet{Method: method, QueryString: target, Entity: entity}})
			}
			continue
		}

		method, target, err := splitRequestLine(part.RequestLine, base)
		if err != nil {
			return nil, err
		}
		if method != constants.GET {
			return nil, fmt.Errorf("unexpected %s outside a changeset", method)
		}
		req.Gets = append(req.Gets, target)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	for _, e := range entries {
		req.ChangeSets = append(req.ChangeSets, e.cs)
	}

	return req, nil
}

func splitRequestLine(line, base string) (string, string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", fmt.Errorf("malformed request line %q", line)
	}
	return fields[0], strings.TrimPrefix(fields[1], base), nil
}
