package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/xrm-webapi/internal/models"
)

const baseURL = "https://org.crm.dynamics.com/api/data/v9.2"

func TestEncodeChangeSetAndGet(t *testing.T) {
	body, err := Encode(baseURL, &Request{
		BatchID:     "B1",
		ChangeSetID: "C1",
		ChangeSets: []models.ChangeSet{
			{Method: "POST", QueryString: "accounts", Entity: map[string]interface{}{"name": "A"}},
		},
		Gets: []string{"accounts?$select=name"},
	})
	require.NoError(t, err)

	expected := strings.Join([]string{
		"--batch_B1",
		"Content-Type: multipart/mixed;boundary=changeset_C1",
		"",
		"--changeset_C1",
		"Content-Type: application/http",
		"Content-Transfer-Encoding:binary",
		"Content-ID: 1",
		"",
		"POST https://org.crm.dynamics.com/api/data/v9.2/accounts HTTP/1.1",
		"Content-Type: application/json;type=entry",
		"",
		`{"name":"A"}`,
		"--changeset_C1--",
		"",
		"--batch_B1",
		"Content-Type: application/http",
		"Content-Transfer-Encoding:binary",
		"",
		"GET https://org.crm.dynamics.com/api/data/v9.2/accounts?$select=name HTTP/1.1",
		"Accept: application/json",
		"",
		"",
		"--batch_B1--",
	}, "\r\n")

	assert.Equal(t, expected, body)
}

func TestEncodeWithoutChangeSets(t *testing.T) {
	body, err := Encode(baseURL+"/", &Request{
		BatchID:     "B2",
		ChangeSetID: "unused",
		Gets:        []string{"accounts", "contacts"},
	})
	require.NoError(t, err)

	assert.NotContains(t, body, "changeset_")
	assert.Equal(t, 2, strings.Count(body, "--batch_B2\r\n"))
	assert.Contains(t, body, "GET https://org.crm.dynamics.com/api/data/v9.2/contacts HTTP/1.1")
	assert.True(t, strings.HasSuffix(body, "\r\n\r\n--batch_B2--"))
}

func TestEncodeWithoutGets(t *testing.T) {
	body, err := Encode(baseURL, &Request{
		BatchID:     "B3",
		ChangeSetID: "C3",
		ChangeSets: []models.ChangeSet{
			{QueryString: "accounts", Entity: map[string]interface{}{"name": "A"}},
			{Method: "PATCH", QueryString: "accounts(00000000-0000-0000-0000-000000000001)", Entity: map[string]interface{}{"name": "B"}},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, body, "Content-ID: 1\r\n\r\nPOST ")
	assert.Contains(t, body, "Content-ID: 2\r\n\r\nPATCH ")
	assert.True(t, strings.HasSuffix(body, "--changeset_C3--\r\n\r\n--batch_B3--"))
	assert.Equal(t, 1, strings.Count(body, "--batch_B3\r\n"))
}

func TestEncodeEmpty(t *testing.T) {
	body, err := Encode(baseURL, &Request{BatchID: "B4", ChangeSetID: "C4"})
	require.NoError(t, err)
	assert.Equal(t, "--batch_B4--", body)
}

func TestEncodeNilRequest(t *testing.T) {
	_, err := Encode(baseURL, nil)
	assert.Error(t, err)
}

func TestEncodeUnmarshalableEntity(t *testing.T) {
	_, err := Encode(baseURL, &Request{
		BatchID:     "B5",
		ChangeSetID: "C5",
		ChangeSets:  []models.ChangeSet{{QueryString: "accounts", Entity: map[string]interface{}{"bad": make(chan int)}}},
	})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "multipart/mixed;boundary=batch_B1", ContentType("B1"))

	boundary, err := Boundary(ContentType("B1"))
	require.NoError(t, err)
	assert.Equal(t, "batch_B1", boundary)

	_, err = Boundary("application/json")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	original := &Request{
		BatchID:     "7f3c",
		ChangeSetID: "9a1d",
		ChangeSets: []models.ChangeSet{
			{Method: "POST", QueryString: "accounts", Entity: map[string]interface{}{"name": "A"}},
			{Method: "PATCH", QueryString: "contacts(00000000-0000-0000-0000-000000000002)", Entity: map[string]interface{}{"firstname": "Jo", "age": float64(40)}},
			{Method: "POST", QueryString: "tasks", Entity: map[string]interface{}{"subject": "call"}},
		},
		Gets: []string{"accounts?$select=name", "contacts?$top=1"},
	}

	body, err := Encode(baseURL, original)
	require.NoError(t, err)

	decoded, err := ParseRequest(baseURL, body)
	require.NoError(t, err)

	assert.Equal(t, original.BatchID, decoded.BatchID)
	assert.Equal(t, original.ChangeSetID, decoded.ChangeSetID)
	assert.Equal(t, original.Gets, decoded.Gets)
	require.Len(t, decoded.ChangeSets, len(original.ChangeSets))
	for i := range original.ChangeSets {
		assert.Equal(t, original.ChangeSets[i].Method, decoded.ChangeSets[i].Method)
		assert.Equal(t, original.ChangeSets[i].QueryString, decoded.ChangeSets[i].QueryString)
		assert.Equal(t, original.ChangeSets[i].Entity, decoded.ChangeSets[i].Entity)
	}
}

func TestParseRequestRejectsGarbage(t *testing.T) {
	_, err := ParseRequest(baseURL, "hello")
	assert.Error(t, err)
}

func TestSplitResponse(t *testing.T) {
	raw := strings.Join([]string{
		"--batchresponse_1",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"HTTP/1.1 200 OK",
		"Content-Type: application/json; odata.metadata=minimal",
		"",
		`{"value":[{"name":"A"}]}`,
		"--batchresponse_1",
		"Content-Type: application/http",
		"Content-Transfer-Encoding: binary",
		"",
		"HTTP/1.1 204 No Content",
		"",
		"",
		"--batchresponse_1--",
		"",
	}, "\r\n")

	parts := Split(raw, "batchresponse_1")
	require.Len(t, parts, 2)

	first := ParsePart(parts[0])
	assert.Equal(t, "application/http", first.Headers["Content-Type"])
	assert.Equal(t, "HTTP/1.1 200 OK", first.RequestLine)
	assert.Equal(t, "application/json; odata.metadata=minimal", first.Inner["Content-Type"])
	assert.Equal(t, `{"value":[{"name":"A"}]}`, first.Body)

	second := ParsePart(parts[1])
	assert.Equal(t, "HTTP/1.1 204 No Content", second.RequestLine)
	assert.Empty(t, second.Body)
}
