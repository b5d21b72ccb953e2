package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRepresentationCopies(t *testing.T) {
	original := &QueryOptions{MaxPageSize: 10, IncludeFormattedValues: true}

	forced := WithRepresentation(original)

	assert.True(t, forced.Representation)
	assert.Equal(t, 10, forced.MaxPageSize)
	assert.True(t, forced.IncludeFormattedValues)
	assert.False(t, original.Representation, "caller options must not be mutated")

	fromNil := WithRepresentation(nil)
	assert.True(t, fromNil.Representation)
	assert.Zero(t, fromNil.MaxPageSize)
}

func TestRetrieveMultipleResponseNextLink(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "camel case",
			body: `{"value":[{"name":"a"}],"@odata.nextLink":"https://org/api/data/v9.2/accounts?$skiptoken=1"}`,
			want: "https://org/api/data/v9.2/accounts?$skiptoken=1",
		},
		{
			name: "lower case",
			body: `{"value":[],"@odata.nextlink":"https://org/next"}`,
			want: "https://org/next",
		},
		{
			name: "absent",
			body: `{"value":[]}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp RetrieveMultipleResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))
			assert.Equal(t, tt.want, resp.NextLink)
		})
	}
}

func TestRetrieveMultipleResponseCount(t *testing.T) {
	var resp RetrieveMultipleResponse
	body := `{"@odata.context":"ctx","@odata.count":2,"value":[{"name":"a"},{"name":"b"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	require.NotNil(t, resp.Count)
	assert.Equal(t, int64(2), *resp.Count)
	assert.Equal(t, "ctx", resp.Context)
	assert.Len(t, resp.Value, 2)
	assert.Equal(t, "b", resp.Value[1]["name"])
}
