package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
)

func TestParseID(t *testing.T) {
	id, err := parseID("id", "87989176-0887-45d1-93da-4d5f228c10e6")
	require.NoError(t, err)
	assert.Equal(t, "87989176-0887-45D1-93DA-4D5F228C10E6", id.String())

	_, err = parseID("related id", "87989176")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid related id")
	assert.ErrorIs(t, err, guid.ErrInvalidGuid)
}

func TestReadJSON(t *testing.T) {
	v, err := readJSON(`{"name":"Contoso"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "Contoso"}, v)

	path := filepath.Join(t.TempDir(), "account.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"revenue":1000}`), 0600))
	v, err = readJSON("@" + path)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"revenue": float64(1000)}, v)

	stdin = strings.NewReader(`"text"`)
	defer func() { stdin = os.Stdin }()
	v, err = readJSON("-")
	require.NoError(t, err)
	assert.Equal(t, "text", v)

	_, err = readJSON(`{name}`)
	assert.Error(t, err)

	_, err = readJSON("@" + filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseFunctionInput(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.FunctionInput
		wantErr  bool
	}{
		{"Name='x'", models.FunctionInput{Name: "Name", Value: "'x'"}, false},
		{"Target={'@odata.id':'accounts(1)'}@t", models.FunctionInput{Name: "Target", Value: "{'@odata.id':'accounts(1)'}", Alias: "t"}, false},
		{"Email='a@b.com'", models.FunctionInput{Name: "Email", Value: "'a@b.com'"}, false},
		{"Count=5", models.FunctionInput{Name: "Count", Value: "5"}, false},
		{"=5", models.FunctionInput{}, true},
		{"novalue", models.FunctionInput{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			input, err := parseFunctionInput(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, input)
		})
	}
}

func TestParseChangeSet(t *testing.T) {
	cs, err := parseChangeSet(`patch:accounts(87989176-0887-45d1-93da-4d5f228c10e6):{"name":"B"}`)
	require.NoError(t, err)
	assert.Equal(t, "PATCH", cs.Method)
	assert.Equal(t, "accounts(87989176-0887-45d1-93da-4d5f228c10e6)", cs.QueryString)
	assert.Equal(t, map[string]interface{}{"name": "B"}, cs.Entity)

	for _, raw := range []string{
		"POST",
		"POST:accounts",
		`DELETE:accounts(1):{}`,
		`POST::{"name":"A"}`,
		`POST:accounts:{bad`,
	} {
		_, err := parseChangeSet(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewBatchRequest(t *testing.T) {
	req, err := newBatchRequest("", "", []string{`POST:accounts:{"name":"A"}`}, []string{"contacts?$top=1"})
	require.NoError(t, err)

	_, err = guid.Parse(req.BatchID)
	assert.NoError(t, err)
	_, err = guid.Parse(req.ChangeSetID)
	assert.NoError(t, err)
	assert.NotEqual(t, req.BatchID, req.ChangeSetID)
	require.Len(t, req.ChangeSets, 1)
	assert.Equal(t, []string{"contacts?$top=1"}, req.Gets)

	req, err = newBatchRequest("B1", "C1", nil, []string{"accounts"})
	require.NoError(t, err)
	assert.Equal(t, "B1", req.BatchID)
	assert.Equal(t, "C1", req.ChangeSetID)

	_, err = newBatchRequest("", "", nil, nil)
	assert.Error(t, err)

	_, err = newBatchRequest("", "", []string{"GET:accounts:{}"}, nil)
	assert.Error(t, err)
}
