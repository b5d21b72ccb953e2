package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/batch"
	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
)

var stdin io.Reader = os.Stdin

// parseID parses a positional record id
func parseID(name, raw string) (guid.Guid, error) {
	id, err := guid.Parse(raw)
	if err != nil {
		return guid.Guid{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

// readJSON decodes a JSON document given inline, as @file or as "-" for stdin
func readJSON(raw string) (interface{}, error) {
	var data []byte
	switch {
	case raw == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		data = b
	case strings.HasPrefix(raw, "@"):
		b, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", raw[1:], err)
		}
		data = b
	default:
		data = []byte(raw)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

// parseFunctionInput parses name=value or name=value@alias. The value is
// passed through verbatim, so strings need their own quotes: name='text'.
func parseFunctionInput(raw string) (models.FunctionInput, error) {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || name == "" {
		return models.FunctionInput{}, fmt.Errorf("invalid function input %q, expected name=value[@alias]", raw)
	}

	input := models.FunctionInput{Name: name, Value: value}
	if i := strings.LastIndex(value, "@"); i > 0 && isAlias(value[i+1:]) {
		input.Value = value[:i]
		input.Alias = value[i+1:]
	}
	return input, nil
}

func isAlias(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// parseChangeSet parses METHOD:path:json, e.g. PATCH:accounts(<id>):{"name":"B"}
func parseChangeSet(raw string) (models.ChangeSet, error) {
	method, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return models.ChangeSet{}, fmt.Errorf("invalid changeset %q, expected METHOD:path:json", raw)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != "POST" && method != "PATCH" {
		return models.ChangeSet{}, fmt.Errorf("unsupported changeset method %q (POST or PATCH)", method)
	}

	path, body, ok := strings.Cut(rest, ":")
	if !ok || path == "" {
		return models.ChangeSet{}, fmt.Errorf("invalid changeset %q, expected METHOD:path:json", raw)
	}

	entity, err := readJSON(body)
	if err != nil {
		return models.ChangeSet{}, fmt.Errorf("changeset %s %s: %w", method, path, err)
	}

	return models.ChangeSet{Method: method, QueryString: path, Entity: entity}, nil
}

// newBatchRequest assembles a batch from flag values, generating the
// boundary ids that were not given
func newBatchRequest(batchID, changeSetID string, changeSets, gets []string) (*batch.Request, error) {
	req := &batch.Request{BatchID: batchID, ChangeSetID: changeSetID, Gets: gets}
	if req.BatchID == "" {
		req.BatchID = guid.New().String()
	}
	if req.ChangeSetID == "" {
		req.ChangeSetID = guid.New().String()
	}

	for _, raw := range changeSets {
		cs, err := parseChangeSet(raw)
		if err != nil {
			return nil, err
		}
		req.ChangeSets = append(req.ChangeSets, cs)
	}

	if len(req.ChangeSets) == 0 && len(req.Gets) == 0 {
		return nil, fmt.Errorf("batch needs at least one --changeset or --get")
	}
	return req, nil
}
