package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/xrm-webapi/internal/config"
	"github.com/zmcp/xrm-webapi/internal/debug"
)

type recorded struct {
	method string
	uri    string
	header http.Header
	body   string
}

// startSession points the global session at a test server answering with
// handler and returns the captured output
func startSession(t *testing.T, handler http.HandlerFunc) (*bytes.Buffer, *[]recorded) {
	t.Helper()

	var requests []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recorded{r.Method, r.URL.RequestURI(), r.Header.Clone(), string(body)})
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	c := config.Default()
	c.URL = server.URL
	c.Token = "test-token"
	c.MaxRetries = 0
	c.Output = "json"
	c.MetricsFile = filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, c.Validate())

	s, err := newSession(c)
	require.NoError(t, err)

	var out bytes.Buffer
	s.printer = newPrinter(&out, "json")
	s.logger.SetOutput(io.Discard)
	app = s
	t.Cleanup(func() { app = nil })

	return &out, &requests
}

func run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestWhoAmICommand(t *testing.T) {
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BusinessUnitId":"11111111-1111-1111-1111-111111111111","UserId":"22222222-2222-2222-2222-222222222222","OrganizationId":"33333333-3333-3333-3333-333333333333"}`))
	})

	require.NoError(t, run(t, newWhoAmICmd()))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "GET", req.method)
	assert.Equal(t, "/api/data/v9.2/WhoAmI()", req.uri)
	assert.Equal(t, "Bearer test-token", req.header.Get("Authorization"))

	var who map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &who))
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", who["UserId"])

	count, err := testutil.GatherAndCount(app.registry, "xrm_webapi_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateCommand(t *testing.T) {
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId", "https://org/api/data/v9.2/accounts(87989176-0887-45d1-93da-4d5f228c10e6)")
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, run(t, newCreateCmd(), "accounts", "--data", `{"name":"Contoso"}`))

	require.Len(t, *requests, 1)
	assert.Equal(t, "POST", (*requests)[0].method)
	assert.Equal(t, "/api/data/v9.2/accounts", (*requests)[0].uri)
	assert.JSONEq(t, `{"name":"Contoso"}`, (*requests)[0].body)
	assert.Contains(t, out.String(), "87989176-0887-45D1-93DA-4D5F228C10E6")
}

func TestRetrieveMultipleAllCommand(t *testing.T) {
	var serverURL string
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.RawQuery, "skiptoken") {
			w.Write([]byte(`{"value":[{"name":"B"}]}`))
			return
		}
		serverURL = "http://" + r.Host
		w.Write([]byte(`{"value":[{"name":"A"}],"@odata.nextLink":"` + serverURL + `/api/data/v9.2/accounts?$skiptoken=2"}`))
	})
	app.cfg.PageSize = 1
	opts, err := app.cfg.QueryOptions()
	require.NoError(t, err)
	app.options = opts

	require.NoError(t, run(t, newRetrieveMultipleCmd(), "accounts", "--query", "$select=name", "--all"))

	require.Len(t, *requests, 2)
	assert.Equal(t, "/api/data/v9.2/accounts?$select=name", (*requests)[0].uri)
	assert.Contains(t, (*requests)[1].header.Get("Prefer"), "odata.maxpagesize=1")

	var records []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &records))
	assert.Equal(t, []map[string]string{{"name": "A"}, {"name": "B"}}, records)
}

func TestDeleteCommandProtocolError(t *testing.T) {
	_, _ = startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"0x80040217","message":"account With Id = 1 Does Not Exist"}}`))
	})

	err := run(t, newDeleteCmd(), "accounts", "87989176-0887-45d1-93da-4d5f228c10e6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x80040217")
}

func TestCommandRejectsInvalidID(t *testing.T) {
	_, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {})

	err := run(t, newRetrieveCmd(), "accounts", "not-a-guid")
	require.Error(t, err)
	assert.Empty(t, *requests)
}

func TestFunctionCommand(t *testing.T) {
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TimeZoneCode":92}`))
	})

	require.NoError(t, run(t, newFunctionCmd(), "GetTimeZoneCodeByLocalizedName",
		"--input", "LocalizedStandardName='Pacific Standard Time'",
		"--input", "LocaleId=1033"))

	require.Len(t, *requests, 1)
	assert.Equal(t, "/api/data/v9.2/GetTimeZoneCodeByLocalizedName(LocalizedStandardName='Pacific%20Standard%20Time',LocaleId=1033)", (*requests)[0].uri)
	assert.JSONEq(t, `{"TimeZoneCode":92}`, out.String())
}

func TestBoundActionCommand(t *testing.T) {
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, run(t, newActionCmd(), "Merge",
		"--entity-set", "accounts", "--id", "87989176-0887-45d1-93da-4d5f228c10e6",
		"--data", `{"PerformParentingChecks":false}`))

	require.Len(t, *requests, 1)
	assert.Equal(t, "/api/data/v9.2/accounts(87989176-0887-45D1-93DA-4D5F228C10E6)/Microsoft.Dynamics.CRM.Merge", (*requests)[0].uri)
	assert.Equal(t, "Completed (no content)\n", out.String())

	err := run(t, newActionCmd(), "Merge", "--entity-set", "accounts")
	assert.Error(t, err)
}

func TestBatchCommand(t *testing.T) {
	out, requests := startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/mixed; boundary=batchresponse_1")
		w.Write([]byte("--batchresponse_1\r\nContent-Type: application/http\r\n\r\nHTTP/1.1 200 OK\r\n\r\n{}\r\n--batchresponse_1--\r\n"))
	})

	require.NoError(t, run(t, newBatchCmd(), "--batch-id", "B1", "--changeset-id", "C1",
		"--changeset", `POST:accounts:{"name":"A"}`, "--get", "contacts?$top=1"))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/api/data/v9.2/$batch", req.uri)
	assert.Equal(t, "multipart/mixed;boundary=batch_B1", req.header.Get("Content-Type"))
	assert.Contains(t, req.body, "--changeset_C1")
	assert.Contains(t, req.body, "GET ")

	var parts []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &parts))
	require.Len(t, parts, 1)
	assert.Contains(t, parts[0], "HTTP/1.1 200 OK")
}

func TestTokenCommandMasksToken(t *testing.T) {
	out, _ := startSession(t, func(w http.ResponseWriter, r *http.Request) {})

	require.NoError(t, run(t, newTokenCmd()))
	assert.Equal(t, "****"+"st-token"+"\n", out.String())
}

func TestSessionWritesMetricsFile(t *testing.T) {
	_, _ = startSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BusinessUnitId":"11111111-1111-1111-1111-111111111111","UserId":"22222222-2222-2222-2222-222222222222","OrganizationId":"33333333-3333-3333-3333-333333333333"}`))
	})

	require.NoError(t, run(t, newWhoAmICmd()))
	require.NoError(t, app.Close())

	data, err := os.ReadFile(app.cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "xrm_webapi_requests_total")
}

func TestSessionCloseTracesMetricsFailure(t *testing.T) {
	_, _ = startSession(t, func(w http.ResponseWriter, r *http.Request) {})

	var trace bytes.Buffer
	app.trace = debug.NewTraceWriter(&trace)
	app.cfg.MetricsFile = t.TempDir()

	err := app.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics")
	assert.Contains(t, trace.String(), `"message":"write metrics"`)
}
