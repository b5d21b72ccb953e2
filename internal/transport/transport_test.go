package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAdapter(t *testing.T) {
	var seen *Request
	var tr Transport = Func(func(ctx context.Context, req *Request) (*Response, error) {
		seen = req
		return &Response{StatusCode: http.StatusNoContent, Header: http.Header{}}, nil
	})

	req := &Request{Method: "DELETE", URL: "accounts(1)"}
	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Same(t, req, seen)
}

func TestFuncAdapterError(t *testing.T) {
	cause := errors.New("connection refused")
	tr := Func(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, cause
	})

	resp, err := tr.Do(context.Background(), &Request{Method: "GET", URL: "accounts"})
	assert.Nil(t, resp)
	assert.Same(t, cause, err)
}

func TestRequestString(t *testing.T) {
	req := &Request{Method: "PATCH", URL: "accounts(1)"}
	assert.Equal(t, "PATCH accounts(1)", req.String())
}
