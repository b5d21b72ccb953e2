// Package client is the Web API request orchestrator: one method per CRM
// verb, each building its path and headers, handing the exchange to a
// transport.Transport and mapping the answer to a value or an error.
//
// Every method blocks until the transport completes or ctx is done. Use Go
// to run an operation in the background and collect it later.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zmcp/xrm-webapi/internal/batch"
	"github.com/zmcp/xrm-webapi/internal/constants"
	"github.com/zmcp/xrm-webapi/internal/guid"
	"github.com/zmcp/xrm-webapi/internal/models"
	"github.com/zmcp/xrm-webapi/internal/request"
	"github.com/zmcp/xrm-webapi/internal/transport"
)

// TokenSource supplies the bearer token for each request
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

// Token returns t
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client handles Web API operations against one organization. It holds no
// per-request state and is safe for concurrent use.
type Client struct {
	baseURL   string
	transport transport.Transport
	tokens    TokenSource
}

// New creates a client for the service root baseURL
// (https://<org>/api/data/v<version>/) that sends requests through t
func New(baseURL string, t transport.Transport) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{baseURL: baseURL, transport: t}
}

// SetTokenSource configures bearer authentication. Without one, requests
// carry no Authorization header.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call is the call-scoped description of one exchange
type call struct {
	method      string
	path        string
	contentType string
	body        []byte
	options     *models.QueryOptions
}

// do performs the exchange. Non-2xx statuses become ProtocolErrors; a
// transport failure becomes a TransportError.
func (c *Client) do(ctx context.Context, cl call) (*transport.Response, error) {
	var token string
	if c.tokens != nil {
		t, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", constants.ErrAuthenticationFailed, err)
		}
		token = t
	}

	contentType := cl.contentType
	if contentType == "" {
		contentType = constants.ContentTypeJSONUTF8
	}

	resp, err := c.transport.Do(ctx, &transport.Request{
		Method: cl.method,
		URL:    cl.path,
		Header: request.Headers(contentType, token, cl.options),
		Body:   cl.body,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorFromBody(resp.Body, resp.StatusCode)
	}

	return resp, nil
}

func marshalBody(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return body, nil
}

func decode(resp *transport.Response, v interface{}) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%s: %w", constants.ErrResponseParseFailed, err)
	}
	return nil
}

// rawResult is the value of an action or function call: the JSON body when
// there is one, nil otherwise.
func rawResult(resp *transport.Response) json.RawMessage {
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil
	}
	return json.RawMessage(resp.Body)
}

func requireID(id guid.Guid) error {
	if id.IsZero() {
		return &guid.ValidationError{Value: id.String()}
	}
	return nil
}

// Retrieve reads one record. query is an OData query string such as
// "$select=name"; a leading '?' is optional.
func (c *Client) Retrieve(ctx context.Context, entitySet string, id guid.Guid, query string, options *models.QueryOptions) (models.Entity, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:  constants.GET,
		path:    request.EntityPath(entitySet, id, query),
		options: options,
	})
	if err != nil {
		return nil, err
	}

	var entity models.Entity
	if err := decode(resp, &entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// RetrieveMultiple reads the first page of a collection query
func (c *Client) RetrieveMultiple(ctx context.Context, entitySet, query string, options *models.QueryOptions) (*models.RetrieveMultipleResponse, error) {
	return c.retrievePage(ctx, request.CollectionPath(entitySet, query), options)
}

// RetrieveMultipleNextPage follows the @odata.nextLink of a previous page.
// Pass the same options as the first request to keep the page size.
func (c *Client) RetrieveMultipleNextPage(ctx context.Context, nextLink string, options *models.QueryOptions) (*models.RetrieveMultipleResponse, error) {
	if nextLink == "" {
		return nil, fmt.Errorf("next link is empty")
	}
	return c.retrievePage(ctx, nextLink, options)
}

// RetrieveAll follows paging links until the collection is exhausted
func (c *Client) RetrieveAll(ctx context.Context, entitySet, query string, options *models.QueryOptions) ([]models.Entity, error) {
	page, err := c.RetrieveMultiple(ctx, entitySet, query, options)
	if err != nil {
		return nil, err
	}

	records := page.Value
	for page.NextLink != "" {
		page, err = c.RetrieveMultipleNextPage(ctx, page.NextLink, options)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Value...)
	}

	return records, nil
}

func (c *Client) retrievePage(ctx context.Context, path string, options *models.QueryOptions) (*models.RetrieveMultipleResponse, error) {
	resp, err := c.do(ctx, call{
		method:  constants.GET,
		path:    path,
		options: options,
	})
	if err != nil {
		return nil, err
	}

	var page models.RetrieveMultipleResponse
	if err := decode(resp, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Create creates a record and returns its identifier, taken from the
// OData-EntityId response header.
func (c *Client) Create(ctx context.Context, entitySet string, entity interface{}, options *models.QueryOptions) (*models.CreatedEntity, error) {
	body, err := marshalBody(entity)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:  constants.POST,
		path:    entitySet,
		body:    body,
		options: options,
	})
	if err != nil {
		return nil, err
	}

	return createdEntity(resp.Header)
}

func createdEntity(header http.Header) (*models.CreatedEntity, error) {
	uri := header.Get(constants.ODataEntityID)
	if uri == "" {
		return nil, ErrMissingEntityID
	}
	id, err := request.EntityIDFromURI(uri)
	if err != nil {
		return nil, err
	}
	return &models.CreatedEntity{ID: id, URI: uri}, nil
}

// CreateWithReturnData creates a record and returns it as stored, limited to
// the attributes in selectQuery (e.g. "$select=name,accountid").
func (c *Client) CreateWithReturnData(ctx context.Context, entitySet string, entity interface{}, selectQuery string, options *models.QueryOptions) (models.Entity, error) {
	body, err := marshalBody(entity)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:  constants.POST,
		path:    request.CollectionPath(entitySet, selectQuery),
		body:    body,
		options: models.WithRepresentation(options),
	})
	if err != nil {
		return nil, err
	}

	var created models.Entity
	if err := decode(resp, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches a record
func (c *Client) Update(ctx context.Context, entitySet string, id guid.Guid, entity interface{}, options *models.QueryOptions) error {
	if err := requireID(id); err != nil {
		return err
	}

	body, err := marshalBody(entity)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, call{
		method:  constants.PATCH,
		path:    request.EntityPath(entitySet, id, ""),
		body:    body,
		options: options,
	})
	return err
}

// UpdateWithReturnData patches a record and returns it as stored
func (c *Client) UpdateWithReturnData(ctx context.Context, entitySet string, id guid.Guid, entity interface{}, selectQuery string, options *models.QueryOptions) (models.Entity, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}

	body, err := marshalBody(entity)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:  constants.PATCH,
		path:    request.EntityPath(entitySet, id, selectQuery),
		body:    body,
		options: models.WithRepresentation(options),
	})
	if err != nil {
		return nil, err
	}

	var updated models.Entity
	if err := decode(resp, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateProperty sets a single attribute with PUT
func (c *Client) UpdateProperty(ctx context.Context, entitySet string, id guid.Guid, attribute models.Attribute, options *models.QueryOptions) error {
	if err := requireID(id); err != nil {
		return err
	}

	body, err := marshalBody(map[string]interface{}{"value": attribute.Value})
	if err != nil {
		return err
	}

	_, err = c.do(ctx, call{
		method:  constants.PUT,
		path:    request.PropertyPath(entitySet, id, attribute.Name, false),
		body:    body,
		options: options,
	})
	return err
}

// Delete deletes a record
func (c *Client) Delete(ctx context.Context, entitySet string, id guid.Guid) error {
	if err := requireID(id); err != nil {
		return err
	}

	_, err := c.do(ctx, call{
		method: constants.DELETE,
		path:   request.EntityPath(entitySet, id, ""),
	})
	return err
}

// DeleteProperty clears a single attribute. Single-valued navigation
// properties are cleared through their $ref.
func (c *Client) DeleteProperty(ctx context.Context, entitySet string, id guid.Guid, attribute string, navigation bool) error {
	if err := requireID(id); err != nil {
		return err
	}

	_, err := c.do(ctx, call{
		method: constants.DELETE,
		path:   request.PropertyPath(entitySet, id, attribute, navigation),
	})
	return err
}

// Associate links relatedID in relatedEntitySet to the record through the
// relationship navigation property
func (c *Client) Associate(ctx context.Context, entitySet string, id guid.Guid, relationship, relatedEntitySet string, relatedID guid.Guid, options *models.QueryOptions) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := requireID(relatedID); err != nil {
		return err
	}

	body, err := marshalBody(request.AssociateBody(c.baseURL, relatedEntitySet, relatedID))
	if err != nil {
		return err
	}

	_, err = c.do(ctx, call{
		method:  constants.POST,
		path:    request.AssociatePath(entitySet, id, relationship),
		body:    body,
		options: options,
	})
	return err
}

// Disassociate removes a link. relatedID is required for collection-valued
// navigation properties and must be nil for single-valued ones.
func (c *Client) Disassociate(ctx context.Context, entitySet string, id guid.Guid, property string, relatedID *guid.Guid) error {
	if err := requireID(id); err != nil {
		return err
	}
	if relatedID != nil {
		if err := requireID(*relatedID); err != nil {
			return err
		}
	}

	_, err := c.do(ctx, call{
		method: constants.DELETE,
		path:   request.DisassociatePath(entitySet, id, property, relatedID),
	})
	return err
}

// BoundAction executes an action bound to a record. inputs is marshalled as
// the request body when non-nil. The result is the response JSON, or nil for
// actions that return nothing.
func (c *Client) BoundAction(ctx context.Context, entitySet string, id guid.Guid, actionName string, inputs interface{}, options *models.QueryOptions) (json.RawMessage, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.action(ctx, request.BoundOperationPath(entitySet, id, actionName), inputs, options)
}

// UnboundAction executes an action that is not bound to a record
func (c *Client) UnboundAction(ctx context.Context, actionName string, inputs interface{}, options *models.QueryOptions) (json.RawMessage, error) {
	return c.action(ctx, request.UnboundOperationPath(actionName), inputs, options)
}

func (c *Client) action(ctx context.Context, path string, inputs interface{}, options *models.QueryOptions) (json.RawMessage, error) {
	body, err := marshalBody(inputs)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:  constants.POST,
		path:    path,
		body:    body,
		options: options,
	})
	if err != nil {
		return nil, err
	}
	return rawResult(resp), nil
}

// BoundFunction calls a function bound to a record
func (c *Client) BoundFunction(ctx context.Context, entitySet string, id guid.Guid, functionName string, inputs []models.FunctionInput, options *models.QueryOptions) (json.RawMessage, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.function(ctx, request.BoundFunctionPath(entitySet, id, functionName, inputs), options)
}

// UnboundFunction calls a function that is not bound to a record
func (c *Client) UnboundFunction(ctx context.Context, functionName string, inputs []models.FunctionInput, options *models.QueryOptions) (json.RawMessage, error) {
	return c.function(ctx, request.UnboundFunctionPath(functionName, inputs), options)
}

func (c *Client) function(ctx context.Context, path string, options *models.QueryOptions) (json.RawMessage, error) {
	resp, err := c.do(ctx, call{
		method:  constants.GET,
		path:    path,
		options: options,
	})
	if err != nil {
		return nil, err
	}
	return rawResult(resp), nil
}

// WhoAmI returns the calling user, business unit and organization
func (c *Client) WhoAmI(ctx context.Context) (*models.WhoAmIResponse, error) {
	raw, err := c.UnboundFunction(ctx, constants.WhoAmIFunction, nil, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: empty %s response", constants.ErrResponseParseFailed, constants.WhoAmIFunction)
	}

	var who models.WhoAmIResponse
	if err := json.Unmarshal(raw, &who); err != nil {
		return nil, fmt.Errorf("%s: %w", constants.ErrResponseParseFailed, err)
	}
	return &who, nil
}

// BatchResponse is the undecoded answer to a $batch request
type BatchResponse struct {
	Raw         string
	ContentType string
}

// Parts splits the response on its own boundary. Each part is one
// application/http response; see batch.ParsePart. Changeset responses are
// nested parts and must be split again on their changeset boundary.
func (r *BatchResponse) Parts() ([]string, error) {
	boundary, err := batch.Boundary(r.ContentType)
	if err != nil {
		return nil, err
	}
	return batch.Split(r.Raw, boundary), nil
}

// BatchOperation submits a changeset and independent reads as one $batch
// request. The multipart response is returned as is; per-item outcomes are
// not decoded.
func (c *Client) BatchOperation(ctx context.Context, req *batch.Request, options *models.QueryOptions) (*BatchResponse, error) {
	body, err := batch.Encode(c.baseURL, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, call{
		method:      constants.POST,
		path:        constants.BatchEndpoint,
		contentType: batch.ContentType(req.BatchID),
		body:        []byte(body),
		options:     options,
	})
	if err != nil {
		return nil, err
	}

	return &BatchResponse{
		Raw:         string(resp.Body),
		ContentType: resp.Header.Get(constants.ContentType),
	}, nil
}
