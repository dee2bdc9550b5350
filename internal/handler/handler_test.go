package handler

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dandantas/stocksync/internal/commerce"
	"github.com/dandantas/stocksync/internal/config"
	"github.com/dandantas/stocksync/internal/service"
	"github.com/dandantas/stocksync/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietCommerce has no catalog and accepts nothing
type quietCommerce struct{}

func (quietCommerce) VariantBySKU(context.Context, string) (*commerce.Variant, error) {
	return nil, nil
}

func (quietCommerce) VariantByInventoryItemID(context.Context, string) (*commerce.Variant, error) {
	return nil, nil
}

func (quietCommerce) InventoryItemByID(context.Context, string) (*commerce.InventoryItem, error) {
	return nil, nil
}

func (quietCommerce) InventoryLevels(context.Context, commerce.LevelQuery) (*commerce.LevelPage, error) {
	return &commerce.LevelPage{}, nil
}

func (quietCommerce) InventoryLevelsSince(context.Context, []string, time.Time) ([]commerce.InventoryLevel, error) {
	return nil, nil
}

func (quietCommerce) SetInventoryLevel(context.Context, string, string, int64) (*commerce.InventoryLevel, error) {
	return nil, nil
}

func (quietCommerce) Locations(context.Context) ([]commerce.Location, error) {
	return []commerce.Location{{ID: "1", Name: "Main", Active: true}}, nil
}

func newTestRouter(t *testing.T, queryOnConnect bool) (http.Handler, *service.Service) {
	t.Helper()
	cfg := &config.Config{
		DataDir:             t.TempDir(),
		SessionUsername:     "qbwc",
		SessionPassword:     "secret",
		QueryOnConnect:      queryOnConnect,
		CommerceBaseURL:     "http://commerce.invalid",
		CommerceLocationID:  "1",
		SKUFieldPriority:    []string{"ManufacturerPartNumber", "Name"},
		AdjustmentAccount:   "Inventory Adjustments",
		MaxItemsPerQuery:    100,
		InboundLookback:     time.Hour,
		Timezone:            "UTC",
		LockBackend:         "file",
		QueueLockPoll:       time.Millisecond,
		QueueLockMaxWait:    5 * time.Second,
		QueueLockStaleAfter: time.Minute,
	}
	svc, err := service.New(context.Background(), cfg, service.WithCommerce(quietCommerce{}))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Stop(context.Background()) })

	return NewRouter(svc, "test", middleware.CORSConfig{}).Handler(), svc
}

// soapReply captures every response shape the endpoint produces
type soapReply struct {
	Body struct {
		Authenticate *struct {
			Result struct {
				Strings []string `xml:"string"`
			} `xml:"authenticateResult"`
		} `xml:"authenticateResponse"`
		SendRequest *struct {
			Result string `xml:"sendRequestXMLResult"`
		} `xml:"sendRequestXMLResponse"`
		ServerVersion *struct {
			Result string `xml:"serverVersionResult"`
		} `xml:"serverVersionResponse"`
		CloseConnection *struct {
			Result string `xml:"closeConnectionResult"`
		} `xml:"closeConnectionResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

func soapCall(t *testing.T, h http.Handler, body string) (int, soapReply) {
	t.Helper()
	envelope := `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
<soap:Body>` + body + `</soap:Body>
</soap:Envelope>`

	req := httptest.NewRequest(http.MethodPost, "/qbwc", strings.NewReader(envelope))
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "text/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	var reply soapReply
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &reply), rec.Body.String())
	return rec.Code, reply
}

func TestSOAPAuthenticateAndSendRequest(t *testing.T) {
	h, _ := newTestRouter(t, true)

	code, reply := soapCall(t, h, `<authenticate xmlns="http://developer.intuit.com/">
<strUserName>qbwc</strUserName><strPassword>secret</strPassword></authenticate>`)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, reply.Body.Authenticate)
	result := reply.Body.Authenticate.Result.Strings
	require.Len(t, result, 2)
	ticket := result[0]
	assert.NotEmpty(t, ticket)
	assert.Equal(t, "", result[1], "query on connect leaves work for the open company")

	code, reply = soapCall(t, h, `<sendRequestXML xmlns="http://developer.intuit.com/">
<ticket>`+ticket+`</ticket><strHCPResponse></strHCPResponse><strCompanyFileName></strCompanyFileName>
<qbXMLCountry>US</qbXMLCountry><qbXMLMajorVers>13</qbXMLMajorVers><qbXMLMinorVers>0</qbXMLMinorVers>
</sendRequestXML>`)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, reply.Body.SendRequest)
	assert.Contains(t, reply.Body.SendRequest.Result, "<ItemInventoryQueryRq")

	code, reply = soapCall(t, h, `<closeConnection xmlns="http://developer.intuit.com/"><ticket>`+ticket+`</ticket></closeConnection>`)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, reply.Body.CloseConnection)
	assert.NotEmpty(t, reply.Body.CloseConnection.Result)
}

func TestSOAPAuthenticateRejectsBadPassword(t *testing.T) {
	h, _ := newTestRouter(t, false)

	_, reply := soapCall(t, h, `<authenticate xmlns="http://developer.intuit.com/">
<strUserName>qbwc</strUserName><strPassword>wrong</strPassword></authenticate>`)
	require.NotNil(t, reply.Body.Authenticate)
	assert.Equal(t, []string{"", "nvu"}, reply.Body.Authenticate.Result.Strings)
}

func TestSOAPServerVersion(t *testing.T) {
	h, _ := newTestRouter(t, false)

	_, reply := soapCall(t, h, `<serverVersion xmlns="http://developer.intuit.com/"/>`)
	require.NotNil(t, reply.Body.ServerVersion)
	assert.NotEmpty(t, reply.Body.ServerVersion.Result)
}

func TestSOAPFaults(t *testing.T) {
	h, _ := newTestRouter(t, false)

	code, reply := soapCall(t, h, `<somethingElse/>`)
	assert.Equal(t, http.StatusInternalServerError, code)
	require.NotNil(t, reply.Body.Fault)
	assert.Equal(t, "soap:Client", reply.Body.Fault.Code)

	req := httptest.NewRequest(http.MethodPost, "/qbwc", strings.NewReader("<soap:Envelope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed SOAP envelope")
}

func TestSOAPGetBanner(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qbwc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Web Connector")
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestEnqueueInventoryQueryAndList(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/queue/inventory-query", `{"max_returned": 25, "active_status": "ActiveOnly"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 1, body["depth"])
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationHeader))

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "api", jobs[0].(map[string]any)["source"])
}

func TestAPIErrorMapping(t *testing.T) {
	h, _ := newTestRouter(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad active status", http.MethodPost, "/api/v1/queue/inventory-query", `{"active_status":"Maybe"}`, http.StatusBadRequest, "BAD_INPUT"},
		{"malformed json", http.MethodPost, "/api/v1/queue/inventory-query", `{`, http.StatusBadRequest, "BAD_INPUT"},
		{"empty raw", http.MethodPost, "/api/v1/queue/raw", `{"qbxml":""}`, http.StatusBadRequest, "BAD_INPUT"},
		{"nothing current", http.MethodDelete, "/api/v1/queue/current", "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown pending", http.MethodDelete, "/api/v1/pending/NOPE", "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown task", http.MethodGet, "/api/v1/tasks/missing", "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown audit kind", http.MethodGet, "/api/v1/audit/whatever", "", http.StatusBadRequest, "BAD_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestInboundDryRun(t *testing.T) {
	h, svc := newTestRouter(t, false)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/sync/inbound?dry_run=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["dry_run"])

	status, err := svc.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.Depth)
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestRouter(t, false)

	rec, body := doJSON(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])

	rec, body = doJSON(t, h, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["data_dir"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, false)

	doJSON(t, h, http.MethodGet, "/api/v1/pending", "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
