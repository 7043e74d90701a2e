package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/models/reports"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	app    *App
	router *gin.Engine
	store  *models.MemoryStore
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("STRICT_DUPLICATE_RECONCILIATION", "")
	t.Setenv("BATCH_NOTIFY_ENABLED", "")
	t.Setenv("BATCH_REPORT_ARCHIVE_ENABLED", "")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx := context.Background()
	store := models.NewMemoryStore()
	require.NoError(t, models.SeedReconciliationStates(ctx, store))
	require.NoError(t, store.CreateBranch(ctx, &models.Branch{Code: "B01", Name: "Main Branch"}))
	require.NoError(t, store.CreateProduct(ctx, &models.Product{Code: "P01", Name: "Rice"}))
	require.NoError(t, store.CreateDocument(ctx, &models.Document{Code: "DOC1", Description: "General ledger"}))
	require.NoError(t, store.CreateDocument(ctx, &models.Document{Code: "DOC2", Description: "Stock count"}))
	require.NoError(t, store.CreateRelation(ctx, &models.BranchProductDocument{BranchCode: "B01", ProductCode: "P01", DocumentCode: "DOC1"}))
	require.NoError(t, store.CreateRelation(ctx, &models.BranchProductDocument{BranchCode: "B01", ProductCode: "P01", DocumentCode: "DOC2"}))

	app := NewApp(logger)
	app.SetStore(store)

	token, err := utils.JwtGenerate("auditor", "admin")
	require.NoError(t, err)

	return &testAPI{t: t, app: app, router: app.Router(nil), store: store, token: token}
}

func (api *testAPI) do(method, target string, body interface{}, authed bool) *httptest.ResponseRecorder {
	api.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(api.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+api.token)
	}
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data), string(resp.Data))
	}
	return resp
}

func recordBody(date, document, physical, value, state string) gin.H {
	return gin.H{
		"reconciliation_date": date,
		"branch_code":         "B01",
		"product_code":        "P01",
		"document_code":       document,
		"physical_difference": physical,
		"value_difference":    value,
		"state_code":          state,
	}
}

func (api *testAPI) create(date, document, physical, value, state string) models.Reconciliation {
	api.t.Helper()
	w := api.do(http.MethodPost, "/api/v1/reconciliations", recordBody(date, document, physical, value, state), true)
	require.Equal(api.t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.Reconciliation
	decode(api.t, w, &rec)
	return rec
}

func TestReadinessGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app := NewApp(logrus.New())
	router := app.Router(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/states", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	app.SetStore(models.NewMemoryStore())
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/states", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCorrelationIdEchoed(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/states", nil)
	req.Header.Set("x-correlation-id", "cid-42")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, "cid-42", w.Header().Get("x-correlation-id"))

	w = api.do(http.MethodGet, "/api/v1/states", nil, false)
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))
}

func TestCreateReconciliation(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/reconciliations", recordBody("2024-03-15", "DOC1", "0", "0", "C"), false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	rec := api.create("2024-03-15", "DOC1", "0", "0", "c")
	assert.NotZero(t, rec.ID)
	assert.Equal(t, models.ReconciliationStateBalanced, rec.StateCode)
	assert.Equal(t, "Main Branch", rec.BranchName)
	assert.Equal(t, "Balanced", rec.StateDescription)

	// duplicate (date, relation) returns the stored record
	w = api.do(http.MethodPost, "/api/v1/reconciliations", recordBody("2024-03-15", "DOC1", "9", "9", "A"), true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dup models.Reconciliation
	decode(t, w, &dup)
	assert.Equal(t, rec.ID, dup.ID)
	assert.Equal(t, models.ReconciliationStateBalanced, dup.StateCode)
}

func TestCreateReconciliationErrors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body gin.H
		code int
	}{
		{"bad date", recordBody("15/03/2024", "DOC1", "0", "0", "A"), http.StatusBadRequest},
		{"unknown state", recordBody("2024-03-15", "DOC1", "0", "0", "Z"), http.StatusBadRequest},
		{"unknown relation", recordBody("2024-03-15", "DOC9", "0", "0", "A"), http.StatusNotFound},
		{"missing difference", gin.H{
			"reconciliation_date": "2024-03-15",
			"branch_code":         "B01",
			"product_code":        "P01",
			"document_code":       "DOC1",
			"value_difference":    "0",
			"state_code":          "A",
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(http.MethodPost, "/api/v1/reconciliations", tt.body, true)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			resp := decode(t, w, nil)
			assert.False(t, resp.Status)
		})
	}
	count, err := api.store.CountReconciliations(context.Background(), models.ReconciliationFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStrictDuplicateConflict(t *testing.T) {
	api := newTestAPI(t)
	rec := api.create("2024-03-15", "DOC1", "0", "0", "A")
	api.app.svc().reconciliation.WithStrictDuplicates(true)

	w := api.do(http.MethodPost, "/api/v1/reconciliations", recordBody("2024-03-15", "DOC1", "0", "0", "A"), true)
	require.Equal(t, http.StatusConflict, w.Code)
	var data map[string]int
	decode(t, w, &data)
	assert.Equal(t, rec.ID, data["existing_id"])
}

func TestGetReconciliation(t *testing.T) {
	api := newTestAPI(t)
	rec := api.create("2024-03-15", "DOC1", "3", "0", "B")

	w := api.do(http.MethodGet, "/api/v1/reconciliations/"+strconv.Itoa(rec.ID), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Reconciliation
	decode(t, w, &got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "General ledger", got.DocumentDescription)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/v1/reconciliations/999", nil, false).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/reconciliations/abc", nil, false).Code)
}

func TestQueryReconciliations(t *testing.T) {
	api := newTestAPI(t)
	api.create("2024-03-01", "DOC1", "0", "0", "A")
	api.create("2024-03-10", "DOC1", "0", "0", "D")
	api.create("2024-03-10", "DOC2", "0", "0", "C")
	api.create("2024-04-01", "DOC1", "0", "0", "D")

	var records []models.Reconciliation
	w := api.do(http.MethodGet, "/api/v1/reconciliations?start_date=2024-03-01&end_date=2024-03-31&state=d", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "DOC1", records[0].DocumentCode)

	w = api.do(http.MethodGet, "/api/v1/reconciliations?start_date=2024-04-01&end_date=2024-03-01", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var page models.Page[models.Reconciliation]
	w = api.do(http.MethodGet, "/api/v1/reconciliations?page=2&limit=3", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Equal(t, int64(4), page.TotalRecords)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 1)
}

func TestReconciliationAccessorRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.create("2024-03-10", "DOC1", "0", "0", "D")
	api.create("2024-03-10", "DOC2", "0", "0", "C")
	api.create("2024-03-11", "DOC1", "0", "0", "D")

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/reconciliations/date/2024-03-10", 2},
		{"/api/v1/reconciliations/date/2024-03-10/state/C", 1},
		{"/api/v1/reconciliations/mismatched/date/2024-03-10", 1},
		{"/api/v1/reconciliations/branch/B01", 3},
		{"/api/v1/reconciliations/product/P01", 3},
		{"/api/v1/reconciliations/state/D", 2},
		{"/api/v1/reconciliations/branch/B99", 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := api.do(http.MethodGet, tt.target, nil, false)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var records []models.Reconciliation
			decode(t, w, &records)
			assert.Len(t, records, tt.want)
		})
	}

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/reconciliations/state/X", nil, false).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/reconciliations/date/10-03-2024", nil, false).Code)

	w := api.do(http.MethodGet, "/api/v1/reconciliations/date/2024-03-10/branch/B01/product/P01/document/DOC2", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.Reconciliation
	decode(t, w, &rec)
	assert.Equal(t, models.ReconciliationStateBalanced, rec.StateCode)

	w = api.do(http.MethodGet, "/api/v1/reconciliations/date/2024-03-12/branch/B01/product/P01/document/DOC2", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateReconciliation(t *testing.T) {
	api := newTestAPI(t)
	rec := api.create("2024-03-15", "DOC1", "0", "0", "A")

	body := recordBody("2024-03-15", "DOC1", "2", "150", "B")
	body["id"] = rec.ID + 1
	w := api.do(http.MethodPut, "/api/v1/reconciliations/"+strconv.Itoa(rec.ID), body, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["id"] = rec.ID
	w = api.do(http.MethodPut, "/api/v1/reconciliations/"+strconv.Itoa(rec.ID), body, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Reconciliation
	decode(t, w, &got)
	assert.Equal(t, models.ReconciliationStateUnderReview, got.StateCode)
	assert.Equal(t, "150", got.ValueDifference.String())

	w = api.do(http.MethodPut, "/api/v1/reconciliations/999", recordBody("2024-03-15", "DOC1", "0", "0", "A"), true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateReconciliationState(t *testing.T) {
	api := newTestAPI(t)
	rec := api.create("2024-03-15", "DOC1", "0", "0", "A")
	target := "/api/v1/reconciliations/" + strconv.Itoa(rec.ID) + "/state"
	hook := test.NewLocal(api.app.logger)

	w := api.do(http.MethodPatch, target, gin.H{"state_code": "d"}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "reconciliation state updated", entry.Message)
	assert.Equal(t, "auditor", entry.Data["updated_by"])
	assert.Equal(t, "D", entry.Data["state_code"])
	var got models.Reconciliation
	decode(t, w, &got)
	assert.Equal(t, models.ReconciliationStateMismatched, got.StateCode)
	assert.Equal(t, "Mismatched", got.StateDescription)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPatch, target, gin.H{"state_code": "Q"}, true).Code)
	// unknown state is reported before the missing id
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPatch, "/api/v1/reconciliations/999/state", gin.H{"state_code": "Q"}, true).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodPatch, "/api/v1/reconciliations/999/state", gin.H{"state_code": "A"}, true).Code)
}

func TestDeleteReconciliation(t *testing.T) {
	api := newTestAPI(t)
	rec := api.create("2024-03-15", "DOC1", "0", "0", "A")
	target := "/api/v1/reconciliations/" + strconv.Itoa(rec.ID)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodDelete, target, nil, false).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, target, nil, true).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, target, nil, true).Code)
}

func TestBatchRoutesRequireOps(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/api/v1/batch/date/2024-03-15", nil, false).Code)

	viewer, err := utils.JwtGenerate("viewer", "viewer")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/period", strings.NewReader(`{"year":2024,"month":3}`))
	req.Header.Set("Authorization", "Bearer "+viewer)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRunBatchForDateRoute(t *testing.T) {
	api := newTestAPI(t)
	flagged := api.create("2024-03-15", "DOC1", "15", "0", "A")
	review := api.create("2024-03-15", "DOC2", "0", "0", "D")

	w := api.do(http.MethodPost, "/api/v1/batch/date/2024-03-15", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.DateBatchResult
	decode(t, w, &result)
	assert.Equal(t, 2, result.RecordsConsidered)
	assert.Equal(t, 1, result.ChangedToMismatched)
	assert.Equal(t, 1, result.NeedsReview)

	got, err := api.app.svc().reconciliation.GetByID(context.Background(), flagged.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStateMismatched, got.StateCode)
	got, err = api.app.svc().reconciliation.GetByID(context.Background(), review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStateMismatched, got.StateCode)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, "/api/v1/batch/date/2024-13-40", nil, true).Code)
}

func TestRunBatchForDateMissingMismatchState(t *testing.T) {
	api := newTestAPI(t)
	api.create("2024-03-15", "DOC1", "15", "0", "A")
	api.store.DeleteState(models.ReconciliationStateMismatched)

	w := api.do(http.MethodPost, "/api/v1/batch/date/2024-03-15", nil, true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunBatchForPeriodRoute(t *testing.T) {
	api := newTestAPI(t)
	api.create("2024-03-01", "DOC1", "15", "0", "A")
	api.create("2024-03-02", "DOC1", "0", "0", "C")
	api.create("2024-03-03", "DOC1", "0", "0", "D")
	api.create("2024-03-04", "DOC1", "0", "50", "B")

	w := api.do(http.MethodPost, "/api/v1/batch/period", gin.H{"year": 2024, "month": 3}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Result             models.BatchResult `json:"result"`
		Period             string             `json:"period"`
		MismatchPercentage string             `json:"mismatch_percentage"`
	}
	decode(t, w, &data)
	assert.Equal(t, 4, data.Result.TotalProcessed)
	assert.Equal(t, 2, data.Result.TotalMismatched)
	assert.Equal(t, "03/2024", data.Period)
	assert.Equal(t, "50", data.MismatchPercentage)

	w = api.do(http.MethodPost, "/api/v1/batch/period", gin.H{"year": 2019, "month": 3}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(http.MethodPost, "/api/v1/batch/period", gin.H{"year": 2024, "month": 13}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadPeriodReport(t *testing.T) {
	api := newTestAPI(t)
	api.create("2024-03-01", "DOC1", "15", "0", "A")

	w := api.do(http.MethodGet, "/api/v1/batch/period/2024/3/report.xlsx", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, reports.XlsxMediaType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, w.Body.Len())

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/v1/batch/period/2024/xx/report.xlsx", nil, true).Code)
}

func TestRelationRoutes(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/relations?document=DOC2", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var relations []models.BranchProductDocument
	decode(t, w, &relations)
	assert.Len(t, relations, 1)

	w = api.do(http.MethodPost, "/api/v1/relations", gin.H{"branch_code": "B01", "product_code": "P01", "document_code": "DOC9"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPost, "/api/v1/relations", gin.H{"branch_code": "B01", "product_code": "P01", "document_code": "DOC1"}, true)
	assert.Equal(t, http.StatusOK, w.Code)

	api.create("2024-03-15", "DOC1", "0", "0", "A")
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/relations/B01/P01/DOC2", nil, false).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/v1/relations/B01/P01/DOC9", nil, false).Code)
	assert.Equal(t, http.StatusConflict, api.do(http.MethodDelete, "/api/v1/relations/B01/P01/DOC1", nil, true).Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/api/v1/relations/B01/P01/DOC2", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/api/v1/relations/B01/P01/DOC2", nil, true).Code)
}

func TestReferenceDataRoutes(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/states", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var states []models.ReconciliationState
	decode(t, w, &states)
	assert.Len(t, states, 4)

	w = api.do(http.MethodPost, "/api/v1/branches", gin.H{"code": "B02", "name": "Harbour"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/branches", gin.H{"code": "B02", "name": "Harbour"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = api.do(http.MethodPost, "/api/v1/branches", gin.H{"code": "TOOLONG", "name": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/branches/B02", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var branch models.Branch
	decode(t, w, &branch)
	assert.Equal(t, "Harbour", branch.Name)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/v1/products/P99", nil, false).Code)
	assert.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/products", gin.H{"code": "P02", "name": "Oil"}, true).Code)
	assert.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/documents", gin.H{"code": "DOC3", "description": "Transfer"}, true).Code)

	w = api.do(http.MethodGet, "/api/v1/documents", nil, false)
	var documents []models.Document
	decode(t, w, &documents)
	assert.Len(t, documents, 3)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewNotFoundError("relation", "x"), http.StatusNotFound},
		{models.NewValidationError("f", nil, "bad"), http.StatusBadRequest},
		{models.NewInvalidFilterError("start_date", nil, "bad"), http.StatusBadRequest},
		{&models.ConflictError{Resource: "reconciliation"}, http.StatusConflict},
		{models.NewConfigurationError("states", "missing"), http.StatusInternalServerError},
		{&models.StorageError{Op: "find", Err: io.EOF, Unreachable: true}, http.StatusServiceUnavailable},
		{&models.StorageError{Op: "find", Err: io.EOF}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("splitAndTrim = %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}
