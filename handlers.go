package main

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/consolidation_backend/config"
	"github.com/mmdatafocus/consolidation_backend/middlewares"
	"github.com/mmdatafocus/consolidation_backend/models"
	"github.com/mmdatafocus/consolidation_backend/models/reports"
	"github.com/mmdatafocus/consolidation_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func (a *App) registerRoutes(api *gin.RouterGroup) {
	requireUser := middlewares.RequireUser()

	rec := api.Group("/reconciliations")
	rec.GET("", a.queryReconciliations)
	rec.GET("/:id", a.getReconciliation)
	rec.GET("/date/:date", a.listByDate)
	rec.GET("/date/:date/state/:code", a.listByDateAndState)
	rec.GET("/date/:date/branch/:branch/product/:product/document/:document", a.getByDateAndRelation)
	rec.GET("/branch/:code", a.listByBranch)
	rec.GET("/product/:code", a.listByProduct)
	rec.GET("/state/:code", a.listByState)
	rec.GET("/mismatched/date/:date", a.listMismatchedByDate)
	rec.POST("", requireUser, a.createReconciliation)
	rec.PUT("/:id", requireUser, a.updateReconciliation)
	rec.PATCH("/:id/state", requireUser, a.updateReconciliationState)
	rec.DELETE("/:id", requireUser, a.deleteReconciliation)

	batch := api.Group("/batch", middlewares.RequireOps())
	batch.POST("/date/:date", a.runBatchForDate)
	batch.POST("/period", a.runBatchForPeriod)
	batch.GET("/period/:year/:month/report.xlsx", a.downloadPeriodReport)

	api.GET("/relations", a.listRelations)
	api.GET("/relations/:branch/:product/:document", a.getRelation)
	api.POST("/relations", requireUser, a.createRelation)
	api.DELETE("/relations/:branch/:product/:document", requireUser, a.deleteRelation)
	api.GET("/states", a.listStates)

	api.GET("/branches", a.listBranches)
	api.GET("/branches/:code", a.getBranch)
	api.POST("/branches", requireUser, a.createBranch)
	api.GET("/products", a.listProducts)
	api.GET("/products/:code", a.getProduct)
	api.POST("/products", requireUser, a.createProduct)
	api.GET("/documents", a.listDocuments)
	api.GET("/documents/:code", a.getDocument)
	api.POST("/documents", requireUser, a.createDocument)
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"status": status < http.StatusBadRequest, "message": message, "data": data})
}

// statusFor maps the typed model errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsConflict(err):
		return http.StatusConflict
	case models.IsConfiguration(err):
		return http.StatusInternalServerError
	case models.IsUnreachable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) writeError(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		config.LogError(a.logger, "handlers.go", funcName, c.Request.URL.Path, nil, err)
		_ = c.Error(err)
	}

	var data interface{}
	var verr *models.ValidationError
	var conflict *models.ConflictError
	switch {
	case errors.As(err, &verr) && verr.Field != "":
		data = gin.H{verr.Field: verr.Message}
	case errors.As(err, &conflict) && conflict.ExistingID != 0:
		data = gin.H{"existing_id": conflict.ExistingID}
	}
	respond(c, status, err.Error(), data)
}

func (a *App) badRequest(c *gin.Context, err error) {
	respond(c, http.StatusBadRequest, "invalid request", utils.ProcessValidationErrors(err))
}

func pathDate(c *gin.Context, name string) (time.Time, error) {
	date, err := utils.ParseDate(c.Param(name))
	if err != nil {
		return time.Time{}, models.NewInvalidArgumentError(name, c.Param(name), "date must be YYYY-MM-DD")
	}
	return date, nil
}

func pathID(c *gin.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, models.NewInvalidArgumentError("id", c.Param("id"), "id must be a positive integer")
	}
	return id, nil
}

func pathState(c *gin.Context) (models.ReconciliationStateCode, error) {
	return models.ParseReconciliationStateCode(c.Param("code"))
}

// reconciliationQuery is the query string form of models.ReconciliationFilter.
type reconciliationQuery struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Branch    string `form:"branch"`
	Product   string `form:"product"`
	Document  string `form:"document"`
	State     string `form:"state"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
}

func (q reconciliationQuery) filter() (models.ReconciliationFilter, error) {
	f := models.ReconciliationFilter{
		BranchCode:   q.Branch,
		ProductCode:  q.Product,
		DocumentCode: q.Document,
		StateCode:    models.ReconciliationStateCode(strings.ToUpper(strings.TrimSpace(q.State))),
	}
	if q.StartDate != "" {
		d, err := utils.ParseDate(q.StartDate)
		if err != nil {
			return f, models.NewInvalidFilterError("start_date", q.StartDate, "date must be YYYY-MM-DD")
		}
		f.StartDate = &d
	}
	if q.EndDate != "" {
		d, err := utils.ParseDate(q.EndDate)
		if err != nil {
			return f, models.NewInvalidFilterError("end_date", q.EndDate, "date must be YYYY-MM-DD")
		}
		f.EndDate = &d
	}
	return f, nil
}

func (a *App) queryReconciliations(c *gin.Context) {
	var q reconciliationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		a.badRequest(c, err)
		return
	}
	filter, err := q.filter()
	if err != nil {
		a.writeError(c, "queryReconciliations", err)
		return
	}
	ctx := c.Request.Context()
	if q.Page > 0 || q.Limit > 0 {
		page, err := a.svc().reconciliation.QueryPage(ctx, filter, models.PageRequest{Page: q.Page, Limit: q.Limit})
		if err != nil {
			a.writeError(c, "queryReconciliations", err)
			return
		}
		respond(c, http.StatusOK, "success", page)
		return
	}
	records, err := a.svc().reconciliation.Query(ctx, filter)
	if err != nil {
		a.writeError(c, "queryReconciliations", err)
		return
	}
	respond(c, http.StatusOK, "success", records)
}

func (a *App) getReconciliation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		a.writeError(c, "getReconciliation", err)
		return
	}
	rec, err := a.svc().reconciliation.GetByID(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, "getReconciliation", err)
		return
	}
	respond(c, http.StatusOK, "success", rec)
}

func (a *App) listByDate(c *gin.Context) {
	date, err := pathDate(c, "date")
	if err != nil {
		a.writeError(c, "listByDate", err)
		return
	}
	a.writeRecords(c, "listByDate")(a.svc().reconciliation.ListByDate(c.Request.Context(), date))
}

func (a *App) listByDateAndState(c *gin.Context) {
	date, err := pathDate(c, "date")
	if err != nil {
		a.writeError(c, "listByDateAndState", err)
		return
	}
	state, err := pathState(c)
	if err != nil {
		a.writeError(c, "listByDateAndState", err)
		return
	}
	a.writeRecords(c, "listByDateAndState")(a.svc().reconciliation.ListByDateAndState(c.Request.Context(), date, state))
}

func (a *App) listMismatchedByDate(c *gin.Context) {
	date, err := pathDate(c, "date")
	if err != nil {
		a.writeError(c, "listMismatchedByDate", err)
		return
	}
	a.writeRecords(c, "listMismatchedByDate")(a.svc().reconciliation.ListMismatchedByDate(c.Request.Context(), date))
}

func (a *App) getByDateAndRelation(c *gin.Context) {
	date, err := pathDate(c, "date")
	if err != nil {
		a.writeError(c, "getByDateAndRelation", err)
		return
	}
	key := models.NewRelationKey(c.Param("branch"), c.Param("product"), c.Param("document"))
	rec, err := a.svc().reconciliation.GetByDateAndRelation(c.Request.Context(), date, key)
	if err != nil {
		a.writeError(c, "getByDateAndRelation", err)
		return
	}
	respond(c, http.StatusOK, "success", rec)
}

func (a *App) listByBranch(c *gin.Context) {
	a.writeRecords(c, "listByBranch")(a.svc().reconciliation.ListByBranch(c.Request.Context(), c.Param("code")))
}

func (a *App) listByProduct(c *gin.Context) {
	a.writeRecords(c, "listByProduct")(a.svc().reconciliation.ListByProduct(c.Request.Context(), c.Param("code")))
}

func (a *App) listByState(c *gin.Context) {
	state, err := pathState(c)
	if err != nil {
		a.writeError(c, "listByState", err)
		return
	}
	a.writeRecords(c, "listByState")(a.svc().reconciliation.ListByState(c.Request.Context(), state))
}

// writeRecords adapts a (records, error) accessor result to a response.
func (a *App) writeRecords(c *gin.Context, funcName string) func([]*models.Reconciliation, error) {
	return func(records []*models.Reconciliation, err error) {
		if err != nil {
			a.writeError(c, funcName, err)
			return
		}
		respond(c, http.StatusOK, "success", records)
	}
}

// reconciliationRequest is the JSON body of create and update.
type reconciliationRequest struct {
	ID                 *int             `json:"id"`
	ReconciliationDate string           `json:"reconciliation_date" binding:"required"`
	BranchCode         string           `json:"branch_code"`
	ProductCode        string           `json:"product_code"`
	DocumentCode       string           `json:"document_code"`
	PhysicalDifference *decimal.Decimal `json:"physical_difference"`
	ValueDifference    *decimal.Decimal `json:"value_difference"`
	StateCode          string           `json:"state_code"`
}

func (r *reconciliationRequest) input() (*models.NewReconciliation, error) {
	date, err := utils.ParseDate(r.ReconciliationDate)
	if err != nil {
		return nil, models.NewValidationError("reconciliation_date", r.ReconciliationDate, "date must be YYYY-MM-DD")
	}
	return &models.NewReconciliation{
		ReconciliationDate: date,
		BranchCode:         r.BranchCode,
		ProductCode:        r.ProductCode,
		DocumentCode:       r.DocumentCode,
		PhysicalDifference: r.PhysicalDifference,
		ValueDifference:    r.ValueDifference,
		StateCode:          models.ReconciliationStateCode(r.StateCode),
	}, nil
}

func (a *App) createReconciliation(c *gin.Context) {
	var req reconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	input, err := req.input()
	if err != nil {
		a.writeError(c, "createReconciliation", err)
		return
	}
	rec, created, err := a.svc().reconciliation.CreateOrGet(c.Request.Context(), input)
	if err != nil {
		a.writeError(c, "createReconciliation", err)
		return
	}
	if !created {
		respond(c, http.StatusOK, "reconciliation already exists", rec)
		return
	}
	respond(c, http.StatusCreated, "created", rec)
}

func (a *App) updateReconciliation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		a.writeError(c, "updateReconciliation", err)
		return
	}
	var req reconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if req.ID != nil && *req.ID != id {
		a.writeError(c, "updateReconciliation",
			models.NewInvalidArgumentError("id", *req.ID, fmt.Sprintf("body id %d does not match path id %d", *req.ID, id)))
		return
	}
	input, err := req.input()
	if err != nil {
		a.writeError(c, "updateReconciliation", err)
		return
	}
	rec, err := a.svc().reconciliation.Update(c.Request.Context(), id, input)
	if err != nil {
		a.writeError(c, "updateReconciliation", err)
		return
	}
	respond(c, http.StatusOK, "updated", rec)
}

type stateRequest struct {
	StateCode string `json:"state_code" binding:"required"`
}

func (a *App) updateReconciliationState(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		a.writeError(c, "updateReconciliationState", err)
		return
	}
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if _, err := a.svc().reconciliation.UpdateState(c.Request.Context(), id, req.StateCode); err != nil {
		a.writeError(c, "updateReconciliationState", err)
		return
	}
	a.logger.WithFields(logrus.Fields{
		"field":      "updateReconciliationState",
		"id":         id,
		"state_code": strings.ToUpper(strings.TrimSpace(req.StateCode)),
		"updated_by": middlewares.ActingUser(c.Request.Context()),
	}).Info("reconciliation state updated")
	rec, err := a.svc().reconciliation.GetByID(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, "updateReconciliationState", err)
		return
	}
	respond(c, http.StatusOK, "updated", rec)
}

func (a *App) deleteReconciliation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		a.writeError(c, "deleteReconciliation", err)
		return
	}
	deleted, err := a.svc().reconciliation.Delete(c.Request.Context(), id)
	if err != nil {
		a.writeError(c, "deleteReconciliation", err)
		return
	}
	if !deleted {
		a.writeError(c, "deleteReconciliation", models.NewNotFoundError("reconciliation", strconv.Itoa(id)))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) runBatchForDate(c *gin.Context) {
	date, err := pathDate(c, "date")
	if err != nil {
		a.writeError(c, "runBatchForDate", err)
		return
	}
	result, err := a.svc().batch.RunBatchForDate(c.Request.Context(), date)
	if err != nil {
		if result != nil {
			// aborted run: the partial result is still reported
			config.LogError(a.logger, "handlers.go", "runBatchForDate", "RunBatchForDate", result.RunId, err)
			respond(c, statusFor(err), err.Error(), result)
			return
		}
		a.writeError(c, "runBatchForDate", err)
		return
	}
	respond(c, http.StatusOK, "batch completed", result)
}

func (a *App) runBatchForPeriod(c *gin.Context) {
	var req models.PeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	result, err := a.svc().batch.RunBatchForPeriod(c.Request.Context(), req.Year, req.Month)
	if err != nil {
		a.writeError(c, "runBatchForPeriod", err)
		return
	}
	respond(c, http.StatusOK, "period snapshot computed", gin.H{
		"result":              result,
		"period":              result.Period(),
		"mismatch_percentage": result.MismatchPercentage(),
		"run_date_time":       result.FormattedRunTime(),
	})
}

func (a *App) downloadPeriodReport(c *gin.Context) {
	year, yerr := strconv.Atoi(c.Param("year"))
	month, merr := strconv.Atoi(c.Param("month"))
	if yerr != nil || merr != nil {
		a.writeError(c, "downloadPeriodReport",
			models.NewInvalidFilterError("period", c.Param("year")+"/"+c.Param("month"), "year and month must be numbers"))
		return
	}
	result, err := a.svc().batch.RunBatchForPeriod(c.Request.Context(), year, month)
	if err != nil {
		a.writeError(c, "downloadPeriodReport", err)
		return
	}
	data, err := reports.BuildBatchReport(result)
	if err != nil {
		a.writeError(c, "downloadPeriodReport", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, path.Base(reports.BatchReportFileName(result))))
	c.Data(http.StatusOK, reports.XlsxMediaType, data)
}

func (a *App) listRelations(c *gin.Context) {
	filter := models.RelationFilter{
		BranchCode:   strings.TrimSpace(c.Query("branch")),
		ProductCode:  strings.TrimSpace(c.Query("product")),
		DocumentCode: strings.TrimSpace(c.Query("document")),
	}
	relations, err := a.svc().reference.ListRelations(c.Request.Context(), filter)
	if err != nil {
		a.writeError(c, "listRelations", err)
		return
	}
	respond(c, http.StatusOK, "success", relations)
}

func (a *App) createRelation(c *gin.Context) {
	var key models.RelationKey
	if err := c.ShouldBindJSON(&key); err != nil {
		a.badRequest(c, err)
		return
	}
	relation, err := a.svc().reference.CreateRelation(c.Request.Context(), key)
	if err != nil {
		a.writeError(c, "createRelation", err)
		return
	}
	respond(c, http.StatusOK, "success", relation)
}

func (a *App) getRelation(c *gin.Context) {
	key := models.NewRelationKey(c.Param("branch"), c.Param("product"), c.Param("document"))
	relation, err := a.svc().reference.GetRelation(c.Request.Context(), key)
	if err != nil {
		a.writeError(c, "getRelation", err)
		return
	}
	respond(c, http.StatusOK, "success", relation)
}

func (a *App) deleteRelation(c *gin.Context) {
	key := models.NewRelationKey(c.Param("branch"), c.Param("product"), c.Param("document"))
	deleted, err := a.svc().reference.DeleteRelation(c.Request.Context(), key)
	if err != nil {
		a.writeError(c, "deleteRelation", err)
		return
	}
	if !deleted {
		a.writeError(c, "deleteRelation", models.NewNotFoundError("relation", key.String()))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) listStates(c *gin.Context) {
	states, err := a.svc().reference.ListStates(c.Request.Context())
	if err != nil {
		a.writeError(c, "listStates", err)
		return
	}
	respond(c, http.StatusOK, "success", states)
}

func (a *App) listBranches(c *gin.Context) {
	branches, err := a.svc().reference.ListBranches(c.Request.Context())
	if err != nil {
		a.writeError(c, "listBranches", err)
		return
	}
	respond(c, http.StatusOK, "success", branches)
}

func (a *App) getBranch(c *gin.Context) {
	branch, err := a.svc().reference.GetBranch(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.writeError(c, "getBranch", err)
		return
	}
	respond(c, http.StatusOK, "success", branch)
}

func (a *App) createBranch(c *gin.Context) {
	var input models.NewBranch
	if err := c.ShouldBindJSON(&input); err != nil {
		a.badRequest(c, err)
		return
	}
	branch, err := a.svc().reference.CreateBranch(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "createBranch", err)
		return
	}
	respond(c, http.StatusCreated, "created", branch)
}

func (a *App) listProducts(c *gin.Context) {
	products, err := a.svc().reference.ListProducts(c.Request.Context())
	if err != nil {
		a.writeError(c, "listProducts", err)
		return
	}
	respond(c, http.StatusOK, "success", products)
}

func (a *App) getProduct(c *gin.Context) {
	product, err := a.svc().reference.GetProduct(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.writeError(c, "getProduct", err)
		return
	}
	respond(c, http.StatusOK, "success", product)
}

func (a *App) createProduct(c *gin.Context) {
	var input models.NewProduct
	if err := c.ShouldBindJSON(&input); err != nil {
		a.badRequest(c, err)
		return
	}
	product, err := a.svc().reference.CreateProduct(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "createProduct", err)
		return
	}
	respond(c, http.StatusCreated, "created", product)
}

func (a *App) listDocuments(c *gin.Context) {
	documents, err := a.svc().reference.ListDocuments(c.Request.Context())
	if err != nil {
		a.writeError(c, "listDocuments", err)
		return
	}
	respond(c, http.StatusOK, "success", documents)
}

func (a *App) getDocument(c *gin.Context) {
	document, err := a.svc().reference.GetDocument(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.writeError(c, "getDocument", err)
		return
	}
	respond(c, http.StatusOK, "success", document)
}

func (a *App) createDocument(c *gin.Context) {
	var input models.NewDocument
	if err := c.ShouldBindJSON(&input); err != nil {
		a.badRequest(c, err)
		return
	}
	document, err := a.svc().reference.CreateDocument(c.Request.Context(), &input)
	if err != nil {
		a.writeError(c, "createDocument", err)
		return
	}
	respond(c, http.StatusCreated, "created", document)
}
