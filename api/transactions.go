package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/tumapay/tuma/api/model"
	"github.com/tumapay/tuma/internal/apierror"
	"github.com/tumapay/tuma/model"
)

// CreateTransaction records a new payment or payout. The transaction is
// created pending; money only moves when a later transition completes it.
func (a Api) CreateTransaction(c *gin.Context) {
	var newTransaction model2.CreateTransaction
	if err := c.ShouldBindJSON(&newTransaction); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newTransaction.ValidateCreateTransaction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.tuma.CreateTransaction(c.Request.Context(), newTransaction.ToTransaction())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// TransitionTransaction moves a pending transaction into a terminal status.
func (a Api) TransitionTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.TransitionTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateTransitionTransaction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.tuma.Transition(c.Request.Context(), id, req.Status, req.Actor, req.Reason, req.MetaData)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetTransaction retrieves a transaction by its ID.
func (a Api) GetTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tuma.GetTransaction(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAllTransactions retrieves transactions, newest first. An optional
// ?status= query narrows the listing to one status.
func (a Api) GetAllTransactions(c *gin.Context) {
	limit, offset := paginationParams(c)

	status := c.Query("status")
	if status != "" && status != model.StatusPending && !model.TerminalStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status '%s'", status)})
		return
	}

	resp, err := a.tuma.ListTransactions(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetStatusHistory retrieves the append-only status history of a transaction.
func (a Api) GetStatusHistory(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.tuma.ListStatusHistory(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func paginationParams(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
