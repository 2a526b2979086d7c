package api

import (
	"net/http"

	"github.com/blnkfinance/collect/model"
	"github.com/gin-gonic/gin"
)

func (a Api) listTransactions(c *gin.Context, filter model.TransactionFilter) {
	status, err := ParseTransactionStatus(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Status = status
	filter.Limit, filter.Offset = ParsePagination(c)

	txns, err := a.collect.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (a Api) GetGroupTransactions(c *gin.Context) {
	id, ok := requiredParam(c, "id")
	if !ok {
		return
	}
	a.listTransactions(c, model.TransactionFilter{GroupID: id})
}

func (a Api) GetMemberTransactions(c *gin.Context) {
	reference, ok := requiredParam(c, "reference")
	if !ok {
		return
	}
	a.listTransactions(c, model.TransactionFilter{MemberReference: reference})
}

func (a Api) GetMemberArrears(c *gin.Context) {
	reference, ok := requiredParam(c, "reference")
	if !ok {
		return
	}
	arrears, err := a.collect.GetMemberArrears(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, arrears)
}

// GetArrearsSummary totals arrears, for one group when ?group_id= is given.
func (a Api) GetArrearsSummary(c *gin.Context) {
	summary, err := a.collect.GetArrearsSummary(c.Request.Context(), c.Query("group_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
