/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	model2 "github.com/blnkfinance/collect/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CreateBatchRun composes a draft batch run for the next action date, optionally
// submitting it straight away.
//
// Responses:
// - 400 Bad Request: invalid body.
// - 409 Conflict: a run already exists for the group and action date.
// - 422 Unprocessable Entity: nobody is due, or the group collects individually.
// - 502 Bad Gateway: auto-submit could not reach the gateway; the draft still exists.
// - 201 Created: the composed run.
func (a Api) CreateBatchRun(c *gin.Context) {
	var req model2.CreateBatchRun
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := req.ValidateCreateBatchRun(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	comp, err := a.collect.ComposeBatch(c.Request.Context(), req.ToComposeRequest())
	if err != nil {
		if comp != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "composition": comp})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comp)
}

func (a Api) ListBatchRuns(c *gin.Context) {
	filter, err := ParseRunFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runs, err := a.collect.ListBatchRuns(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (a Api) GetBatchRun(c *gin.Context) {
	id, ok := requiredParam(c, "id")
	if !ok {
		return
	}
	run, err := a.collect.GetBatchRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (a Api) GetBatchRunTransactions(c *gin.Context) {
	id, ok := requiredParam(c, "id")
	if !ok {
		return
	}
	status, err := ParseTransactionStatus(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txns, err := a.collect.GetRunTransactions(c.Request.Context(), id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

// SubmitBatchRun submits a draft run, or resubmits a rejected run or one whose
// previous upload timed out without an answer.
func (a Api) SubmitBatchRun(c *gin.Context) {
	id, ok := requiredParam(c, "id")
	if !ok {
		return
	}
	run, result, err := a.collect.ResubmitBatchRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result != nil && !result.Accepted {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"run": run, "submission": result})
}
