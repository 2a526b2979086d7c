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

// StatusCallback accepts pushed settlement outcomes from the gateway. Every entry is
// validated before any is delivered.
//
// Responses:
// - 400 Bad Request: invalid body or entry.
// - 202 Accepted: the number of updates delivered for reconciliation.
func (a Api) StatusCallback(c *gin.Context) {
	var req model2.StatusCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := req.ValidateStatusCallback(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	delivered, err := a.collect.IngestStatusNotification(c.Request.Context(), req.ToStatusUpdates())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
}

func (a Api) ListEscalations(c *gin.Context) {
	limit, offset := ParsePagination(c)
	escalations, err := a.collect.ListEscalations(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, escalations)
}

func (a Api) ListReconciliationExceptions(c *gin.Context) {
	limit, offset := ParsePagination(c)
	exceptions, err := a.collect.ListReconciliationExceptions(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exceptions)
}
