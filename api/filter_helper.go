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
	"fmt"
	"strconv"

	"github.com/blnkfinance/collect/model"
	"github.com/gin-gonic/gin"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ParsePagination reads limit and offset from the query string.
// Limits outside 1..100 fall back to 20 and negative offsets to 0.
func ParsePagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ParseTransactionStatus reads the optional status filter.
func ParseTransactionStatus(c *gin.Context) (model.TransactionStatus, error) {
	raw := c.Query("status")
	if raw == "" {
		return "", nil
	}
	status := model.TransactionStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown transaction status '%s'", raw)
	}
	return status, nil
}

// ParseRunFilter reads the batch run listing filters.
func ParseRunFilter(c *gin.Context) (model.RunFilter, error) {
	limit, offset := ParsePagination(c)
	filter := model.RunFilter{GroupID: c.Query("group_id"), Limit: limit, Offset: offset}
	if raw := c.Query("status"); raw != "" {
		filter.Status = model.RunStatus(raw)
		if !filter.Status.Valid() {
			return filter, fmt.Errorf("unknown batch run status '%s'", raw)
		}
	}
	return filter, nil
}
