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

	"github.com/gin-gonic/gin"
)

// ReverseTransaction is the manual override for an escalated failure.
//
// Responses:
// - 404 Not Found: no such transaction.
// - 409 Conflict: the transaction is not an escalated failure.
// - 200 OK: the reversed transaction.
func (a Api) ReverseTransaction(c *gin.Context) {
	id, ok := requiredParam(c, "id")
	if !ok {
		return
	}
	txn, err := a.collect.ReverseTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
