package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skyvault-io/skyvault/internal/errs"
	"github.com/skyvault-io/skyvault/internal/store"
)

// writeError maps the closed errs.Kind taxonomy (and the store's own
// ErrConcurrentRestore) onto HTTP status codes; anything unrecognized
// is a 500 rather than leaking an internal error shape to the caller.
func writeError(c *gin.Context, err error) {
	if _, ok := err.(*store.ErrConcurrentRestore); ok {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	ce, ok := err.(*errs.CoreError)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch ce.Kind {
	case errs.KindAuth:
		status = http.StatusUnauthorized
	case errs.KindForbidden:
		status = http.StatusForbidden
	case errs.KindNotFound, errs.KindSnapshotNotFound, errs.KindVMNotFound:
		status = http.StatusNotFound
	case errs.KindConflict, errs.KindConcurrentRestore, errs.KindSnapshotMismatch:
		status = http.StatusConflict
	case errs.KindConfirmationRequired, errs.KindUnsupportedBootMode, errs.KindSizeRejected:
		status = http.StatusBadRequest
	case errs.KindQuotaInsufficient:
		status = http.StatusUnprocessableEntity
	case errs.KindTimeout:
		status = http.StatusGatewayTimeout
	case errs.KindTransient:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": ce.Message, "kind": string(ce.Kind)})
}
