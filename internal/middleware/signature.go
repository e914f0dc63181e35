package middleware

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/pos-sync/pkg/errors"
	"github.com/jwalitptl/pos-sync/pkg/httputil"
	"github.com/jwalitptl/pos-sync/pkg/signature"
)

// ContextRawBody holds the verified request bytes. Handlers decode from it
// instead of the consumed request body.
const ContextRawBody = "raw_body"

// Signature verifies the webhook signature over the exact bytes received.
// The body is read once here, before any parsing.
func Signature(secret string, maxBody int64) gin.HandlerFunc {
	if maxBody <= 0 {
		maxBody = DefaultSizeLimitConfig().MaxBodySize
	}
	return func(c *gin.Context) {
		if secret == "" {
			httputil.RespondWithError(c, apperrors.Configuration("webhook secret not configured"))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					httputil.RespondWithStatus(c, http.StatusRequestEntityTooLarge, apperrors.ReasonPayloadTooLarge, "request body too large")
					return
				}
				httputil.RespondWithError(c, apperrors.BadRequest("failed to read request body", err))
				return
			}
		}

		if err := signature.Verify(body, c.GetHeader(signature.Header), secret); err != nil {
			httputil.RespondWithError(c, signatureError(err))
			return
		}

		c.Set(ContextRawBody, body)
		c.Next()
	}
}

// RawBody returns the bytes stored by Signature.
func RawBody(c *gin.Context) []byte {
	if v, ok := c.Get(ContextRawBody); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

func signatureError(err error) error {
	switch {
	case errors.Is(err, signature.ErrMissingSignature):
		return apperrors.Unauthorized(apperrors.ReasonMissingSignature, "missing signature", err)
	case errors.Is(err, signature.ErrMissingSecret):
		return apperrors.Configuration("webhook secret not configured")
	default:
		return apperrors.Unauthorized(apperrors.ReasonInvalidSignature, "invalid signature", err)
	}
}
