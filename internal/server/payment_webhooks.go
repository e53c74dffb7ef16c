package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	paymentdomain "github.com/Jumanazarov-Shukrullo/songcraft-backend/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

// HandlePaymentWebhook answers 2xx for anything the processor handled,
// including duplicates and events it chose to ignore; providers retry on
// anything else.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.IngestWebhook(c.Request.Context(), provider, c.Request.Header, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) || errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
