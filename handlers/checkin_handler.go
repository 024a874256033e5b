package handlers

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-pipeline/monitoring"
	"ticket-pipeline/services"
	"ticket-pipeline/utils"
)

type CheckinHandler struct {
	checkinService *services.CheckinService
}

func NewCheckinHandler(checkinService *services.CheckinService) *CheckinHandler {
	return &CheckinHandler{checkinService: checkinService}
}

type ValidateRequest struct {
	Token     string `json:"token"`
	GateID    string `json:"gate_id"`
	ScannerID string `json:"scanner_id"`
	RequestID string `json:"request_id"`
}

type ValidateResponse struct {
	Result   string `json:"result"` // admit or deny
	Reason   string `json:"reason,omitempty"`
	TicketID string `json:"ticket_id,omitempty"`
	Echo     bool   `json:"echo,omitempty"`
}

// Validate - resolve a gate scan
func (h *CheckinHandler) Validate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token is required"})
	}

	// Scanners without request id support get a deterministic fallback, so
	// their network retries within the echo window still replay the
	// original result.
	if req.RequestID == "" {
		req.RequestID = fallbackRequestID(req.Token, req.ScannerID)
	}

	result, err := h.checkinService.Validate(c.Request().Context(), req.Token, req.GateID, req.ScannerID, req.RequestID)
	if err != nil {
		log.Printf("Scan validation error at gate %s: %v", req.GateID, err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Validation unavailable"})
	}

	resp := ValidateResponse{TicketID: result.TicketID, Echo: result.Echo}
	if result.Admit {
		resp.Result = "admit"
		if result.Echo {
			monitoring.TrackScan("admit_echo")
		} else {
			monitoring.TrackScan("admit")
		}
	} else {
		resp.Result = "deny"
		resp.Reason = string(result.Reason)
		monitoring.TrackScan(string(result.Reason))
	}

	return c.JSON(http.StatusOK, resp)
}

// fallbackRequestID derives a stable id from the presented token and
// scanner, so re-presentations of the same token collapse onto one echo key.
func fallbackRequestID(token, scannerID string) string {
	return utils.Hmac256([]byte(token), []byte(scannerID))[:16]
}
