package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"webphone-platform/internal/audit"
	"webphone-platform/internal/auth"
	"webphone-platform/internal/billing"
	"webphone-platform/internal/credential"
	"webphone-platform/internal/history"
	"webphone-platform/internal/provider"
	"webphone-platform/internal/reconcile"
	"webphone-platform/internal/router"
	"webphone-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handlers holds the wired services behind the HTTP surface. Handlers stay
// thin: parse, delegate, map errors.
type Handlers struct {
	Credentials *credential.Issuer
	Router      *router.Service
	Reconciler  *reconcile.Service
	History     *history.Service
	Billing     *billing.Service
	Audit       *audit.Service
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

func identity(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		writeError(c, http.StatusUnauthorized, "unauthorized", "missing identity")
		return "", false
	}
	return uid, true
}

// IssueCredential hands the client a short-lived calling credential.
func (h *Handlers) IssueCredential(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	cred, err := h.Credentials.Issue(uid)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal", "credential issuance failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     cred.Token,
		"expiresAt": cred.ExpiresAt,
	})
}

type placeRequest struct {
	Destination string `json:"destination"`
	CallerID    string `json:"callerId"`
}

// PlaceCall starts an outbound call on the user's behalf.
func (h *Handlers) PlaceCall(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req placeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	res, err := h.Router.Place(c.Request.Context(), uid, req.Destination, req.CallerID)
	if err != nil {
		switch {
		case errors.Is(err, router.ErrInvalidDestination):
			writeError(c, http.StatusBadRequest, "invalid_destination", "destination is not dialable")
		case errors.Is(err, router.ErrInsufficientBalance):
			writeError(c, http.StatusPaymentRequired, "insufficient_balance", "balance is empty")
		case errors.Is(err, router.ErrCallInProgress):
			writeError(c, http.StatusConflict, "call_in_progress", "another call is already in progress")
		default:
			logger.FromGin(c).Error("place call failed", "err", err)
			writeError(c, http.StatusInternalServerError, "internal", "call placement failed")
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

type acceptQueuedRequest struct {
	ExternalSessionID string `json:"externalSessionId"`
}

// AcceptQueued exchanges a pending inbound offer for a queue token.
func (h *Handlers) AcceptQueued(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req acceptQueuedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ExternalSessionID == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "externalSessionId required")
		return
	}

	token, err := h.Router.AcceptQueued(c.Request.Context(), uid, req.ExternalSessionID)
	if err != nil {
		if errors.Is(err, router.ErrUnknownCall) {
			writeError(c, http.StatusNotFound, "unknown_call", "no pending call for that session")
			return
		}
		logger.FromGin(c).Error("accept queued failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "accept failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"queueToken": token})
}

type clientSaveRequest struct {
	ExternalSessionID string `json:"externalSessionId"`
	Destination       string `json:"destination"`
	Status            string `json:"status"`
	DurationSeconds   int    `json:"duration"`
}

// ClientSave accepts the client's best-effort summary of a finished call.
// The webhook reconciler remains authoritative; a summary for a record it
// already closed is acknowledged and dropped.
func (h *Handlers) ClientSave(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	var req clientSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	rec, err := h.Reconciler.ApplyClientSummary(c.Request.Context(), uid, reconcile.ClientSummary{
		ExternalSessionID: req.ExternalSessionID,
		Destination:       req.Destination,
		Status:            req.Status,
		DurationSeconds:   req.DurationSeconds,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidSummary) {
			writeError(c, http.StatusBadRequest, "invalid_summary", "summary rejected")
			return
		}
		logger.FromGin(c).Error("client save failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "save failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"externalSessionId": rec.ExternalSessionID,
		"status":            rec.Status,
		"cost":              rec.Cost.String(),
	})
}

// ListHistory returns the user's recent calls.
func (h *Handlers) ListHistory(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.History.ListRecent(c.Request.Context(), uid, limit)
	if err != nil {
		logger.FromGin(c).Error("history list failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "history unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}

// ListAuditEvents returns recent reconciliation and billing audit events.
func (h *Handlers) ListAuditEvents(c *gin.Context) {
	if _, ok := identity(c); !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("audit list failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "audit unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// CallsSummary aggregates the user's recent calls.
func (h *Handlers) CallsSummary(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	sum, err := h.History.Summarize(c.Request.Context(), uid)
	if err != nil {
		logger.FromGin(c).Error("summary failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "summary unavailable")
		return
	}
	c.JSON(http.StatusOK, sum)
}

// GetBalance returns the user's prepaid balance. A user with no balance row
// yet reads as zero.
func (h *Handlers) GetBalance(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	bal, err := h.Billing.GetBalance(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"currency": "USD", "amount": "0"})
			return
		}
		logger.FromGin(c).Error("balance read failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "balance unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": bal.Currency, "amount": bal.Amount.String()})
}

type topUpRequest struct {
	Amount string `json:"amount"`
}

// TopUp credits the user's balance. The Idempotency-Key header guards
// against double submission.
func (h *Handlers) TopUp(c *gin.Context) {
	uid, ok := identity(c)
	if !ok {
		return
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "Idempotency-Key header required")
		return
	}
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(c, http.StatusBadRequest, "bad_request", "amount must be a positive decimal")
		return
	}

	bal, err := h.Billing.TopUp(c.Request.Context(), uid, key, amount)
	if err != nil {
		logger.FromGin(c).Error("topup failed", "err", err)
		writeError(c, http.StatusInternalServerError, "internal", "topup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": bal.Currency, "amount": bal.Amount.String()})
}

// StatusCallback ingests provider status webhooks. It acknowledges
// unconditionally; conflicts are logged server-side and must not trigger
// provider retries.
func (h *Handlers) StatusCallback(c *gin.Context) {
	form, err := provider.ParseStatusCallback(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("malformed status callback", "err", err)
		c.String(http.StatusOK, "")
		return
	}
	if err := h.Reconciler.Process(c.Request.Context(), form); err != nil {
		logger.FromGin(c).Error("reconciliation failed", "external_session_id", form.CallSID, "err", err)
	}
	c.String(http.StatusOK, "")
}

// OutboundVoice answers the provider's voice request for a client-initiated
// call and returns the call-control document.
func (h *Handlers) OutboundVoice(c *gin.Context) {
	uid := clientUserID(c.PostForm("From"))
	if uid == "" {
		renderControl(c, provider.CallControl{Action: provider.CallControlReject})
		return
	}

	doc, err := h.Router.VoiceDocument(c.Request.Context(), uid, c.PostForm("CallSid"), c.PostForm)
	if err != nil {
		logger.FromGin(c).Warn("voice document failed", "user_id", uid, "err", err)
		renderControl(c, provider.CallControl{
			Action:  provider.CallControlSayHangup,
			Message: "Your call cannot be completed as dialed.",
		})
		return
	}
	renderControl(c, doc)
}

// InboundVoice handles calls arriving on platform numbers.
func (h *Handlers) InboundVoice(c *gin.Context) {
	doc, err := h.Router.HandleInbound(c.Request.Context(),
		c.PostForm("CallSid"), c.PostForm("From"), c.PostForm("To"))
	if err != nil {
		logger.FromGin(c).Error("inbound handling failed", "err", err)
		renderControl(c, provider.CallControl{
			Action:  provider.CallControlSayHangup,
			Message: "We are unable to take your call right now.",
		})
		return
	}
	renderControl(c, doc)
}

func renderControl(c *gin.Context, doc provider.CallControl) {
	body, err := provider.RenderCallControl(doc)
	if err != nil {
		logger.FromGin(c).Error("call control render failed", "err", err)
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(body))
}

// clientUserID extracts the platform user id from a provider client
// identity of the form "client:user-<id>".
func clientUserID(from string) string {
	const prefix = "client:user-"
	if strings.HasPrefix(from, prefix) {
		return strings.TrimPrefix(from, prefix)
	}
	return ""
}
