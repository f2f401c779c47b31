package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/apiwallet/libs/address"
	"github.com/AfshinJalili/apiwallet/libs/auth"
	"github.com/AfshinJalili/apiwallet/libs/httpmiddleware"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/lifecycle"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/prefs"
	"github.com/AfshinJalili/apiwallet/services/wallet/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"log/slog"
)

type WalletService interface {
	GenerateDraft(ctx context.Context, input service.GenerateInput) (lifecycle.Wallet, error)
	UpdateDraft(ctx context.Context, input service.UpdateDraftInput) (lifecycle.Wallet, error)
	Draft(ctx context.Context, accountID uuid.UUID) (lifecycle.Wallet, error)
	DiscardDraft(ctx context.Context, accountID uuid.UUID) error
	Authorize(ctx context.Context, input service.AuthorizeInput) (*service.AuthorizeResult, error)
	Revoke(ctx context.Context, input service.RevokeInput) (*service.RevokeResult, error)
	Overview(ctx context.Context, accountID uuid.UUID) (*service.Overview, error)
	Quota(ctx context.Context, accountID uuid.UUID) (lifecycle.Quota, error)
}

type Handler struct {
	Service WalletService
	Prefs   prefs.Store
	Logger  *slog.Logger
}

type generateRequest struct {
	Name *string `json:"name"`
}

type updateDraftRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

type authorizeRequest struct {
	DraftID      string `json:"draft_id"`
	ValidForDays *int   `json:"valid_for_days"`
	Subaccount   string `json:"subaccount"`
}

type walletItem struct {
	ID              string  `json:"id,omitempty"`
	DraftID         string  `json:"draft_id"`
	Name            string  `json:"name"`
	DisplayName     string  `json:"display_name"`
	Address         string  `json:"address"`
	ChecksumAddress string  `json:"checksum_address"`
	Subaccount      string  `json:"subaccount,omitempty"`
	Status          string  `json:"status"`
	ValidUntil      *string `json:"valid_until,omitempty"`
	ValidUntilLabel string  `json:"valid_until_label"`
	AuthorizedAt    string  `json:"authorized_at,omitempty"`
	RevokedAt       *string `json:"revoked_at,omitempty"`
}

type authorizeResponse struct {
	Wallet    walletItem `json:"wallet"`
	Existing  bool       `json:"existing"`
	Persisted bool       `json:"persisted"`
}

type revokeResponse struct {
	Wallet    walletItem `json:"wallet"`
	Persisted bool       `json:"persisted"`
}

type usageItem struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

type subaccountUsageItem struct {
	Subaccount string `json:"subaccount"`
	usageItem
}

type quotaResponse struct {
	Unnamed     usageItem             `json:"unnamed"`
	Named       usageItem             `json:"named"`
	Subaccounts []subaccountUsageItem `json:"subaccounts"`
}

type listResponse struct {
	Wallets  []walletItem  `json:"wallets"`
	Draft    *walletItem   `json:"draft,omitempty"`
	Empty    bool          `json:"empty"`
	Step     int           `json:"step"`
	StepName string        `json:"step_name"`
	Quota    quotaResponse `json:"quota"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []fieldError      `json:"fields,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func New(svc WalletService, prefStore prefs.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Prefs: prefStore, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.POST("/api-wallets/draft", h.GenerateDraft)
	group.GET("/api-wallets/draft", h.GetDraft)
	group.PATCH("/api-wallets/draft", h.UpdateDraft)
	group.DELETE("/api-wallets/draft", h.DiscardDraft)
	group.POST("/api-wallets/authorize", h.Authorize)
	group.GET("/api-wallets", h.ListWallets)
	group.GET("/api-wallets/quota", h.Quota)
	group.DELETE("/api-wallets/:id", h.Revoke)
	group.GET("/preferences/security-notice", h.GetSecurityNotice)
	group.PUT("/preferences/security-notice", h.SetSecurityNotice)
}

func (h *Handler) GenerateDraft(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}

	draft, err := h.Service.GenerateDraft(c.Request.Context(), service.GenerateInput{AccountID: accountID, Name: req.Name})
	if err != nil {
		h.handleError(c, "generate wallet failed", err)
		return
	}
	c.JSON(http.StatusCreated, toWalletItem(draft))
}

func (h *Handler) GetDraft(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	draft, err := h.Service.Draft(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, "get draft failed", err)
		return
	}
	c.JSON(http.StatusOK, toWalletItem(draft))
}

func (h *Handler) UpdateDraft(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req updateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}
	if req.Name == nil && req.Address == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "name or address required", nil, nil)
		return
	}

	draft, err := h.Service.UpdateDraft(c.Request.Context(), service.UpdateDraftInput{
		AccountID: accountID,
		Name:      req.Name,
		Address:   req.Address,
	})
	if err != nil {
		h.handleError(c, "update draft failed", err)
		return
	}
	c.JSON(http.StatusOK, toWalletItem(draft))
}

func (h *Handler) DiscardDraft(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	if err := h.Service.DiscardDraft(c.Request.Context(), accountID); err != nil {
		h.handleError(c, "discard draft failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Authorize(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}

	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil, nil)
		return
	}
	draftID, err := parseUUIDParam(req.DraftID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid draft_id", []fieldError{{Field: "draft_id", Message: "must be a UUID"}}, nil)
		return
	}

	result, err := h.Service.Authorize(c.Request.Context(), service.AuthorizeInput{
		AccountID:     accountID,
		DraftID:       draftID,
		ValidForDays:  req.ValidForDays,
		Subaccount:    strings.TrimSpace(req.Subaccount),
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: httpmiddleware.RequestIDFromContext(c),
	})
	if err != nil {
		h.handleError(c, "authorize wallet failed", err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, authorizeResponse{
		Wallet:    toWalletItem(result.Wallet),
		Existing:  result.Existing,
		Persisted: result.Persisted,
	})
}

func (h *Handler) Revoke(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	walletID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid wallet id", nil, nil)
		return
	}

	result, err := h.Service.Revoke(c.Request.Context(), service.RevokeInput{
		AccountID:     accountID,
		WalletID:      walletID,
		IP:            c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: httpmiddleware.RequestIDFromContext(c),
	})
	if err != nil {
		h.handleError(c, "revoke wallet failed", err)
		return
	}
	c.JSON(http.StatusOK, revokeResponse{Wallet: toWalletItem(result.Wallet), Persisted: result.Persisted})
}

func (h *Handler) ListWallets(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	overview, err := h.Service.Overview(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, "list wallets failed", err)
		return
	}

	items := make([]walletItem, 0, len(overview.Wallets))
	for _, w := range overview.Wallets {
		items = append(items, toWalletItem(w))
	}
	resp := listResponse{
		Wallets:  items,
		Empty:    overview.Empty,
		Step:     int(overview.Step),
		StepName: overview.Step.String(),
		Quota:    toQuotaResponse(overview.Quota),
	}
	if overview.Draft != nil {
		draft := toWalletItem(*overview.Draft)
		resp.Draft = &draft
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Quota(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	q, err := h.Service.Quota(c.Request.Context(), accountID)
	if err != nil {
		h.handleError(c, "get quota failed", err)
		return
	}
	c.JSON(http.StatusOK, toQuotaResponse(q))
}

func (h *Handler) handleError(c *gin.Context, logMsg string, err error) {
	var verr *lifecycle.ValidationError
	var qerr *lifecycle.QuotaExceededError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", verr.Error(), []fieldError{{Field: verr.Field, Message: verr.Message}}, nil)
	case errors.As(err, &qerr):
		writeError(c, http.StatusConflict, "QUOTA_EXCEEDED", "wallet quota exceeded", nil, map[string]string{
			"class": qerr.Class,
			"used":  strconv.Itoa(qerr.Used),
			"limit": strconv.Itoa(qerr.Limit),
		})
	case errors.Is(err, lifecycle.ErrDuplicateAddress):
		writeError(c, http.StatusConflict, "DUPLICATE_ADDRESS", "address already belongs to an authorized wallet", nil, nil)
	case errors.Is(err, lifecycle.ErrNoDraft):
		writeError(c, http.StatusNotFound, "DRAFT_NOT_FOUND", "no draft wallet", nil, nil)
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(c, http.StatusNotFound, "WALLET_NOT_FOUND", "wallet not found", nil, nil)
	default:
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
	}
}

func toWalletItem(w lifecycle.Wallet) walletItem {
	item := walletItem{
		DraftID:         w.DraftID.String(),
		Name:            w.Name,
		DisplayName:     w.DisplayName(),
		Address:         w.Address,
		ChecksumAddress: address.Checksum(w.Address),
		Subaccount:      w.Subaccount,
		Status:          string(w.Status),
		ValidUntilLabel: w.ValidUntilLabel(),
	}
	if w.ID != uuid.Nil {
		item.ID = w.ID.String()
	}
	if w.ValidUntil != nil {
		v := w.ValidUntil.UTC().Format(time.RFC3339)
		item.ValidUntil = &v
	}
	if !w.AuthorizedAt.IsZero() {
		item.AuthorizedAt = w.AuthorizedAt.UTC().Format(time.RFC3339)
	}
	if w.RevokedAt != nil {
		v := w.RevokedAt.UTC().Format(time.RFC3339)
		item.RevokedAt = &v
	}
	return item
}

func toUsageItem(u lifecycle.Usage) usageItem {
	return usageItem{Used: u.Used, Limit: u.Limit, Available: u.Available()}
}

func toQuotaResponse(q lifecycle.Quota) quotaResponse {
	resp := quotaResponse{
		Unnamed:     toUsageItem(q.Unnamed),
		Named:       toUsageItem(q.Named),
		Subaccounts: make([]subaccountUsageItem, 0, len(q.Subaccounts)),
	}
	for _, s := range q.Subaccounts {
		resp.Subaccounts = append(resp.Subaccounts, subaccountUsageItem{Subaccount: s.Subaccount, usageItem: toUsageItem(s.Usage)})
	}
	return resp
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []fieldError, details map[string]string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Fields:  fields,
		Details: details,
	})
}
