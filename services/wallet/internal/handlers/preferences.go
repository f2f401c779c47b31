package handlers

import (
	"net/http"

	"github.com/AfshinJalili/apiwallet/libs/auth"
	"github.com/gin-gonic/gin"
)

type securityNoticeRequest struct {
	Dismissed *bool `json:"dismissed"`
}

type securityNoticeResponse struct {
	Dismissed bool `json:"dismissed"`
}

func (h *Handler) GetSecurityNotice(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	dismissed, err := h.Prefs.SecurityNoticeDismissed(c.Request.Context(), accountID)
	if err != nil {
		h.Logger.Error("read security notice preference failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, securityNoticeResponse{Dismissed: dismissed})
}

func (h *Handler) SetSecurityNotice(c *gin.Context) {
	accountID, ok := auth.AccountID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil, nil)
		return
	}
	var req securityNoticeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Dismissed == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "dismissed is required", nil, nil)
		return
	}
	if err := h.Prefs.SetSecurityNoticeDismissed(c.Request.Context(), accountID, *req.Dismissed); err != nil {
		h.Logger.Error("write security notice preference failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil, nil)
		return
	}
	c.JSON(http.StatusOK, securityNoticeResponse{Dismissed: *req.Dismissed})
}
