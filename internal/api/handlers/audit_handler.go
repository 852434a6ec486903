package handlers

import (
	"net/http"
	"strconv"

	"algoedge/internal/api/middleware"
	"algoedge/internal/models"
	"algoedge/internal/service"
	"algoedge/pkg/utils"
)

// AuditLogsResponse - журнал аудита пользователя
type AuditLogsResponse struct {
	Entries []*models.AuditLog `json:"entries"`
	Total   int                `json:"total"`
}

// AuditHandler отдаёт пользователю его журнал аудита
type AuditHandler struct {
	auditService service.AuditServiceInterface
}

// NewAuditHandler создает новый AuditHandler
func NewAuditHandler(auditService service.AuditServiceInterface) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// GetAuditLogs возвращает последние записи журнала
// GET /api/v1/audit-logs?limit=50
//
// limit по умолчанию 50, не больше 200.
func (h *AuditHandler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.auditService.ListForUser(r.Context(), userID, limit)
	if err != nil {
		utils.L().Error("list audit logs failed",
			utils.UserID(userID),
			utils.RequestID(middleware.RequestIDFromContext(r.Context())),
			utils.Err(err),
		)
		respondWithError(w, http.StatusInternalServerError, "Failed to get audit logs", nil)
		return
	}

	if entries == nil {
		entries = []*models.AuditLog{}
	}
	respondWithJSON(w, http.StatusOK, AuditLogsResponse{Entries: entries, Total: len(entries)})
}
