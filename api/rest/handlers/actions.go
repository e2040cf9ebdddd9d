package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailstack/internal/enum"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/orchestrator"
	"github.com/customeros/mailstack/interfaces"
)

// actionResponse is the body returned by every endpoint that submits a
// request to the orchestrator: the process-unique action id a client
// correlates against the events stream (spec.md §4.4, §6).
type actionResponse struct {
	ActionID uint64 `json:"actionId"`
}

func parseActionID(raw string) (interfaces.ActionId, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return interfaces.ActionId(n), nil
}

// RetrieveFolderList submits a retrieveFolderList action for the account.
func RetrieveFolderList(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := models.AccountId(c.Param("accountId"))
		id, err := o.RetrieveFolderList(c.Request.Context(), account)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, actionResponse{ActionID: uint64(id)})
	}
}

type retrieveMessageListRequest struct {
	Folder string `json:"folder" binding:"required"`
}

// RetrieveMessageList submits a retrieveMessageList action for one folder.
func RetrieveMessageList(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := models.AccountId(c.Param("accountId"))
		var req retrieveMessageListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := o.RetrieveMessageList(c.Request.Context(), account, models.FolderId(req.Folder))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, actionResponse{ActionID: uint64(id)})
	}
}

type synchronizeRequest struct {
	Folder string `json:"folder" binding:"required"`
}

// Synchronize submits a synchronize action for one folder (spec.md §4.3.5).
func Synchronize(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := models.AccountId(c.Param("accountId"))
		var req synchronizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := o.Synchronize(c.Request.Context(), account, models.FolderId(req.Folder))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, actionResponse{ActionID: uint64(id)})
	}
}

type transmitMessagesRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}

// TransmitMessages submits a transmitMessages action (spec.md §4.4
// precondition chaining: chained behind a preparatory retrieveFolderList on
// the same account).
func TransmitMessages(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := models.AccountId(c.Param("accountId"))
		var req transmitMessagesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ids := make([]models.MessageId, len(req.MessageIDs))
		for i, raw := range req.MessageIDs {
			ids[i] = models.MessageId(raw)
		}
		id, err := o.TransmitMessages(c.Request.Context(), account, ids)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, actionResponse{ActionID: uint64(id)})
	}
}

type flagMessagesRequest struct {
	MessageIDs []string  `json:"messageIds" binding:"required"`
	Bit        uint32    `json:"bit" binding:"required"`
	Value      bool      `json:"value"`
}

// FlagMessages submits a flagMessages action (spec.md §4.3.8).
func FlagMessages(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := models.AccountId(c.Param("accountId"))
		var req flagMessagesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ids := make([]models.MessageId, len(req.MessageIDs))
		for i, raw := range req.MessageIDs {
			ids[i] = models.MessageId(raw)
		}
		id, err := o.FlagMessages(c.Request.Context(), account, ids, enum.StatusBit(req.Bit), req.Value)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, actionResponse{ActionID: uint64(id)})
	}
}

// CancelAction cancels a previously submitted action (spec.md §5
// "cancellation is cooperative").
func CancelAction(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseActionID(c.Param("actionId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := o.CancelTransfer(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
