package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// CommentHandler handles the discussion thread attached to a request.
// Internal comments are only visible to privileged roles.
type CommentHandler struct {
	db *gorm.DB
}

func NewCommentHandler(db *gorm.DB) *CommentHandler {
	return &CommentHandler{db: db}
}

type createCommentReq struct {
	Body       string `json:"body"`
	IsInternal bool   `json:"is_internal"`
}

// ListComments returns the comments on a request
// GET /api/v1/requests/{id}/comments
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	requestID, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	request, err := h.loadRequest(requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	query := h.db.Where("request_id = ?", requestID)
	if !Can(actor, request.RequesterID, CapViewInternal) {
		query = query.Where("is_internal = ?", false)
	}

	var comments []models.RequestComment
	if err := query.Order("created_at ASC").Find(&comments).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to fetch comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// CreateComment adds a comment to a request
// POST /api/v1/requests/{id}/comments
func (h *CommentHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	requestID, err := requestIDFromPath(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req createCommentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" {
		writeJSONError(w, http.StatusBadRequest, "comment body is required")
		return
	}

	request, err := h.loadRequest(requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.IsInternal && !Can(actor, request.RequesterID, CapViewInternal) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "internal comments require a privileged role"})
		return
	}

	comment := models.RequestComment{
		RequestID:  requestID,
		AuthorID:   actor.ID,
		Body:       req.Body,
		IsInternal: req.IsInternal,
	}
	if err := h.db.Create(&comment).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// UpdateComment edits a comment's body. Only the author may edit.
// PATCH /api/v1/requests/{id}/comments/{commentId}
func (h *CommentHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	commentID, err := uuid.Parse(mux.Vars(r)["commentId"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid comment id")
		return
	}

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Body == "" {
		writeJSONError(w, http.StatusBadRequest, "comment body is required")
		return
	}

	var comment models.RequestComment
	if err := h.db.First(&comment, "id = ?", commentID).Error; err != nil {
		writeDomainError(w, &NotFoundError{Entity: "comment", ID: commentID.String()})
		return
	}
	if comment.AuthorID != actor.ID {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "only the author can edit a comment"})
		return
	}

	if err := h.db.Model(&comment).Update("body", req.Body).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to update comment")
		return
	}
	comment.Body = req.Body
	writeJSON(w, http.StatusOK, comment)
}

// DeleteComment removes a comment. Authors may delete their own comments,
// moderators may delete any.
// DELETE /api/v1/requests/{id}/comments/{commentId}
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	commentID, err := uuid.Parse(mux.Vars(r)["commentId"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid comment id")
		return
	}

	var comment models.RequestComment
	if err := h.db.First(&comment, "id = ?", commentID).Error; err != nil {
		writeDomainError(w, &NotFoundError{Entity: "comment", ID: commentID.String()})
		return
	}
	if comment.AuthorID != actor.ID && !Can(actor, comment.AuthorID, CapModerate) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "only the author or a moderator can delete a comment"})
		return
	}

	if err := h.db.Delete(&comment).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete comment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "comment deleted"})
}

func (h *CommentHandler) loadRequest(id uuid.UUID) (*models.MaterialRequest, error) {
	var request models.MaterialRequest
	if err := h.db.First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Entity: "material request", ID: id.String()}
		}
		return nil, err
	}
	return &request, nil
}
