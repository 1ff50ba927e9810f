package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"p9e.in/incubator/middleware"
	"p9e.in/incubator/models"
)

// AuthHandler handles registration, login and user lookup.
type AuthHandler struct {
	db *gorm.DB
}

func NewAuthHandler(db *gorm.DB) *AuthHandler {
	return &AuthHandler{db: db}
}

type registerReq struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     string     `json:"role"`
	TeamID   *uuid.UUID `json:"team_id"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID     uuid.UUID  `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Role   string     `json:"role"`
	TeamID *uuid.UUID `json:"team_id,omitempty"`
}

type loginResp struct {
	Token string      `json:"token"`
	User  userPayload `json:"user"`
}

// Register creates a new user account. Unknown roles fall back to member.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}

	role := req.Role
	switch role {
	case models.RoleAdmin, models.RoleManager, models.RoleMember:
	default:
		role = models.RoleMember
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "error hashing password")
		return
	}

	u := models.User{
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
		Role:         role,
		TeamID:       req.TeamID,
		IsActive:     true,
	}
	if err := h.db.Create(&u).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			writeJSONError(w, http.StatusConflict, "email already registered")
		} else {
			writeJSONError(w, http.StatusInternalServerError, "db error: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, userPayload{
		ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, TeamID: u.TeamID,
	})
}

// Login verifies credentials and issues a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var u models.User
	if err := h.db.Where("email = ? AND is_active = ?", strings.ToLower(req.Email), true).First(&u).Error; err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := middleware.GenerateToken(u.ID.String(), u.Role, u.Name, u.Email)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "couldn't create token")
		return
	}
	writeJSON(w, http.StatusOK, loginResp{
		Token: token,
		User:  userPayload{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, TeamID: u.TeamID},
	})
}

// GetCurrentUser returns the authenticated user's record.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var u models.User
	if err := h.db.First(&u, "id = ?", claims.UserID).Error; err != nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, userPayload{
		ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, TeamID: u.TeamID,
	})
}

// ListUsers returns active users, paginated. Used by approval delegation UIs.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if middleware.GetClaims(r) == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	page := 1
	limit := 25
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	offset := (page - 1) * limit

	query := h.db.Model(&models.User{}).Where("is_active = ?", true)
	if role := r.URL.Query().Get("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "db count error")
		return
	}
	var users []models.User
	if err := query.Order("name ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		writeJSONError(w, http.StatusInternalServerError, "db error")
		return
	}

	out := make([]userPayload, len(users))
	for i, u := range users {
		out[i] = userPayload{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, TeamID: u.TeamID}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": total,
		"page":  page,
		"limit": limit,
		"data":  out,
	})
}
