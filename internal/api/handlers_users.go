package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/app"
	"github.com/nfinance/finance-service/internal/domain"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type updateProfileRequest struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	DateOfBirth *string `json:"dateOfBirth"`
	PhoneNumber *string `json:"phoneNumber"`
}

// profileResponse never exposes the password hash.
type profileResponse struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	DateOfBirth *string   `json:"dateOfBirth"`
	PhoneNumber *string   `json:"phoneNumber"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newProfileResponse(u domain.User) profileResponse {
	resp := profileResponse{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		PhoneNumber: u.PhoneNumber,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.DateOfBirth != nil {
		dob := u.DateOfBirth.Format("2006-01-02")
		resp.DateOfBirth = &dob
	}
	return resp
}

// RegisterHandler creates a user account.
func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, "register", err)
		return
	}

	user, err := h.users.Register(r.Context(), app.Registration{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		log.Printf("level=warn component=api endpoint=register outcome=failed err=%v", err)
		writeServiceError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, newProfileResponse(user))
}

// GetProfileHandler returns the caller's profile.
func (h *Handlers) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	user, err := h.users.Profile(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, r, "get_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(user))
}

// UpdateProfileHandler changes the caller's name, date of birth or phone.
func (h *Handlers) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, "update_profile", err)
		return
	}

	upd := domain.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	}
	if req.DateOfBirth != nil && strings.TrimSpace(*req.DateOfBirth) != "" {
		dob, err := domain.ParseDate("dateOfBirth", *req.DateOfBirth)
		if err != nil {
			writeServiceError(w, r, "update_profile", err)
			return
		}
		upd.DateOfBirth = &dob
	}

	user, err := h.users.UpdateProfile(r.Context(), ownerID, upd)
	if err != nil {
		writeServiceError(w, r, "update_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(user))
}
