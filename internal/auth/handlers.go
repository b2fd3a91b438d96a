package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/urbantrack/brt-core/internal/apierr"
	"github.com/urbantrack/brt-core/internal/geostore"
	"github.com/urbantrack/brt-core/internal/models"
)

// Handlers implements the /auth/* boundary named in SPEC_FULL §6, grounded
// on original_source's auth/routes.py (register/login/update/me) but
// trimmed to bcrypt + an opaque bearer token rather than a full identity
// service.
type Handlers struct {
	Store    *geostore.Geostore
	Secret   []byte
	TokenTTL time.Duration
}

func NewHandlers(store *geostore.Geostore, secret []byte, tokenTTL time.Duration) *Handlers {
	return &Handlers{Store: store, Secret: secret, TokenTTL: tokenTTL}
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register creates a rider, 201 on success, 409 on duplicate username or
// email, per SPEC_FULL §6.
func (h *Handlers) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.New(apierr.InvalidInput, "malformed request body")
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return apierr.New(apierr.InvalidInput, "username, email and password are required")
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not register rider", err)
	}

	rider, err := h.Store.CreateRider(c.Context(), models.Rider{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		CreatedAt:    time.Now(),
	})
	if errors.Is(err, geostore.ErrDuplicateRider) {
		return apierr.New(apierr.Conflict, "username or email already registered")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not register rider", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user_id": rider.ID})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a bearer token, per SPEC_FULL §6.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.New(apierr.InvalidInput, "malformed request body")
	}

	rider, err := h.Store.GetRiderByUsername(c.Context(), req.Username)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.AuthFailure, "invalid username or password")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not log in", err)
	}
	if !CheckPassword(rider.PasswordHash, req.Password) {
		return apierr.New(apierr.AuthFailure, "invalid username or password")
	}

	token := IssueToken(rider.ID, h.Secret, h.TokenTTL)
	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "bearer",
		"user":         riderJSON(rider),
	})
}

// Me returns the authenticated rider, per SPEC_FULL §6.
func (h *Handlers) Me(c *fiber.Ctx) error {
	rider, ok := c.Locals("rider").(*RiderContext)
	if !ok {
		return apierr.New(apierr.AuthFailure, "authentication required")
	}
	r, err := h.Store.GetRiderByID(c.Context(), rider.RiderID)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "rider not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load rider", err)
	}
	return c.JSON(riderJSON(r))
}

type updateUserRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// UpdateUser patches a rider's profile, 409 on conflicting email, 404 if
// missing, per SPEC_FULL §6.
func (h *Handlers) UpdateUser(c *fiber.Ctx) error {
	id, err := parseUserID(c)
	if err != nil {
		return err
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.New(apierr.InvalidInput, "malformed request body")
	}

	rider, err := h.Store.UpdateRider(c.Context(), id, req.DisplayName, req.Email)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "rider not found")
	}
	if errors.Is(err, geostore.ErrDuplicateRider) {
		return apierr.New(apierr.Conflict, "email already in use")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not update rider", err)
	}
	return c.JSON(fiber.Map{"user": riderJSON(rider)})
}

func parseUserID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, apierr.New(apierr.InvalidInput, "invalid user id")
	}
	return id, nil
}

func riderJSON(r models.Rider) fiber.Map {
	return fiber.Map{
		"id":           r.ID,
		"username":     r.Username,
		"email":        r.Email,
		"display_name": r.DisplayName,
		"created_at":   r.CreatedAt,
	}
}
