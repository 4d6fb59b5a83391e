package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/database"
	"github.com/quartiero/quartiero/internal/pkg/session"
	"github.com/quartiero/quartiero/internal/pkg/usercontext"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// HandleRegister creates a user account and opens a session.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid registration data"})
	}

	db := database.GetDB()
	var existing models.User
	if err := db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "Email is already registered"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	user, err := models.CreateUser(req.Username, req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid registration data"})
	}
	if err := db.Create(user).Error; err != nil {
		log.Error().Err(err).Msg("user creation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if err := openSession(c, user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "id": user.ID, "plan": user.Plan})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin authenticates by email and password and opens a session.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Email and password are required"})
	}

	db := database.GetDB()
	var user models.User
	if err := db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials", "message": "Wrong email or password"})
	}
	if !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials", "message": "Wrong email or password"})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_disabled", "message": "Account is not active"})
	}

	now := time.Now()
	_ = db.Model(&user).Update("last_login_at", &now).Error

	if err := openSession(c, &user); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "id": user.ID, "plan": user.Plan})
}

// HandleLogout destroys the current session.
func HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleMe returns the authenticated user's context.
func HandleMe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":       userCtx.UserID,
		"username": userCtx.Username,
		"isAdmin":  userCtx.IsAdmin,
		"plan":     userCtx.Plan,
	})
}

func openSession(c *fiber.Ctx, user *models.User) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return err
	}
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)
	sess.Set(usercontext.KeyUserPlan, user.Plan)
	return sess.Save()
}
