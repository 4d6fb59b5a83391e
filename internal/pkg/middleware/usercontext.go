package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/database"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
	"github.com/quartiero/quartiero/internal/pkg/session"
	"github.com/quartiero/quartiero/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request
// This centralizes user session handling and eliminates code duplication
func UserContextMiddleware(c *fiber.Ctx) error {
	// Get session with error handling
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		return c.Next()
	}

	// Get user ID from session
	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		// Anonymous user - no session data
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		return c.Next()
	}

	username := session.GetSessionValue(c, usercontext.KeyUsername)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	// Determine plan with session-first strategy
	plan := session.GetSessionValue(c, usercontext.KeyUserPlan)
	if plan == "" {
		plan = string(entitlements.TierFree)
		if db := database.GetDB(); db != nil {
			var user models.User
			if err := db.First(&user, userID.(uint)).Error; err == nil && user.Plan != "" {
				plan = user.Plan
			}
		}
		// cache in session for subsequent requests
		_ = session.SetSessionValue(c, usercontext.KeyUserPlan, plan)
	}

	userCtx := usercontext.UserContext{
		UserID:     userID.(uint),
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin.(bool),
		Plan:       plan,
	}
	c.Locals("USER_CONTEXT", userCtx)
	return c.Next()
}
