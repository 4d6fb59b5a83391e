package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyIsAdmin  = "isAdmin"
	KeyUserPlan = "user_plan"
)
