package auth

// Credentials is the body of register and login.
type Credentials struct {
	Username string `json:"username" example:"river_stone"`
	Password string `json:"password" example:"securepassword123"`
}

// TokenRequest carries the refresh token being redeemed or revoked.
type TokenRequest struct {
	RefreshToken string `json:"refresh_token" example:"3q2-7wEAAAAbc..."`
}

// PasswordChange is the body of POST /auth/change-password.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword" example:"securepassword123"`
	NewPassword     string `json:"newPassword" example:"evenmoresecure456"`
}

// DeleteConfirmation must be echoed back to delete an account.
const DeleteConfirmation = "DELETE_MY_ACCOUNT"

// AccountDeletion is the body of DELETE /auth/account.
type AccountDeletion struct {
	Confirmation string `json:"confirmation" example:"DELETE_MY_ACCOUNT"`
}
