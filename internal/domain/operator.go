package domain

// ============================================================
// Operator support API
// ============================================================

// LoginRequest is the body of POST /v1/admin/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries a short-lived operator access token.
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// ResendResponse is returned after an operator re-delivers a receipt.
type ResendResponse struct {
	ArtifactID string `json:"artifactId"`
	UserID     string `json:"userId"`
	Format     string `json:"format"`
}
