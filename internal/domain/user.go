package domain

// User is the authenticated owner of a remote replica.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type SignInRequest struct {
	Token string `json:"token" validate:"required"`
}
