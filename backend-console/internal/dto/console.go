package dto

// NavigateRequest reports the page the user moved to
type NavigateRequest struct {
	Page string `json:"page" binding:"required,max=200"`
}

// RoleResponse is the resolved role of the signed-in user
type RoleResponse struct {
	Role    string `json:"role"`
	Loading bool   `json:"loading"`
}
