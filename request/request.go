package request

// UserLoginRequest 病患登录，转发给远端认证接口
type UserLoginRequest struct {
	Name         string `json:"name" binding:"required"`
	Doctor       string `json:"doctor" binding:"required"`
	PatientEmail string `json:"patient_email" binding:"required,email"`
}

type CreateSessionRequest struct {
	Select bool `json:"select"`
}

type RenameSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}
