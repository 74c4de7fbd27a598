package model

// User 远端登录接口返回的身份，ID 形如 "姓名_邮箱"
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Doctor       string `json:"doctor"`
	PatientEmail string `json:"patient_email"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
	IsDoctor     bool   `json:"is_doctor,omitempty"`
	Anonymous    bool   `json:"anonymous,omitempty"`
}

// Identity 会话列表与创建接口所需的身份信息
type Identity struct {
	UserID    string
	Doctor    string
	Anonymous bool
}

// SessionDoctor 匿名用户不按医师归档
func (i Identity) SessionDoctor() string {
	if i.Anonymous {
		return ""
	}
	return i.Doctor
}
