package model

import "fmt"

// Role 是消息角色，只允许 system、user、assistant 三种取值。
type Role uint8

const (
	// 零值保留为非法角色，避免未初始化的消息被当作 system 使用。
	roleUnknown Role = iota
	RoleSystem
	RoleUser
	RoleAssistant
)

var roleNames = [...]string{
	roleUnknown:   "",
	RoleSystem:    "system",
	RoleUser:      "user",
	RoleAssistant: "assistant",
}

// ParseRole 将字符串解析为 Role。
func ParseRole(s string) (Role, error) {
	switch s {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	}
	return roleUnknown, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return ""
}

// Valid 判断角色是否为三种合法取值之一。
func (r Role) Valid() bool {
	return r >= RoleSystem && r <= RoleAssistant
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
