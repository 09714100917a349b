package model

import "time"

// Gender 表示用户注册时填写的性别。
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderUnset  Gender = ""
)

// User 表示系统用户。
//
// Email 全局唯一，匹配时区分大小写（精确匹配）。
// Password 字段持久化的是 bcrypt 哈希，绝不存明文。
type User struct {
	UID       string    `json:"uid"`      // 用户唯一标识（UUID）
	Email     string    `json:"email"`    // 邮箱（唯一）
	Username  string    `json:"username"` // 展示用昵称
	Password  string    `json:"password"` // bcrypt 哈希
	Gender    Gender    `json:"gender"`   // male / female / 空
	CreatedAt time.Time `json:"createdAt"`
}

// Sanitized 返回去掉密码哈希的副本，用于对外响应。
func (u User) Sanitized() User {
	u.Password = ""
	return u
}
