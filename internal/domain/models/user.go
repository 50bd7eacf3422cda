package models

// User представляет пользователя (и покупателя, и продавца)
type User struct {
	ID       int64
	Email    string
	PassHash []byte
}
