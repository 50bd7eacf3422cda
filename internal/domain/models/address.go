package models

// Address представляет адрес доставки из адресной книги пользователя
type Address struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	City    string `json:"city"`
	Street  string `json:"street"`
	Zip     string `json:"zip"`
}
