package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/linemk/marketplace/internal/domain/models"
)

var ErrAddressNotFound = errors.New("address not found")

// AddressStorage — read-only доступ к адресной книге, нужен оформлению
// только для проверки принадлежности адреса доставки.
type AddressStorage interface {
	GetAddressByID(ctx context.Context, id int64) (*models.Address, error)
}

type addressRepository struct {
	db *sql.DB
}

func NewAddressRepository(db *sql.DB) AddressStorage {
	return &addressRepository{db: db}
}

func (r *addressRepository) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	address := &models.Address{}
	row := r.db.QueryRowContext(ctx, "SELECT id, owner_id, city, street, zip FROM addresses WHERE id = $1", id)
	if err := row.Scan(&address.ID, &address.OwnerID, &address.City, &address.Street, &address.Zip); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, err
	}
	return address, nil
}
