package supabase

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vbonduro/wohnmap/internal/domain"
)

func (c *Client) table(name string) string {
	return restPrefix + "/" + name
}

func eq(id int64) string {
	return "eq." + strconv.FormatInt(id, 10)
}

func (c *Client) ListStreets(ctx context.Context) ([]domain.Street, error) {
	var streets []domain.Street
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("order", "name.asc").
		SetResult(&streets).
		Get(c.table(c.cfg.StreetsTable))
	if err := checkResponse("list streets", resp, err); err != nil {
		return nil, err
	}
	return streets, nil
}

func (c *Client) ListAddresses(ctx context.Context) ([]domain.Address, error) {
	var addresses []domain.Address
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetResult(&addresses).
		Get(c.table(c.cfg.AddressesTable))
	if err := checkResponse("list addresses", resp, err); err != nil {
		return nil, err
	}
	return addresses, nil
}

// ListFavorites returns favourite addresses, most recently updated first, each
// joined with its street.
func (c *Client) ListFavorites(ctx context.Context) ([]domain.Address, error) {
	var addresses []domain.Address
	resp, err := c.request(ctx).
		SetQueryParam("select", fmt.Sprintf("*,street:%s(*)", c.cfg.StreetsTable)).
		SetQueryParam("is_favorite", "eq.true").
		SetQueryParam("order", "updated_at.desc").
		SetResult(&addresses).
		Get(c.table(c.cfg.AddressesTable))
	if err := checkResponse("list favorites", resp, err); err != nil {
		return nil, err
	}
	return addresses, nil
}

func (c *Client) InsertAddress(ctx context.Context, a domain.NewAddress) (*domain.Address, error) {
	var rows []domain.Address
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(a).
		SetResult(&rows).
		Post(c.table(c.cfg.AddressesTable))
	if err := checkResponse("insert address", resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert address: no row returned")
	}
	return &rows[0], nil
}

func (c *Client) UpdateAddress(ctx context.Context, id int64, changes map[string]any) error {
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=minimal").
		SetQueryParam("id", eq(id)).
		SetBody(changes).
		Patch(c.table(c.cfg.AddressesTable))
	return checkResponse("update address", resp, err)
}

func (c *Client) ListPhotos(ctx context.Context, addressID int64) ([]domain.AddressPhoto, error) {
	var photos []domain.AddressPhoto
	resp, err := c.request(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("address_id", eq(addressID)).
		SetQueryParam("order", "created_at.desc").
		SetResult(&photos).
		Get(c.table(c.cfg.PhotosTable))
	if err := checkResponse("list photos", resp, err); err != nil {
		return nil, err
	}
	return photos, nil
}

func (c *Client) InsertPhoto(ctx context.Context, p domain.NewPhoto) (*domain.AddressPhoto, error) {
	var rows []domain.AddressPhoto
	resp, err := c.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(p).
		SetResult(&rows).
		Post(c.table(c.cfg.PhotosTable))
	if err := checkResponse("insert photo", resp, err); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert photo: no row returned")
	}
	return &rows[0], nil
}

func (c *Client) DeletePhoto(ctx context.Context, id int64) error {
	resp, err := c.request(ctx).
		SetQueryParam("id", eq(id)).
		Delete(c.table(c.cfg.PhotosTable))
	return checkResponse("delete photo", resp, err)
}
