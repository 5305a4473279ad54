package http_store

import (
	"net/url"
	"store_bridge/store"
	"strings"
	"time"
)

// {"products":[{"id":"gold","title":"Gold","description":"","price":4.99,"currency":"USD"}],
//  "invalid_product_ids":["silver"]}
type productsResponse struct {
	Products          []store.Product   `json:"products"`
	InvalidProductIDs []store.ProductID `json:"invalid_product_ids"`
}

func (r productsResponse) toCatalogResponse() store.CatalogResponse {
	return store.CatalogResponse{Products: r.Products, Unresolved: r.InvalidProductIDs}
}

// {"access_token":"...","refresh_token":"...","expires_in":3600}
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (r refreshResponse) applyTo(cred *Credential, now time.Time) {
	cred.AccessToken = r.AccessToken
	if r.RefreshToken != "" {
		cred.RefreshToken = r.RefreshToken
	}
	if r.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	} else {
		cred.ExpiresAt = time.Time{}
	}
	cred.UpdatedAt = now
}

func makeProductsURL(baseURL string, ids []store.ProductID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	params := url.Values{}
	params.Set("ids", strings.Join(strs, ","))
	return strings.TrimRight(baseURL, "/") + "/v1/products?" + params.Encode()
}

func makeRefreshURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v1/credentials/refresh"
}

func makeRefreshForm(cred Credential) url.Values {
	form := url.Values{}
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_secret", cred.ClientSecret)
	return form
}
