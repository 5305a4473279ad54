package store

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/ansel1/merry"
)

type ProductID string

type Product struct {
	ID          ProductID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
}

// NormalizeProductIDs trims, drops empty and duplicate ids and sorts the rest.
func NormalizeProductIDs(ids []ProductID) []ProductID {
	res := make([]ProductID, 0, len(ids))
	for _, id := range ids {
		id = ProductID(strings.TrimSpace(string(id)))
		if id != "" {
			res = append(res, id)
		}
	}
	slices.Sort(res)
	return slices.Compact(res)
}

// CatalogResult is either a success (Products + Unresolved) or a failure (Err).
type CatalogResult struct {
	Products   map[ProductID]Product
	Unresolved []ProductID
	Err        error
}

func CatalogSuccess(products map[ProductID]Product, unresolved []ProductID) CatalogResult {
	if products == nil {
		products = map[ProductID]Product{}
	}
	if unresolved == nil {
		unresolved = []ProductID{}
	}
	return CatalogResult{Products: products, Unresolved: unresolved}
}

func CatalogFailure(err error) CatalogResult {
	if err == nil {
		err = merry.New("catalog query failed without error")
	}
	return CatalogResult{Err: err}
}

func (r CatalogResult) IsSuccess() bool {
	return r.Err == nil
}

// SortedProducts returns resolved products ordered by id.
func (r CatalogResult) SortedProducts() []Product {
	products := make([]Product, 0, len(r.Products))
	for _, p := range r.Products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b Product) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return products
}

func (r CatalogResult) MarshalJSON() ([]byte, error) {
	if !r.IsSuccess() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Err.Error()})
	}
	return json.Marshal(struct {
		Products   []Product   `json:"products"`
		Unresolved []ProductID `json:"unresolved"`
	}{r.SortedProducts(), r.Unresolved})
}

// buildCatalogResult turns a raw store response into a success result whose
// resolved and unresolved sets partition the queried ids. Queried ids the store
// did not mention are unresolved, products nobody asked for are dropped.
func buildCatalogResult(queried []ProductID, resp CatalogResponse) (CatalogResult, []ProductID) {
	isQueried := make(map[ProductID]bool, len(queried))
	for _, id := range queried {
		isQueried[id] = true
	}

	var extra []ProductID
	products := make(map[ProductID]Product, len(resp.Products))
	for _, p := range resp.Products {
		if !isQueried[p.ID] {
			extra = append(extra, p.ID)
			continue
		}
		products[p.ID] = p
	}

	unresolved := make([]ProductID, 0, len(queried)-len(products))
	for _, id := range queried {
		if _, ok := products[id]; !ok {
			unresolved = append(unresolved, id)
		}
	}
	return CatalogSuccess(products, unresolved), extra
}

type RefreshFailureKind int

const (
	RefreshFailed RefreshFailureKind = iota + 1
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// RefreshResult is a success when Failure is zero.
type RefreshResult struct {
	Failure RefreshFailureKind
}

func RefreshSuccess() RefreshResult {
	return RefreshResult{}
}

func RefreshFailure(kind RefreshFailureKind) RefreshResult {
	return RefreshResult{Failure: kind}
}

func (r RefreshResult) IsSuccess() bool {
	return r.Failure == 0
}

// Err returns nil for a success and ErrRefreshFailed tagged with the kind otherwise.
func (r RefreshResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return ErrRefreshFailed.Here().Append(r.Failure.String())
}

func (r RefreshResult) MarshalJSON() ([]byte, error) {
	if r.IsSuccess() {
		return json.Marshal(struct {
			Status string `json:"status"`
		}{"ok"})
	}
	return json.Marshal(struct {
		Status  string `json:"status"`
		Failure string `json:"failure"`
	}{"failed", r.Failure.String()})
}
