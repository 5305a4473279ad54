package store

// Request is one asynchronous store operation. Start never blocks, results come
// to the Observer the request was created with. Cancel is best-effort: an event
// that is already on its way may still be delivered.
type Request interface {
	Start()
	Cancel()
}

// CatalogResponse is what the store returns for a catalog query.
type CatalogResponse struct {
	Products   []Product
	Unresolved []ProductID
}

// Observer receives request events. A well-behaved store delivers exactly one
// event per request (CatalogReceived or RequestFinished on success, RequestFailed
// otherwise), but observers must not rely on it.
type Observer interface {
	CatalogReceived(resp CatalogResponse)
	RequestFinished()
	RequestFailed(err error)
}

// Service is the external store.
type Service interface {
	QueryCatalog(ids []ProductID, obs Observer) Request
	RefreshCredential(obs Observer) Request
}
