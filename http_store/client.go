package http_store

import (
	"context"
	"encoding/json"
	"net/http"
	"store_bridge/store"
	"store_bridge/utils"
	"strings"
	"sync"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

const logPrefix = "http-store"

// Client talks to a remote store over HTTP. Every catalog query and credential
// refresh becomes a store.Request running on its own goroutine.
type Client struct {
	baseURL    string
	configDir  string
	httpClient *http.Client

	mutex      sync.Mutex
	credential *Credential
}

func NewClient(baseURL, configDir string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, configDir: configDir, httpClient: httpClient}
}

// InitCredential saves a new refresh token and client secret. The access token
// is obtained by the next credential refresh.
func (c *Client) InitCredential(refreshToken, clientSecret string) error {
	cred := &Credential{RefreshToken: refreshToken, ClientSecret: clientSecret}
	if err := writeCredential(c.configDir, cred); err != nil {
		return merry.Wrap(err)
	}
	c.mutex.Lock()
	c.credential = cred
	c.mutex.Unlock()
	return nil
}

func (c *Client) LoadCredential() error {
	cred, err := readCredential(c.configDir)
	if err != nil {
		return merry.Wrap(err)
	}
	c.mutex.Lock()
	c.credential = cred
	c.mutex.Unlock()
	log.Info().Time("updated_at", cred.UpdatedAt).Time("expires_at", cred.ExpiresAt).Msgf("%s: credential loaded", logPrefix)
	return nil
}

// Credential returns a copy of the current credential.
func (c *Client) Credential() (Credential, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.credential == nil {
		return Credential{}, false
	}
	return *c.credential, true
}

func (c *Client) CredentialIsOld(maxAge time.Duration) bool {
	cred, ok := c.Credential()
	return !ok || cred.IsOld(maxAge, time.Now())
}

func (c *Client) QueryCatalog(ids []store.ProductID, obs store.Observer) store.Request {
	return newRequest("catalog", obs, func(ctx context.Context) (func(store.Observer), error) {
		resp, err := c.fetchProducts(ctx, ids)
		if err != nil {
			return nil, err
		}
		return func(obs store.Observer) { obs.CatalogReceived(resp) }, nil
	})
}

func (c *Client) RefreshCredential(obs store.Observer) store.Request {
	return newRequest("refresh", obs, func(ctx context.Context) (func(store.Observer), error) {
		if err := c.refreshCredential(ctx); err != nil {
			return nil, err
		}
		return func(obs store.Observer) { obs.RequestFinished() }, nil
	})
}

func (c *Client) fetchProducts(ctx context.Context, ids []store.ProductID) (store.CatalogResponse, error) {
	apiURL := makeProductsURL(c.baseURL, ids)
	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return store.CatalogResponse{}, merry.Wrap(err)
	}
	if cred, ok := c.Credential(); ok && cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, buf, err := utils.GetHTTPBody(c.httpClient, req)
	if err != nil {
		return store.CatalogResponse{}, err
	}

	log.Debug().
		Int("code", resp.StatusCode).Str("status", resp.Status).
		Str("url", apiURL).Str("data", string(buf)).
		Msgf("%s: products response", logPrefix)

	if resp.StatusCode != http.StatusOK {
		return store.CatalogResponse{}, store.ErrUnexpectedHttpStatus.Here().Append(resp.Status).Append(string(buf))
	}

	var response productsResponse
	if err := json.Unmarshal(buf, &response); err != nil {
		return store.CatalogResponse{}, store.ErrResponseDataMalformed.Here().Append(string(buf))
	}
	return response.toCatalogResponse(), nil
}

func (c *Client) refreshCredential(ctx context.Context) error {
	cred, ok := c.Credential()
	if !ok {
		return store.ErrCredentialNotFound.Here()
	}

	req, err := http.NewRequestWithContext(ctx, "POST", makeRefreshURL(c.baseURL), strings.NewReader(makeRefreshForm(cred).Encode()))
	if err != nil {
		return merry.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, buf, err := utils.GetHTTPBody(c.httpClient, req)
	if err != nil {
		return err
	}

	// response body carries tokens, not logging it
	log.Debug().Int("code", resp.StatusCode).Str("status", resp.Status).Msgf("%s: refresh response", logPrefix)

	if resp.StatusCode != http.StatusOK {
		return store.ErrUnexpectedHttpStatus.Here().Append(resp.Status).Append(string(buf))
	}

	var response refreshResponse
	if err := json.Unmarshal(buf, &response); err != nil || response.AccessToken == "" {
		return store.ErrResponseDataMalformed.Here().Append("refresh response without access token")
	}
	if ctx.Err() != nil {
		return merry.Wrap(ctx.Err())
	}

	response.applyTo(&cred, time.Now())
	if err := writeCredential(c.configDir, &cred); err != nil {
		return merry.Wrap(err)
	}
	c.mutex.Lock()
	c.credential = &cred
	c.mutex.Unlock()
	return nil
}

// request runs perform once on its own goroutine and reports the outcome to obs
// unless it was canceled by then.
type request struct {
	name    string
	obs     store.Observer
	perform func(ctx context.Context) (func(store.Observer), error)

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func newRequest(name string, obs store.Observer, perform func(ctx context.Context) (func(store.Observer), error)) *request {
	ctx, cancel := context.WithCancel(context.Background())
	return &request{name: name, obs: obs, perform: perform, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (r *request) Start() {
	started := false
	r.once.Do(func() {
		started = true
		go r.run()
	})
	if !started {
		log.Warn().Str("request", r.name).Msgf("%s: request already started", logPrefix)
	}
}

func (r *request) Cancel() {
	r.cancel()
}

// Done is closed after the request goroutine exits.
func (r *request) Done() <-chan struct{} {
	return r.done
}

func (r *request) run() {
	defer close(r.done)
	defer r.cancel()

	deliver, err := r.perform(r.ctx)
	if r.ctx.Err() != nil {
		log.Debug().Str("request", r.name).Msgf("%s: request canceled, result dropped", logPrefix)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("request", r.name).Msgf("%s: request failed", logPrefix)
		r.obs.RequestFailed(err)
		return
	}
	deliver(r.obs)
}
