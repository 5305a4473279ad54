package http_store

import (
	"encoding/json"
	"io"
	"os"
	"store_bridge/store"
	"strings"
	"time"

	"github.com/ansel1/merry"
)

const credentialFName = "http_store_credential.json"

type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsOld reports whether the credential should be refreshed: it was never
// refreshed, is older than maxAge or expires within maxAge.
func (c Credential) IsOld(maxAge time.Duration, now time.Time) bool {
	if c.AccessToken == "" || c.UpdatedAt.IsZero() {
		return true
	}
	if now.Sub(c.UpdatedAt) > maxAge {
		return true
	}
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Sub(now) < maxAge
}

func writeCredential(configDir string, cred *Credential) error {
	file, err := os.OpenFile(configDir+"/"+credentialFName, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return merry.Wrap(err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return merry.Wrap(err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "\t")
	if err := enc.Encode(cred); err != nil {
		return merry.Wrap(err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return merry.Wrap(err)
	}

	// overwriting leftovers of a longer previous version
	paddingLen := int(1024 - offset)
	if paddingLen > 0 {
		if _, err := file.WriteString(strings.Repeat(" ", paddingLen)); err != nil {
			return merry.Wrap(err)
		}
	}
	return merry.Wrap(file.Close())
}

func readCredential(configDir string) (*Credential, error) {
	file, err := os.Open(configDir + "/" + credentialFName)
	if os.IsNotExist(err) {
		return nil, store.ErrCredentialNotFound.Here()
	}
	if err != nil {
		return nil, merry.Wrap(err)
	}
	defer file.Close()
	cred := &Credential{}
	if err := json.NewDecoder(file).Decode(cred); err != nil {
		return nil, merry.Wrap(err)
	}
	return cred, nil
}
