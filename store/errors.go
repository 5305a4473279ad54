package store

import "github.com/ansel1/merry"

var ErrNoProductIDs = merry.New("no product ids")
var ErrRefreshFailed = merry.New("credential refresh failed")
var ErrCredentialNotFound = merry.New("credential not found")
var ErrUnexpectedHttpStatus = merry.New("unexpected HTTP status")
var ErrResponseDataMalformed = merry.New("response data malformed")
