package main

import (
	"context"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

// credentialAger is implemented by stores that know when their credential
// needs a refresh. Other stores are refreshed on every interval.
type credentialAger interface {
	CredentialIsOld(maxAge time.Duration) bool
}

type Updater struct {
	bridge     *Bridge
	ager       credentialAger
	Interval   time.Duration
	RetryDelay time.Duration
	Timeout    time.Duration
}

func NewUpdater(bridge *Bridge, interval time.Duration) *Updater {
	u := &Updater{bridge: bridge, Interval: interval, RetryDelay: 30 * time.Second, Timeout: time.Minute}
	if ager, ok := bridge.svc.(credentialAger); ok {
		u.ager = ager
	}
	return u
}

// updateIter refreshes the credential if needed and returns the delay before the next check.
func (u *Updater) updateIter(ctx context.Context, force bool) (time.Duration, error) {
	if !force && u.ager != nil && !u.ager.CredentialIsOld(u.Interval) {
		log.Debug().Msg("credential is fresh")
		return u.Interval, nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()

	log.Info().Bool("forced", force).Msg("refreshing credential")
	res, err := u.bridge.RefreshCredential(ctx)
	if merry.Is(err, ErrSessionTimeout) {
		log.Warn().Err(err).Msg("credential refresh timed out")
		return u.RetryDelay, nil
	}
	if err != nil {
		return 0, merry.Wrap(err)
	}
	if !res.IsSuccess() {
		log.Warn().Str("failure", res.Failure.String()).Dur("retry_in", u.RetryDelay).Msg("credential refresh failed")
		return u.RetryDelay, nil
	}
	return u.Interval, nil
}

func StartUpdater(ctx context.Context, u *Updater, triggerChan chan struct{}) error {
	timer := time.NewTimer(200 * 365 * 24 * time.Hour) //timedelta can store ~292 years
	defer timer.Stop()
	force := false
	for {
		delay, err := u.updateIter(ctx, force)
		if err != nil {
			return merry.Wrap(err)
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Debug().Msgf("updater: waiting %s", delay)
		if !timer.Stop() && len(timer.C) > 0 {
			<-timer.C
		}
		timer.Reset(delay)

		force = false
		select {
		case <-triggerChan:
			log.Debug().Int("chan len", len(triggerChan)).Msg("updater triggered")
			force = true
		case <-timer.C:
		case <-ctx.Done():
			return nil
		}
		//emptying triggerChan
		for len(triggerChan) > 0 {
			<-triggerChan
		}
	}
}
