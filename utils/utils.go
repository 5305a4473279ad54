package utils

import (
	"os"
	"strings"

	"github.com/ansel1/merry"
)

const AppName = "store_bridge"

type Env struct {
	Val string
}

func (e *Env) Set(name string) error {
	if name != "dev" && name != "prod" {
		return merry.New("must be 'dev' or 'prod'")
	}
	e.Val = name
	return nil
}

func (e Env) String() string {
	return e.Val
}

func (e Env) Type() string {
	return "string"
}

func (e Env) IsDev() bool {
	return e.Val == "dev"
}

func (e Env) IsProd() bool {
	return e.Val == "prod"
}

// OptionValue validates and stores a single value from a set of allowed options
type OptionValue[T any] struct {
	Options []T
	ToStr   func(T) string
	Value   *T
}

func (o *OptionValue[T]) Set(value string) error {
	for i, option := range o.Options {
		if o.ToStr(option) == value {
			o.Value = &o.Options[i]
			return nil
		}
	}
	return merry.Errorf("must be one of: %s", o.JoinStrings(", "))
}

func (o OptionValue[T]) String() string {
	if o.Value == nil {
		return ""
	}
	return o.ToStr(*o.Value)
}

func (o OptionValue[T]) JoinStrings(sep string) string {
	optionStrs := make([]string, len(o.Options))
	for i, option := range o.Options {
		optionStrs[i] = o.ToStr(option)
	}
	return strings.Join(optionStrs, sep)
}

// PairValue is a flag value of form "first:second", e.g. a token and a secret
type PairValue struct {
	First  string
	Second string
	IsSet  bool
}

func (p *PairValue) Set(value string) error {
	first, second, ok := strings.Cut(value, ":")
	if !ok || first == "" || second == "" {
		return merry.New("must be in form 'first:second'")
	}
	p.First, p.Second, p.IsSet = first, second, true
	return nil
}

func (p PairValue) String() string {
	if !p.IsSet {
		return ""
	}
	return p.First + ":" + p.Second
}

// MakeConfigDir creates (if needed) and returns the app config dir.
// STORE_BRIDGE_CONFIG_DIR overrides the default location.
func MakeConfigDir() (string, error) {
	if dir := os.Getenv("STORE_BRIDGE_CONFIG_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", merry.Wrap(err)
		}
		return dir, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", merry.Wrap(err)
	}
	dir = dir + "/" + AppName
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", merry.Wrap(err)
	}
	return dir, nil
}
