// Package credential resolves VPN and RDP secrets for a profile, first from
// the vault and then from an interactive prompt.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/keyring"
)

// Kind identifies which half of a profile a secret belongs to.
type Kind string

const (
	KindVPN Kind = "vpn"
	KindRDP Kind = "rdp"
)

// Request describes the secret being asked for. It never carries a secret.
type Request struct {
	Profile  string
	Kind     Kind
	Username string
}

// Label is a short human description like "VPN password for alice@office".
func (r Request) Label() string {
	what := "RDP"
	if r.Kind == KindVPN {
		what = "VPN"
	}
	if r.Username == "" {
		return fmt.Sprintf("%s password for %s", what, r.Profile)
	}
	return fmt.Sprintf("%s password for %s@%s", what, r.Username, r.Profile)
}

// Answer is what a prompt returns.
type Answer struct {
	Secret   string
	Remember bool
}

// Prompter asks the user for a secret. Implementations return
// common.ErrCredentialDeclined when the user aborts.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (Answer, error)
}

// DeclinePrompter never asks; every request is declined. It is used where no
// interactive surface exists, such as the HTTP API.
type DeclinePrompter struct{}

// Prompt implements Prompter.
func (DeclinePrompter) Prompt(context.Context, Request) (Answer, error) {
	return Answer{}, common.ErrCredentialDeclined
}

// Resolver looks secrets up in a vault and falls back to a Prompter.
type Resolver struct {
	vault    keyring.Vault
	prompter Prompter
	service  string
}

// NewResolver creates a resolver. vault may be nil, in which case every
// lookup goes to the prompter and nothing is remembered.
func NewResolver(vault keyring.Vault, prompter Prompter) *Resolver {
	if prompter == nil {
		prompter = DeclinePrompter{}
	}
	return &Resolver{
		vault:    vault,
		prompter: prompter,
		service:  common.VaultService,
	}
}

// WithPrompter returns a copy of the resolver using a different prompter.
func (r *Resolver) WithPrompter(p Prompter) *Resolver {
	cp := *r
	if p == nil {
		p = DeclinePrompter{}
	}
	cp.prompter = p
	return &cp
}

// Resolve returns the secret for (profile, kind). A declined prompt returns
// an error wrapping common.ErrCredentialDeclined; callers abort the attempt.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	key := keyring.Key(req.Profile, string(req.Kind))

	if r.vault != nil {
		secret, err := r.vault.Get(r.service, key)
		switch {
		case err == nil && secret != "":
			return secret, nil
		case err == nil, errors.Is(err, keyring.ErrNotFound):
			common.LogDebug("No stored %s credential for %s", req.Kind, req.Profile)
		default:
			common.LogWarn("Credential vault lookup failed for %s: %v", key, err)
		}
	}

	answer, err := r.prompter.Prompt(ctx, req)
	if err != nil {
		if errors.Is(err, common.ErrCredentialDeclined) || errors.Is(err, context.Canceled) {
			return "", common.WrapOp("resolve "+string(req.Kind)+" credential", req.Profile, common.ErrCredentialDeclined)
		}
		return "", common.WrapOp("resolve "+string(req.Kind)+" credential", req.Profile, err)
	}
	if answer.Secret == "" {
		return "", common.WrapOp("resolve "+string(req.Kind)+" credential", req.Profile, common.ErrCredentialDeclined)
	}

	if answer.Remember && r.vault != nil {
		if err := r.vault.Set(r.service, key, answer.Secret); err != nil {
			common.LogWarn("Failed to remember %s credential for %s: %v", req.Kind, req.Profile, err)
		} else {
			common.LogInfo("Stored %s credential for %s", req.Kind, req.Profile)
		}
	}
	return answer.Secret, nil
}

// Store saves a secret directly, e.g. from "profile add --save-password".
func (r *Resolver) Store(profileName string, kind Kind, secret string) error {
	if r.vault == nil {
		return keyring.ErrUnavailable
	}
	return r.vault.Set(r.service, keyring.Key(profileName, string(kind)), secret)
}

// Forget deletes both stored secrets of a profile.
func (r *Resolver) Forget(profileName string) error {
	if r.vault == nil {
		return nil
	}
	var errs []error
	for _, kind := range []Kind{KindVPN, KindRDP} {
		if err := r.vault.Delete(r.service, keyring.Key(profileName, string(kind))); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rename moves stored secrets when a profile is renamed.
func (r *Resolver) Rename(oldName, newName string) {
	if r.vault == nil || oldName == newName {
		return
	}
	for _, kind := range []Kind{KindVPN, KindRDP} {
		oldKey := keyring.Key(oldName, string(kind))
		secret, err := r.vault.Get(r.service, oldKey)
		if err != nil || secret == "" {
			continue
		}
		if err := r.vault.Set(r.service, keyring.Key(newName, string(kind)), secret); err != nil {
			common.LogWarn("Failed to move %s credential to %s: %v", kind, newName, err)
			continue
		}
		_ = r.vault.Delete(r.service, oldKey)
	}
}
