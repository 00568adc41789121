package authsdk

import (
	"context"
	"net/http"
)

// Me returns the profile of the session's user.
func (s *Session) Me(ctx context.Context) (*UserResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/me", nil, nil)
	if err != nil {
		return nil, err
	}

	var out UserResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkWallet runs a fresh provider login for the session's user and links
// the provisioned custodial wallet. Fails with code wallet_exists when a
// wallet is already linked.
func (s *Session) LinkWallet(ctx context.Context, req CallbackRequest) (*LinkWalletResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/federated/link-wallet", req, nil)
	if err != nil {
		return nil, err
	}

	var out LinkWalletResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
