package authsdk

import (
	"context"
	"net/http"
)

// MFA operations that change factors or raise assurance also need the
// caller's provider session, sent as headers.

// EnrollMFA enrolls a TOTP factor. The response is shown once.
func (s *Session) EnrollMFA(ctx context.Context, provider ProviderSession, friendlyName string) (*MFAEnrollResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/mfa/enroll",
		MFAEnrollRequest{FriendlyName: friendlyName}, sessionHeaders(provider))
	if err != nil {
		return nil, err
	}

	var out MFAEnrollResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnenrollMFA removes factorID, or the active factor when it is empty.
func (s *Session) UnenrollMFA(ctx context.Context, provider ProviderSession, factorID string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/mfa/unenroll",
		MFAUnenrollRequest{FactorID: factorID}, sessionHeaders(provider))
	if err != nil {
		return err
	}

	var out SuccessResponse
	return decodeJSON(resp, &out, http.StatusOK)
}

// ChallengeMFA starts a step-up verification.
func (s *Session) ChallengeMFA(ctx context.Context, provider ProviderSession, factorID string) (*MFAChallengeResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/mfa/challenge",
		MFAChallengeRequest{FactorID: factorID}, sessionHeaders(provider))
	if err != nil {
		return nil, err
	}

	var out MFAChallengeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyMFA answers a step-up challenge.
func (s *Session) VerifyMFA(ctx context.Context, provider ProviderSession, challengeID, code string) (*MFAVerifyResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/mfa/verify",
		MFAVerifyRequest{ChallengeID: challengeID, Code: code}, sessionHeaders(provider))
	if err != nil {
		return nil, err
	}

	var out MFAVerifyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// MFAEnabled reports whether logins of the session's user stop at the MFA
// gate.
func (s *Session) MFAEnabled(ctx context.Context) (bool, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/mfa/enabled", nil, nil)
	if err != nil {
		return false, err
	}

	var out MFAEnabledResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

func (s *Session) MFAStatus(ctx context.Context) (*MFAStatusResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/mfa/status", nil, nil)
	if err != nil {
		return nil, err
	}

	var out MFAStatusResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) MFAFactors(ctx context.Context) ([]MFAFactor, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/mfa/factors", nil, nil)
	if err != nil {
		return nil, err
	}

	var out MFAFactorsResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Factors, nil
}
