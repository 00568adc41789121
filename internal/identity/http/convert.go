package http

import (
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/pkg/authsdk"
)

func toUserResponse(u domain.User, mfaEnabled bool) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:              u.ID,
		Email:           u.Email,
		Role:            u.Role.String(),
		Active:          u.Active,
		DisplayName:     u.DisplayName,
		Picture:         u.PictureURL,
		EmailVerified:   u.EmailVerified,
		MFAEnabled:      mfaEnabled,
		WalletAddress:   u.WalletAddress,
		KYCStatus:       u.KYCStatus,
		TermsAcceptedAt: u.TermsAcceptedAt,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
	}
}

func toSessionResponse(s *domain.ProviderSession) *authsdk.ProviderSession {
	if s == nil || s.Empty() {
		return nil
	}
	return &authsdk.ProviderSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
}

func toProfileResponse(p domain.ProviderProfile) *authsdk.ProviderProfile {
	return &authsdk.ProviderProfile{
		ExternalID:     p.ExternalID,
		Email:          p.Email,
		Name:           p.Name,
		Picture:        p.PictureURL,
		EmailVerified:  p.EmailVerified,
		IdentityNumber: p.IdentityNumber,
	}
}

func toFactorResponse(f domain.MFAFactor) authsdk.MFAFactor {
	return authsdk.MFAFactor{
		ID:           f.ID,
		Type:         f.FactorType,
		FriendlyName: f.FriendlyName,
		Active:       f.Active,
		EnrolledAt:   f.EnrolledAt,
		LastUsedAt:   f.LastUsedAt,
	}
}
