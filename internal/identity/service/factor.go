package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/aussiebroadwan/vaultgate/internal/identity/challenge"
	"github.com/aussiebroadwan/vaultgate/internal/identity/domain"
	"github.com/aussiebroadwan/vaultgate/internal/identity/store"
	"github.com/aussiebroadwan/vaultgate/pkg/idx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	qrCodeSize = 200
)

// DefaultChallengeTTL is how long a step-up challenge stays answerable.
const DefaultChallengeTTL = 5 * time.Minute

// FactorAuthority owns the second-factor primitives. MFAService layers the
// user state machine and lockout on top.
type FactorAuthority interface {
	// Enroll creates and persists an active factor for user. It does not
	// touch the user's factor reference.
	Enroll(ctx context.Context, user domain.User, friendlyName string) (domain.MFAFactor, domain.MFAEnrollment, error)

	Challenge(ctx context.Context, factor domain.MFAFactor) (domain.MFAChallenge, error)

	// Verify consumes the challenge and checks code against factor.
	Verify(ctx context.Context, challengeID string, factor domain.MFAFactor, code string) error

	Unenroll(ctx context.Context, factor domain.MFAFactor) error
}

// TOTPAuthority implements FactorAuthority with RFC 6238 codes.
type TOTPAuthority struct {
	Store        store.Store
	Challenges   challenge.Store
	Issuer       string // shown in authenticator apps
	ChallengeTTL time.Duration

	now func() time.Time
}

var _ FactorAuthority = (*TOTPAuthority)(nil)

func (a *TOTPAuthority) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func (a *TOTPAuthority) Enroll(
	ctx context.Context,
	user domain.User,
	friendlyName string,
) (domain.MFAFactor, domain.MFAEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAFactor{}, domain.MFAEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrDataURI(key)
	if err != nil {
		return domain.MFAFactor{}, domain.MFAEnrollment{}, fmt.Errorf("failed to render QR code: %w", err)
	}

	factor := domain.MFAFactor{
		ID:           idx.New().String(),
		UserID:       user.ID,
		FactorType:   domain.FactorTypeTOTP,
		FriendlyName: friendlyName,
		Secret:       key.Secret(),
		Active:       true,
		EnrolledAt:   a.clock().UTC(),
	}
	if err := a.Store.Factors().CreateFactor(ctx, factor); err != nil {
		return domain.MFAFactor{}, domain.MFAEnrollment{}, fmt.Errorf("failed to store factor: %w", err)
	}

	return factor, domain.MFAEnrollment{
		FactorID:     factor.ID,
		FactorType:   factor.FactorType,
		FriendlyName: factor.FriendlyName,
		Secret:       key.Secret(),
		URI:          key.URL(),
		QRCode:       qr,
	}, nil
}

func (a *TOTPAuthority) Challenge(ctx context.Context, factor domain.MFAFactor) (domain.MFAChallenge, error) {
	ttl := a.ChallengeTTL
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}

	c := domain.MFAChallenge{
		ID:        idx.New().String(),
		FactorID:  factor.ID,
		UserID:    factor.UserID,
		ExpiresAt: a.clock().Add(ttl).UTC(),
	}
	if err := a.Challenges.Save(ctx, c); err != nil {
		return domain.MFAChallenge{}, challengeStoreError(err)
	}
	return c, nil
}

func (a *TOTPAuthority) Verify(ctx context.Context, challengeID string, factor domain.MFAFactor, code string) error {
	if _, err := idx.Parse(challengeID); err != nil {
		return ErrChallengeNotFound
	}
	c, err := a.Challenges.Consume(ctx, challengeID)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return ErrChallengeNotFound
		}
		return challengeStoreError(err)
	}
	if c.FactorID != factor.ID || c.UserID != factor.UserID {
		return ErrChallengeNotFound
	}

	valid, err := totp.ValidateCustom(code, factor.Secret, a.clock().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return ErrInvalidCode
	}
	return nil
}

func (a *TOTPAuthority) Unenroll(ctx context.Context, factor domain.MFAFactor) error {
	if err := a.Store.Factors().DeleteFactor(ctx, factor.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFactorNotFound
		}
		return fmt.Errorf("failed to delete factor: %w", err)
	}
	return nil
}

func qrDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func challengeStoreError(err error) error {
	if errors.Is(err, challenge.ErrUnavailable) {
		return &UpstreamError{Service: "challenge store", Err: err}
	}
	return err
}
