/*
Package authsdk provides a client SDK and the wire types of the vaultgate
identity API.

# Client vs Session

  - Client: public endpoints (login, MFA login-verify, federated login) and
    API-key calls
  - Session: calls made with a gateway session token

	client := authsdk.NewClient("https://gateway.example.com")

	session, err := client.AuthenticateWithPassword(ctx, email, password)
	var mfaErr *authsdk.MFARequiredError
	if errors.As(err, &mfaErr) {
		out, err := client.LoginVerify(ctx, mfaErr.UserID, code, mfaErr.Session)
		// ...
		session = client.NewSession(out.Token)
	}

	me, err := session.Me(ctx)

# Federated Login

	start, err := client.FederatedAuthURL(ctx, "")
	// redirect the user to start.AuthURL, keep CodeVerifier and Nonce

	res, err := client.FederatedCallback(ctx, authsdk.CallbackRequest{
		Code:         code,
		CodeVerifier: start.CodeVerifier,
		Nonce:        start.Nonce,
	})
	if res.RequiresTermsAcceptance {
		// show the terms, then
		out, err := client.CompleteRegistration(ctx, authsdk.CompleteRegistrationRequest{
			UserData:      res.UserData,
			SessionData:   *res.SessionData,
			TermsAccepted: true,
		})
	}

Keep the provider session returned by the callback: MFA enrollment and
step-up verification require it.

# Error Handling

Non-2xx responses are returned as *APIError carrying the error kind
(malformed_request, authentication_failure, authorization_failure,
not_found, conflict, upstream_failure, rate_limited) and an optional code.
Eligibility failures carry RedirectURL. Use IsKind and IsCode to branch.
*/
package authsdk
