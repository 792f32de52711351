package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/models"
	"github.com/sirupsen/logrus"
)

// CognitoAPI is the subset of *cognitoidentityprovider.Client the provider calls.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	GlobalSignOut(ctx context.Context, params *cognitoidentityprovider.GlobalSignOutInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.GlobalSignOutOutput, error)
}

type CognitoProvider struct {
	client       CognitoAPI
	clientID     string
	clientSecret string
	logger       *logrus.Logger
}

func NewCognitoProvider(client CognitoAPI, clientID, clientSecret string, logger *logrus.Logger) *CognitoProvider {
	return &CognitoProvider{
		client:       client,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

func (p *CognitoProvider) Authenticate(ctx context.Context, username, password string) (*models.TokenSet, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	p.addSecretHash(params, username)

	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}

	switch out.ChallengeName {
	case "":
	case types.ChallengeNameTypeNewPasswordRequired:
		return nil, apperrors.NewAuthError(apperrors.CodeNewPasswordRequired, "new password required", nil)
	default:
		return nil, apperrors.NewAuthError(apperrors.CodeUnknown, "unsupported challenge "+string(out.ChallengeName), nil)
	}

	return tokensFromResult(out.AuthenticationResult)
}

func (p *CognitoProvider) Refresh(ctx context.Context, username, refreshToken string) (*models.TokenSet, error) {
	params := map[string]string{
		"REFRESH_TOKEN": refreshToken,
	}
	p.addSecretHash(params, username)

	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}

	return tokensFromResult(out.AuthenticationResult)
}

// SignOut invalidates every refresh token issued to the user.
func (p *CognitoProvider) SignOut(ctx context.Context, tokens models.TokenSet) error {
	if tokens.AccessToken == "" {
		return nil
	}

	_, err := p.client.GlobalSignOut(ctx, &cognitoidentityprovider.GlobalSignOutInput{
		AccessToken: aws.String(tokens.AccessToken),
	})
	if err != nil {
		return mapCognitoError(err)
	}
	return nil
}

func (p *CognitoProvider) addSecretHash(params map[string]string, username string) {
	if p.clientSecret == "" {
		return
	}
	params["SECRET_HASH"] = secretHash(p.clientSecret, username, p.clientID)
}

func secretHash(secret, username, clientID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func tokensFromResult(result *types.AuthenticationResultType) (*models.TokenSet, error) {
	if result == nil {
		return nil, apperrors.NewAuthError(apperrors.CodeUnknown, "no authentication result", nil)
	}
	return &models.TokenSet{
		IDToken:      aws.ToString(result.IdToken),
		AccessToken:  aws.ToString(result.AccessToken),
		RefreshToken: aws.ToString(result.RefreshToken),
	}, nil
}

var passthroughCodes = map[string]apperrors.Code{
	"NotAuthorizedException":         apperrors.CodeCredentialRejected,
	"UserNotConfirmedException":      apperrors.CodeAccountUnconfirmed,
	"PasswordResetRequiredException": apperrors.CodePasswordResetRequired,
	"UserNotFoundException":          apperrors.CodeUserNotFound,
}

func mapCognitoError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code, ok := passthroughCodes[apiErr.ErrorCode()]; ok {
			return apperrors.NewAuthError(code, apiErr.ErrorMessage(), err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return apperrors.NewAuthError(apperrors.CodeServerError, apiErr.ErrorMessage(), err)
		}
		return apperrors.NewAuthError(apperrors.Code(apiErr.ErrorCode()), apiErr.ErrorMessage(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewAuthError(apperrors.CodeNetworkUnreachable, netErr.Error(), err)
	}

	return apperrors.NewAuthError(apperrors.CodeUnknown, err.Error(), err)
}
