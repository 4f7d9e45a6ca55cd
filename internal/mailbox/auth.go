// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mailbox

import (
	"context"

	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/digest/internal/config"
)

// NewTokenSource returns a client-credentials token source for IMAP
// OAuth authentication. Tokens are cached and refreshed on expiry.
func NewTokenSource(ctx context.Context, cfg config.OAuthConfig) oauth2.TokenSource {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return creds.TokenSource(ctx)
}

// saslClient builds the SASL mechanism for the configured auth method.
func saslClient(cfg config.IMAPConfig, token string) sasl.Client {
	if cfg.Auth == config.AuthOAuthBearer {
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: cfg.Username,
			Token:    token,
			Host:     cfg.Host,
			Port:     cfg.Port,
		})
	}
	return &xoauth2Client{username: cfg.Username, token: token}
}

// xoauth2Client implements the XOAUTH2 mechanism used by Microsoft 365 and
// Gmail.
type xoauth2Client struct {
	username string
	token    string
}

func (a *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next answers the server's error challenge with an empty response so the
// server can finish the exchange with a tagged NO.
func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
