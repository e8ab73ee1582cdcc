// Copyright 2025 Tom Barlow
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

// Package auth implements login, logout, and credential status
// commands.
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/term"

	"github.com/tombee/beacon/internal/commands/shared"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage beacon credentials",
	}
	cmd.AddCommand(newLoginCommand())
	cmd.AddCommand(newLogoutCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}

type loginFlags struct {
	apiKey       string
	baseURL      string
	clientID     string
	clientSecret string
	tokenURL     string
}

func newLoginCommand() *cobra.Command {
	flags := &loginFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for trace delivery",
		Long: `Store a beacon API key in the OS keychain (with a file fallback under
~/.beacon). Without flags an interactive form prompts for the key; a
piped key is read from stdin.

To exchange OAuth client credentials for a token instead:

	beacon auth login --client-id ID --client-secret SECRET --token-url URL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "API key to store")
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "Collector base URL override")
	cmd.Flags().StringVar(&flags.clientID, "client-id", "", "OAuth client id for client-credentials exchange")
	cmd.Flags().StringVar(&flags.clientSecret, "client-secret", "", "OAuth client secret")
	cmd.Flags().StringVar(&flags.tokenURL, "token-url", "", "OAuth token endpoint")

	return cmd
}

func runLogin(cmd *cobra.Command, flags *loginFlags) error {
	apiKey := flags.apiKey

	if apiKey == "" && flags.clientID != "" {
		if flags.clientSecret == "" || flags.tokenURL == "" {
			return shared.NewAuthError("--client-id requires --client-secret and --token-url", nil)
		}
		exchange := clientcredentials.Config{
			ClientID:     flags.clientID,
			ClientSecret: flags.clientSecret,
			TokenURL:     flags.tokenURL,
		}
		token, err := exchange.Token(cmd.Context())
		if err != nil {
			return shared.NewAuthError("client-credentials exchange failed", err)
		}
		apiKey = token.AccessToken
	}

	if apiKey == "" {
		var err error
		apiKey, err = promptAPIKey(&flags.baseURL)
		if err != nil {
			return shared.NewAuthError("failed to read API key", err)
		}
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return shared.NewAuthError("no API key provided", nil)
	}

	if err := saveCredentials(Credentials{APIKey: apiKey, BaseURL: flags.baseURL}); err != nil {
		return shared.NewAuthError("failed to store credentials", err)
	}

	if !shared.GetQuiet() {
		cmd.Println(shared.RenderOK("Logged in"))
		if claims, ok := parseTokenClaims(apiKey); ok && !claims.expiresAt.IsZero() {
			cmd.Printf("  key expires %s\n", claims.expiresAt.Local().Format(time.RFC1123))
		}
	}
	return nil
}

// promptAPIKey collects the key interactively, or reads it from
// stdin when piped in.
func promptAPIKey(baseURL *string) (string, error) {
	if shared.IsNonInteractive() {
		// Piped input: a single line on stdin
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return "", err
			}
			return strings.TrimSpace(line), nil
		}
		// Terminal but told non-interactive: read without echo
		fmt.Fprint(os.Stderr, "API key: ")
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(key), nil
	}

	var apiKey string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description("From the AgentMark dashboard, or issued by a local collector").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Collector URL").
				Description("Leave empty for the hosted collector").
				Value(baseURL),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return apiKey, nil
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deleteCredentials(); err != nil {
				return shared.NewAuthError("logout failed", err)
			}
			if !shared.GetQuiet() {
				cmd.Println(shared.RenderOK("Logged out"))
			}
			return nil
		},
	}
}

// statusResult is the JSON shape of auth status.
type statusResult struct {
	shared.JSONResponse
	LoggedIn  bool   `json:"logged_in"`
	TenantID  string `json:"tenant_id,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expired   bool   `json:"expired,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored credential status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	result := statusResult{JSONResponse: shared.NewJSONResponse("auth status", true)}

	creds, err := loadCredentials()
	switch {
	case err == errNotLoggedIn:
		result.LoggedIn = false
	case err != nil:
		return shared.NewAuthError("failed to read credentials", err)
	default:
		result.LoggedIn = true
		result.BaseURL = creds.BaseURL
		if claims, ok := parseTokenClaims(creds.APIKey); ok {
			result.TenantID = claims.tenantID
			result.AppID = claims.appID
			result.KeyID = claims.keyID
			if !claims.expiresAt.IsZero() {
				result.ExpiresAt = claims.expiresAt.UTC().Format(time.RFC3339)
				result.Expired = time.Now().After(claims.expiresAt)
			}
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(result)
	}

	if !result.LoggedIn {
		cmd.Println(shared.RenderWarn("Not logged in. Run 'beacon auth login'."))
		return nil
	}

	cmd.Println(shared.RenderOK("Logged in"))
	if result.TenantID != "" {
		cmd.Printf("  %s %s\n", shared.RenderLabel("tenant:"), result.TenantID)
	}
	if result.AppID != "" {
		cmd.Printf("  %s %s\n", shared.RenderLabel("app:"), result.AppID)
	}
	if result.ExpiresAt != "" {
		if result.Expired {
			cmd.Printf("  %s\n", shared.RenderError("key expired "+result.ExpiresAt))
		} else {
			cmd.Printf("  %s %s\n", shared.RenderLabel("expires:"), result.ExpiresAt)
		}
	}
	return nil
}

// tokenClaims are the identity fields carried by JWT API keys.
type tokenClaims struct {
	tenantID  string
	appID     string
	keyID     string
	expiresAt time.Time
}

// parseTokenClaims decodes a JWT API key without verifying it; the
// CLI only needs the identity fields for display.
func parseTokenClaims(apiKey string) (tokenClaims, bool) {
	token, _, err := jwt.NewParser().ParseUnverified(apiKey, jwt.MapClaims{})
	if err != nil {
		return tokenClaims{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return tokenClaims{}, false
	}

	var out tokenClaims
	if v, ok := claims["tenant_id"].(string); ok {
		out.tenantID = v
	}
	if v, ok := claims["app_id"].(string); ok {
		out.appID = v
	}
	if v, ok := claims["key_id"].(string); ok {
		out.keyID = v
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expiresAt = exp.Time
	}
	return out, true
}
