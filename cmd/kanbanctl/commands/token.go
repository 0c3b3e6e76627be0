package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"
)

const envLocalSecret = "LOCAL_AUTH_SHARED_SECRET"

// mintToken signs an HS256 token accepted by a board-api running with
// LOCAL_AUTH_MODE=hs256.
func mintToken(secret []byte, user, email, audience, issuer string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": user,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func newTokenCmd() *cobra.Command {
	var secret, user, email, audience, issuer string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a local development token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("a signing secret is required: pass --secret or set " + envLocalSecret)
			}
			if ttl <= time.Minute {
				return errors.New("--ttl must be longer than a minute")
			}
			token, err := mintToken([]byte(secret), user, email, audience, issuer, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv(envLocalSecret), "HS256 signing secret")
	cmd.Flags().StringVarP(&user, "user", "u", "local-user", "subject claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&audience, "audience", "", "audience claim")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
