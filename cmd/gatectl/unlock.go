package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"key-release-service/internal/auth"
	"key-release-service/internal/cipher"
	"key-release-service/internal/domain"
)

var errAccessDenied = errors.New("access denied")

type signerFlags struct {
	privateKey string
	chain      string
	ttl        time.Duration
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Hex private key of the wallet (or set GATECTL_PRIVATE_KEY)")
	cmd.Flags().StringVar(&f.chain, "chain", "ethereum", "Chain the signature is made for")
	cmd.Flags().DurationVar(&f.ttl, "ttl", 5*time.Minute, "Validity of the signed message")
}

func (f *signerFlags) signer() (*auth.KeySigner, error) {
	key := f.privateKey
	if key == "" {
		key = os.Getenv("GATECTL_PRIVATE_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("--private-key is required (or set GATECTL_PRIVATE_KEY)")
	}
	return auth.NewKeySigner(key)
}

func toReleaseRequest(a domain.AuthAssertion) map[string]interface{} {
	return map[string]interface{}{
		"address":   a.Address,
		"message":   a.Message,
		"signature": a.Signature,
		"chain":     a.Chain,
		"expiry":    a.Expiry.Format(time.RFC3339),
	}
}

// signCmd は開示リクエスト用の署名済みアサーションを出力するコマンド。
func signCmd() *cobra.Command {
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a release assertion with a wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sf.signer()
			if err != nil {
				return err
			}
			a, err := auth.NewAssertion(s, sf.chain, time.Now(), sf.ttl)
			if err != nil {
				return fmt.Errorf("signing: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(toReleaseRequest(a))
		},
	}
	sf.register(cmd)
	return cmd
}

// unlockCmd は署名、鍵の開示、復号をまとめて行うコマンド。
func unlockCmd() *cobra.Command {
	var (
		sf        signerFlags
		payloadID string
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Prove token ownership, obtain the key and decrypt a payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}
			s, err := sf.signer()
			if err != nil {
				return err
			}

			plaintext, err := unlockPayload(cmd.Context(), newAPIClient(), payloadID, s, sf.chain, sf.ttl)
			if err != nil {
				return err
			}

			if outPath == "" || outPath == "-" {
				_, err = os.Stdout.Write(plaintext)
				return err
			}
			if err := os.WriteFile(outPath, plaintext, 0o600); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			fmt.Printf("Decrypted payload %s to %s (%d bytes)\n", payloadID, outPath, len(plaintext))
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&payloadID, "payload", "", "Payload ID (required)")
	cmd.Flags().StringVar(&outPath, "out", "-", "Output file for the plaintext")
	cmd.MarkFlagRequired("payload")
	return cmd
}

// unlockPayload は暗号文を取得し、署名付きで鍵の開示を求め、クライアント側で復号する。
func unlockPayload(ctx context.Context, c *apiClient, payloadID string, s auth.Signer, chain string, ttl time.Duration) ([]byte, error) {
	var p payload
	if _, err := c.do(ctx, http.MethodGet, "/v1/payloads/"+payloadID, nil, &p, http.StatusOK); err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	a, err := auth.NewAssertion(s, chain, time.Now(), ttl)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	var rel releaseResponse
	path := "/v1/payloads/" + payloadID + "/release"
	if _, err := c.do(ctx, http.MethodPost, path, toReleaseRequest(a), &rel, http.StatusOK, http.StatusForbidden); err != nil {
		return nil, err
	}
	if !rel.Granted {
		return nil, fmt.Errorf("%w: %s", errAccessDenied, rel.Reason)
	}

	key, err := base64.StdEncoding.DecodeString(rel.Key)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return cipher.Decrypt(ciphertext, key)
}
