// Package main はCLIツールのエントリポイント。
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"key-release-service/internal/cipher"
	"key-release-service/internal/domain"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gatectl",
		Short: "Token-gated key release CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("GATECTL_API_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set GATECTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(sealCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatectl version %s\n", version)
		},
	}
}

func requireAPIURL() error {
	if apiURL == "" {
		return fmt.Errorf("--api-url is required (or set GATECTL_API_URL)")
	}
	return nil
}

// sealCmd はファイルを暗号化し、鍵を条件付きで登録するコマンド。
func sealCmd() *cobra.Command {
	var inPath, conditionsPath string
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a file locally and register its key behind access conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			plaintext, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			rawConditions, err := os.ReadFile(conditionsPath)
			if err != nil {
				return fmt.Errorf("reading conditions: %w", err)
			}
			var set domain.ConditionSet
			if err := json.Unmarshal(rawConditions, &set); err != nil {
				return fmt.Errorf("parsing conditions: %w", err)
			}

			// 暗号化はクライアント側で行い、サーバーには暗号文と鍵のみ送る
			key, err := cipher.GenerateKey()
			if err != nil {
				return err
			}
			ciphertext, err := cipher.Encrypt(plaintext, key)
			if err != nil {
				return fmt.Errorf("encrypting: %w", err)
			}

			c := newAPIClient()
			var meta payloadMetadata
			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/payloads", map[string]interface{}{
				"ciphertext":    base64.StdEncoding.EncodeToString(ciphertext),
				"symmetric_key": base64.StdEncoding.EncodeToString(key),
				"operator":      set.Operator,
				"conditions":    set.Conditions,
			}, &meta, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Sealed payload %s (%d condition(s), operator: %s)\n", meta.PayloadID, meta.ConditionCount, meta.Operator)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "Plaintext file (required)")
	cmd.Flags().StringVar(&conditionsPath, "conditions", "", "Condition set JSON file (required)")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("conditions")
	return cmd
}

// getCmd はペイロードの取得コマンド。
func getCmd() *cobra.Command {
	var payloadID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a payload's access conditions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			var p payload
			body, err := newAPIClient().do(cmd.Context(), http.MethodGet, "/v1/payloads/"+payloadID, nil, &p, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}
			fmt.Printf("Payload:    %s\n", p.PayloadID)
			fmt.Printf("Created:    %s\n", p.CreatedAt)
			fmt.Printf("Operator:   %s\n", p.Operator)
			for i, c := range p.Conditions {
				fmt.Printf("  [%d] %s %s %s\n", i, c, c.ReturnValueTest.Comparator, c.ReturnValueTest.Value)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadID, "payload", "", "Payload ID (required)")
	cmd.MarkFlagRequired("payload")
	return cmd
}

// listCmd はペイロード一覧コマンド。
func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sealed payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireAPIURL(); err != nil {
				return err
			}

			var result struct {
				Payloads []payloadMetadata `json:"payloads"`
			}
			path := fmt.Sprintf("/v1/payloads?limit=%d", limit)
			body, err := newAPIClient().do(cmd.Context(), http.MethodGet, path, nil, &result, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "PAYLOAD ID\tOPERATOR\tCONDITIONS\tWRAPPER\tCREATED AT")
			for _, p := range result.Payloads {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.PayloadID, p.Operator, p.ConditionCount, p.KeyWrapper, p.CreatedAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of payloads")
	return cmd
}
