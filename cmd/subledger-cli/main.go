// Command subledger-cli is the operator tool for ledgercored's admin API: it
// signs a bearer JWT with the shared admin secret and issues the matching
// register_eoa/revoke_eoa/update_limit/update_allowed_types/pause/unpause
// request, mirroring cmd/nhb-cli's flat os.Args[1] subcommand dispatch.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"subledger/crypto"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	endpoint := strings.TrimSpace(os.Getenv("SUBLEDGER_ADMIN_ENDPOINT"))
	if endpoint == "" {
		endpoint = "http://localhost:7090"
	}
	secret := os.Getenv("SUBLEDGER_ADMIN_SECRET")
	caller := os.Getenv("SUBLEDGER_ADMIN_CALLER")
	if caller == "" {
		caller = "subledger-cli"
	}

	switch args[0] {
	case "register-eoa":
		if len(args) != 5 {
			fmt.Fprintln(stderr, "Usage: subledger-cli register-eoa <avatar> <eoa> <dailyLimit> <transferTypesCSV>")
			return 1
		}
		types, err := parseTypesCSV(args[4])
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return postAdmin(stdout, stderr, endpoint, secret, caller, "register_eoa", map[string]interface{}{
			"avatar": args[1], "eoa": args[2], "daily_limit": args[3], "transfer_types": types,
		})
	case "revoke-eoa":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "Usage: subledger-cli revoke-eoa <eoa>")
			return 1
		}
		return postAdmin(stdout, stderr, endpoint, secret, caller, "revoke_eoa", map[string]interface{}{"eoa": args[1]})
	case "update-limit":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "Usage: subledger-cli update-limit <eoa> <dailyLimit>")
			return 1
		}
		return postAdmin(stdout, stderr, endpoint, secret, caller, "update_limit", map[string]interface{}{
			"eoa": args[1], "daily_limit": args[2],
		})
	case "update-allowed-types":
		if len(args) != 3 {
			fmt.Fprintln(stderr, "Usage: subledger-cli update-allowed-types <eoa> <transferTypesCSV>")
			return 1
		}
		types, err := parseTypesCSV(args[2])
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return postAdmin(stdout, stderr, endpoint, secret, caller, "update_allowed_types", map[string]interface{}{
			"eoa": args[1], "transfer_types": types,
		})
	case "pause":
		return postAdmin(stdout, stderr, endpoint, secret, caller, "pause", map[string]interface{}{})
	case "unpause":
		return postAdmin(stdout, stderr, endpoint, secret, caller, "unpause", map[string]interface{}{})
	case "generate-signer-key":
		if len(args) != 2 && len(args) != 3 {
			fmt.Fprintln(stderr, "Usage: subledger-cli generate-signer-key <keystorePath> [passphrase]")
			return 1
		}
		passphrase, err := resolvePassphrase(stdin, stderr, args, "Passphrase: ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return generateSignerKey(stdout, stderr, args[1], passphrase)
	case "signer-address":
		if len(args) != 2 && len(args) != 3 {
			fmt.Fprintln(stderr, "Usage: subledger-cli signer-address <keystorePath> [passphrase]")
			return 1
		}
		passphrase, err := resolvePassphrase(stdin, stderr, args, "Passphrase: ")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return printSignerAddress(stdout, stderr, args[1], passphrase)
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(stderr io.Writer) {
	fmt.Fprintln(stderr, "Usage: subledger-cli <register-eoa|revoke-eoa|update-limit|update-allowed-types|pause|unpause|generate-signer-key|signer-address> [args]")
	fmt.Fprintln(stderr, "Env: SUBLEDGER_ADMIN_ENDPOINT, SUBLEDGER_ADMIN_SECRET, SUBLEDGER_ADMIN_CALLER")
}

// generateSignerKey creates an ECDSA key for signing batch_update
// transactions and stores it in an Ethereum v3 keystore file. ledgercored
// reads Allowance.SignerKeyFile as a hex-encoded raw private key, not as a
// keystore file.
func generateSignerKey(stdout, stderr io.Writer, keystorePath, passphrase string) int {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		fmt.Fprintf(stderr, "Error: save keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "signer address: %s\n", key.PubKey().Address())
	return 0
}

func printSignerAddress(stdout, stderr io.Writer, keystorePath, passphrase string) int {
	key, err := crypto.LoadFromKeystore(keystorePath, passphrase)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "signer address: %s\n", key.PubKey().Address())
	return 0
}

// resolvePassphrase returns args[2] when the caller supplied it (scripted
// use), then SUBLEDGER_SIGNER_PASSPHRASE, then prompts on stdin with echo
// disabled via term.ReadPassword so an interactive operator's keystore
// passphrase never lands in shell history or process listings.
func resolvePassphrase(stdin *os.File, stderr io.Writer, args []string, prompt string) (string, error) {
	if len(args) == 3 {
		return args[2], nil
	}
	if value, ok := os.LookupEnv("SUBLEDGER_SIGNER_PASSPHRASE"); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("SUBLEDGER_SIGNER_PASSPHRASE is set but empty")
		}
		return value, nil
	}
	if !term.IsTerminal(int(stdin.Fd())) {
		return "", fmt.Errorf("passphrase required; pass it as an argument, set SUBLEDGER_SIGNER_PASSPHRASE, or run interactively")
	}
	fmt.Fprint(stderr, prompt)
	raw, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	return string(raw), nil
}

func parseTypesCSV(csv string) ([]uint8, error) {
	var out []uint8
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid transfer type %q: %w", part, err)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}

func signToken(secret, caller string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": caller,
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func postAdmin(stdout, stderr io.Writer, endpoint, secret, caller, route string, body map[string]interface{}) int {
	if secret == "" {
		fmt.Fprintln(stderr, "Error: SUBLEDGER_ADMIN_SECRET is not set")
		return 1
	}
	token, err := signToken(secret, caller)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign admin token: %v\n", err)
		return 1
	}
	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: encode request: %v\n", err)
		return 1
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(endpoint, "/")+"/v1/"+route, bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(stderr, "Error: build request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
		return 1
	}
	pretty, _ := json.MarshalIndent(decoded, "", "  ")
	fmt.Fprintln(stdout, string(pretty))
	if resp.StatusCode >= 300 {
		return 1
	}
	return 0
}
