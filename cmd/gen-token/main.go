// Command gen-token mints HS256 bearer tokens accepted by the API in local
// auth mode.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/pflag"
)

type options struct {
	secret   string
	audience string
	issuer   string
	ttl      time.Duration
	count    int
	start    int64
	output   string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("gen-token", pflag.ContinueOnError)
	flagSet.StringVar(&opts.secret, "secret", os.Getenv("TEST_JWT_SECRET"), "HMAC secret (default $TEST_JWT_SECRET)")
	flagSet.StringVar(&opts.audience, "audience", "", "aud claim")
	flagSet.StringVar(&opts.issuer, "issuer", "", "iss claim")
	flagSet.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	flagSet.IntVarP(&opts.count, "count", "n", 1, "number of tokens, one per consecutive user id")
	flagSet.Int64Var(&opts.start, "start", 1, "first user id when no id argument is given")
	flagSet.StringVarP(&opts.output, "output", "o", "", "also write the tokens to this file as a JSON array")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if rest := flagSet.Args(); len(rest) > 0 {
		if len(rest) > 1 {
			return fmt.Errorf("unexpected argument: %s", rest[1])
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("user id %q: %w", rest[0], err)
		}
		opts.start = id
	}

	tokens, err := generateTokens(opts, time.Now())
	if err != nil {
		return err
	}
	if opts.output != "" {
		if err := writeTokens(opts.output, tokens); err != nil {
			return fmt.Errorf("write tokens: %w", err)
		}
	}
	for _, tok := range tokens {
		fmt.Println(tok)
	}
	return nil
}

func generateTokens(opts options, now time.Time) ([]string, error) {
	if opts.secret == "" {
		return nil, errors.New("secret is required (--secret or TEST_JWT_SECRET)")
	}
	if opts.count < 1 {
		return nil, errors.New("count must be at least 1")
	}
	if opts.start < 1 {
		return nil, errors.New("user ids start at 1")
	}
	tokens := make([]string, opts.count)
	for i := range tokens {
		claims := jwt.MapClaims{
			"sub": strconv.FormatInt(opts.start+int64(i), 10),
			"iat": now.Unix(),
			"exp": now.Add(opts.ttl).Unix(),
		}
		if opts.audience != "" {
			claims["aud"] = opts.audience
		}
		if opts.issuer != "" {
			claims["iss"] = opts.issuer
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
