// Command gen-token prints HS256 bearer tokens accepted by the API in local
// or test auth mode.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "tenant", "prefix for generated tenant IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated tenant IDs when count > 1")
		claim  = flag.String("claim", "sub", "claim carrying the tenant id")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit tenant ID cannot be provided when generating multiple tokens")
	}

	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		secret = os.Getenv("TEST_JWT_SECRET")
	}
	signer := tokenSigner{
		secret:   []byte(secret),
		claim:    *claim,
		audience: os.Getenv("AUTH0_AUDIENCE"),
		ttl:      *ttl,
		now:      time.Now,
	}

	tokens, err := signer.generate(tenantIDs(*count, *prefix, *start, args))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

type tokenSigner struct {
	secret   []byte
	claim    string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func (s tokenSigner) generate(tenants []string) ([]string, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
	}
	tokens := make([]string, len(tenants))
	for i, tenant := range tenants {
		claims := jwt.MapClaims{
			"sub": tenant,
			"exp": s.now().Add(s.ttl).Unix(),
			"iat": s.now().Unix(),
		}
		if s.claim != "" {
			claims[s.claim] = tenant
		}
		if s.audience != "" {
			claims["aud"] = s.audience
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func tenantIDs(count int, prefix string, start int, args []string) []string {
	ids := make([]string, count)
	for i := range ids {
		switch {
		case len(args) > 0:
			ids[i] = args[0]
		case count == 1:
			ids[i] = prefix
		default:
			ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
		}
	}
	return ids
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
