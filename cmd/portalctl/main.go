// Command portalctl is an operator CLI for the portal authentication API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/and161185/portal-auth/internal/service"
)

func usage() {
	fmt.Fprintf(os.Stderr, `portalctl
Usage:
  portalctl -addr URL <cmd> [args]

Commands:
  version
  login-google -code <code> [-origin URL]      (saves tokens)
  refresh                                      (renews the access token)
  me
  logout
  cache-get    -key <key>
  cache-flush  [-pattern <glob>]
  cache-rm     -key <key>
  invite-token -user <id> -secret <key> [-host URL]
`)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// needKey parses a subcommand that takes a single -key flag.
func needKey(name string, args []string) string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	key := fs.String("key", "", "cache key")
	_ = fs.Parse(args)
	if *key == "" {
		fmt.Fprintln(os.Stderr, "need -key")
		os.Exit(1)
	}
	return *key
}

// authed returns a client carrying the stored access token.
func authed(addr string) *client {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	c := newClient(addr)
	c.bearer = token
	return c
}

// inviteToken signs an invitation locally with the shared secret.
func inviteToken(userID, secret, host string) (string, error) {
	svc := service.NewAuthService(nil, nil, nil,
		service.WithSignKey([]byte(secret)),
		service.WithHost(host),
	)
	return svc.GenerateInviteToken(userID)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "API base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("portalctl %s (%s)\n", version, buildDate)

	case "login-google":
		fs := flag.NewFlagSet("login-google", flag.ExitOnError)
		code := fs.String("code", "", "authorization code")
		origin := fs.String("origin", "", "front end origin the code was issued to")
		_ = fs.Parse(args)
		if *code == "" {
			fmt.Fprintln(os.Stderr, "need -code")
			os.Exit(1)
		}
		c := newClient(*addr)
		c.origin = *origin
		t, err := c.googleVerify(ctx, *code)
		if err != nil {
			fail(err)
		}
		if err := saveTokens(tokenFile{AccessToken: t.Access, RefreshToken: t.Refresh, ExpiresAt: expiry(t.Access, t.Expiration)}); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "refresh":
		rt, err := loadRefresh()
		if err != nil {
			fail(err)
		}
		t, err := newClient(*addr).refresh(ctx, rt)
		if err != nil {
			fail(err)
		}
		if err := saveTokens(tokenFile{AccessToken: t.Access, RefreshToken: rt, ExpiresAt: expiry(t.Access, t.Expiration)}); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "me":
		out, err := authed(*addr).me(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "logout":
		c := authed(*addr)
		rt, _ := loadRefresh()
		if err := c.logout(ctx, rt); err != nil {
			fail(err)
		}
		if err := clearTokens(); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "cache-get":
		out, err := authed(*addr).cacheGet(ctx, needKey(cmd, args))
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "cache-flush":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		pattern := fs.String("pattern", "", "glob, e.g. directory_photo_*")
		_ = fs.Parse(args)
		out, err := authed(*addr).cacheFlush(ctx, *pattern)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "cache-rm":
		out, err := authed(*addr).cacheDelete(ctx, needKey(cmd, args))
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "invite-token":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		user := fs.String("user", "", "user id")
		secret := fs.String("secret", os.Getenv("PORTAL_JWT_SECRET"), "signing key")
		host := fs.String("host", os.Getenv("PORTAL_APP_HOST"), "issuer and audience")
		_ = fs.Parse(args)
		if *user == "" || *secret == "" {
			fmt.Fprintln(os.Stderr, "need -user and -secret")
			os.Exit(1)
		}
		tok, err := inviteToken(*user, *secret, *host)
		if err != nil {
			fail(err)
		}
		fmt.Println(tok)

	default:
		usage()
	}
}
