// Command token signs an API bearer token with the configured secret.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"arbiter/internal/api"
	"arbiter/internal/config"
	"arbiter/internal/models"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "configs/config.yaml", "path to config.yaml")
		userID     = fs.Int64("user", 0, "user id placed in the sub claim")
		role       = fs.String("role", models.RoleUser, "user or admin")
		ttl        = fs.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *userID <= 0 {
		return errors.New("-user must be positive")
	}
	if *role != models.RoleUser && *role != models.RoleAdmin {
		return fmt.Errorf("unknown role %q", *role)
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.API.Auth.Secret == "" {
		return errors.New("api auth secret is empty")
	}

	token, err := api.NewJWTAuth(cfg.API.Auth).NewToken(*userID, *role, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
