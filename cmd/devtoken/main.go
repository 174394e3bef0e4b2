// Command devtoken prints a signed access token for a subject so local
// deployments can call the API without the account service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwttoken "kinwatch/internal/jwt_token"
	"kinwatch/internal/platform/config"
	id "kinwatch/pkg/domain"
)

func main() {
	subject := flag.String("subject", "", "subject id (uuid)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*subject, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(subject string, ttl time.Duration) error {
	subjectID, err := id.ParseSubjectID(subject)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).
		GenerateAccessToken(subjectID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
