package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the Secrets Manager call used to resolve credentials.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// RDSSecret is the JSON document stored for an RDS database.
type RDSSecret struct {
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	Engine   string      `json:"engine"`
}

// SecretSource locates the database secret.
type SecretSource struct {
	SecretID string
	// ProxyEndpoint replaces the secret's host when set.
	ProxyEndpoint string
	// TLSEnabled selects sslmode=verify-full instead of prefer.
	TLSEnabled bool
}

// ResolveSecretDSN reads the secret and builds a connection string. The
// database name is the secret's engine.
func ResolveSecretDSN(ctx context.Context, client SecretsAPI, src SecretSource) (string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(src.SecretID)})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", src.SecretID, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s has an empty string value", src.SecretID)
	}

	var secret RDSSecret
	if err := json.Unmarshal([]byte(*out.SecretString), &secret); err != nil {
		return "", fmt.Errorf("decode secret %s: %w", src.SecretID, err)
	}

	host := secret.Host
	if src.ProxyEndpoint != "" {
		host = src.ProxyEndpoint
	}
	sslmode := "prefer"
	if src.TLSEnabled {
		sslmode = "verify-full"
	}

	slog.Debug("rds_secret_resolved",
		slog.String("secret_id", src.SecretID),
		slog.String("host", host),
		slog.String("username", secret.Username),
		slog.String("engine", secret.Engine))

	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(secret.Username, secret.Password),
		Host:     net.JoinHostPort(host, secret.Port.String()),
		Path:     "/" + secret.Engine,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String(), nil
}
