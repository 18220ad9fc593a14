package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "registry-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "registry-dev" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Receipts.ProjectID != "registry-dev" {
		t.Errorf("expected receipts project to default to firestore project, got %s", cfg.Receipts.ProjectID)
	}
	if cfg.Stripe.Currency != "usd" {
		t.Errorf("expected default currency usd, got %s", cfg.Stripe.Currency)
	}
	if cfg.Fees.CreditFixedFeeCents != 25 {
		t.Errorf("unexpected default credit fixed fee: %d", cfg.Fees.CreditFixedFeeCents)
	}
	if cfg.Fees.CreditPercentage != 0.0215 {
		t.Errorf("unexpected default credit percentage: %f", cfg.Fees.CreditPercentage)
	}
	if cfg.Fees.DebitFlatFeeCents != 25 {
		t.Errorf("unexpected default debit flat fee: %d", cfg.Fees.DebitFlatFeeCents)
	}
	if cfg.Pricing.BirthCertificateCost != 1400 {
		t.Errorf("unexpected default birth certificate cost: %d", cfg.Pricing.BirthCertificateCost)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_READ_TIMEOUT":            "20s",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_FIRESTORE_PROJECT_ID":           "registry-prod",
		"API_STRIPE_API_KEY":                 "secret://stripe/api",
		"API_STRIPE_WEBHOOK_SECRET":          "secret://stripe/webhook",
		"API_STRIPE_CURRENCY":                "USD",
		"API_FEES_CREDIT_FIXED_CENTS":        "30",
		"API_FEES_CREDIT_PERCENTAGE":         "0.025",
		"API_FEES_DEBIT_FLAT_CENTS":          "50",
		"API_PRICING_DEATH_CENTS":            "2100",
		"API_RECEIPTS_PROJECT_ID":            "registry-msgs",
		"API_RECEIPTS_TOPIC":                 "order-receipts",
		"API_UPLOADS_BUCKET":                 "registry-uploads-prod",
		"API_SECURITY_ENVIRONMENT":           "prod",
		"API_SECURITY_HMAC_SECRETS":          "fulfillment=secret://hmac/fulfillment,ops=ops-secret",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":       "3m",
		"API_IDEMPOTENCY_HEADER":             "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":   "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":      "500",
	}

	secrets := map[string]string{
		"secret://stripe/api":       "stripe-key",
		"secret://stripe/webhook":   "stripe-webhook",
		"secret://hmac/fulfillment": "fulfillment-hmac",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Stripe.APIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.Stripe.APIKey)
	}
	if cfg.Stripe.WebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved webhook secret, got %s", cfg.Stripe.WebhookSecret)
	}
	if cfg.Stripe.Currency != "usd" {
		t.Errorf("expected lowercased currency, got %s", cfg.Stripe.Currency)
	}
	if cfg.Fees.CreditFixedFeeCents != 30 {
		t.Errorf("unexpected credit fixed fee %d", cfg.Fees.CreditFixedFeeCents)
	}
	if cfg.Fees.CreditPercentage != 0.025 {
		t.Errorf("unexpected credit percentage %f", cfg.Fees.CreditPercentage)
	}
	if cfg.Fees.DebitFlatFeeCents != 50 {
		t.Errorf("unexpected debit flat fee %d", cfg.Fees.DebitFlatFeeCents)
	}
	if cfg.Pricing.DeathCertificateCost != 2100 {
		t.Errorf("unexpected death certificate cost %d", cfg.Pricing.DeathCertificateCost)
	}
	if cfg.Receipts.ProjectID != "registry-msgs" {
		t.Errorf("unexpected receipts project %s", cfg.Receipts.ProjectID)
	}
	if cfg.Receipts.Topic != "order-receipts" {
		t.Errorf("unexpected receipts topic %s", cfg.Receipts.Topic)
	}
	if cfg.Uploads.Bucket != "registry-uploads-prod" {
		t.Errorf("unexpected uploads bucket %s", cfg.Uploads.Bucket)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected security environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.HMAC.Secrets["fulfillment"] != "fulfillment-hmac" {
		t.Errorf("expected resolved fulfillment hmac secret, got %s", cfg.Security.HMAC.Secrets["fulfillment"])
	}
	if cfg.Security.HMAC.Secrets["ops"] != "ops-secret" {
		t.Errorf("expected plain ops secret, got %s", cfg.Security.HMAC.Secrets["ops"])
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" {
		t.Errorf("unexpected signature header %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=registry-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "registry-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "registry-dev",
		"API_STRIPE_API_KEY":       "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_RECEIPTS_TOPIC=dot-receipts\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_UPLOADS_BUCKET", "os-uploads")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SERVER_PORT":          "7171",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_RECEIPTS_TOPIC"]; got != "dot-receipts" {
		t.Fatalf("expected dotenv receipts topic, got %s", got)
	}
	if got := values["API_UPLOADS_BUCKET"]; got != "os-uploads" {
		t.Fatalf("expected system env uploads bucket, got %s", got)
	}
	if got := values["API_SERVER_PORT"]; got != "7171" {
		t.Fatalf("expected override port, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "registry-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Stripe.APIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "registry-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Stripe.WebhookSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.WebhookSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":  "registry-dev",
		"API_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	}

	secrets := map[string]string{
		"secret://stripe/webhook": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stripe.WebhookSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Stripe.WebhookSecret)
	}
}
