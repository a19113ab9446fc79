package mainconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/whatsapp-leads/internal/config"
	"github.com/wolfman30/whatsapp-leads/pkg/logging"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)
	require.NotNil(t, awsCfg.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *awsCfg.BaseEndpoint)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}

func TestBuildServicesInMemory(t *testing.T) {
	cfg := &appconfig.Config{
		DefaultCountryPrefix: "91",
		DefaultLeadName:      "Unknown",
		RecentBufferSize:     10,
		ReplyProvider:        "static",
		ReplyFallbackText:    "Thanks!",
		ReplyContextTurns:    5,
	}

	svc, err := BuildServices(context.Background(), cfg, logging.New("error"), nil)
	require.NoError(t, err)
	defer svc.Close()

	assert.NotNil(t, svc.Repository)
	assert.NotNil(t, svc.Dispatcher)
	assert.Contains(t, svc.HealthChecks, "store")
	assert.NotContains(t, svc.HealthChecks, "postgres")
	assert.NotContains(t, svc.HealthChecks, "redis")
	assert.Equal(t, "919876543210", svc.Normalizer.Normalize("+91 98765 43210"))
}

func TestBuildServicesBedrockRequiresModel(t *testing.T) {
	cfg := &appconfig.Config{
		DefaultCountryPrefix: "91",
		RecentBufferSize:     10,
		ReplyProvider:        "bedrock",
	}

	_, err := BuildServices(context.Background(), cfg, logging.New("error"), nil)
	assert.ErrorContains(t, err, "BEDROCK_MODEL_ID")
}

func TestSetupSenderRequiresCredentials(t *testing.T) {
	assert.Nil(t, setupSender(&appconfig.Config{WhatsAppAccessToken: "token"}))
	assert.NotNil(t, setupSender(&appconfig.Config{WhatsAppAccessToken: "token", WhatsAppPhoneNumberID: "123"}))
}
