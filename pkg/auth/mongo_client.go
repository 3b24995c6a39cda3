package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/cohenjo/migration-stream/pkg/config"
)

// CosmosScope is the token scope accepted by Azure Cosmos DB for MongoDB
const CosmosScope = "https://ossrdbms-aad.database.windows.net/.default"

// ClientOptions carries the optional hooks of a Mongo client
type ClientOptions struct {
	// AppName identifies the client in server logs
	AppName        string
	CommandMonitor *event.CommandMonitor
	PoolMonitor    *event.PoolMonitor
	// Credential overrides the default Azure credential for Entra endpoints
	Credential TokenCredential
	Logger     *logrus.Logger
}

// NewMongoClient creates a client for the endpoint and pings the primary
func NewMongoClient(ctx context.Context, endpoint config.EndpointConfig, opts ClientOptions) (*mongo.Client, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	clientOpts, err := BuildClientOptions(endpoint, opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.WithFields(logrus.Fields{
		"database": endpoint.Database,
		"auth":     authMethodName(endpoint.Authentication.Method),
	})
	logger.Debug("Connecting to MongoDB")

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping failed: %v", ErrConnectionFailed, err)
	}

	logger.Info("MongoDB connection established")
	return client, nil
}

// BuildClientOptions translates the endpoint configuration into driver options
func BuildClientOptions(endpoint config.EndpointConfig, opts ClientOptions) (*options.ClientOptions, error) {
	if endpoint.URI == "" {
		return nil, fmt.Errorf("%w: connection URI is required", ErrConfigurationInvalid)
	}

	clientOpts := options.Client().ApplyURI(endpoint.URI)
	applyDefaultConnectionParams(clientOpts, endpoint)

	if opts.AppName != "" {
		clientOpts.SetAppName(opts.AppName)
	}
	if opts.CommandMonitor != nil {
		clientOpts.SetMonitor(opts.CommandMonitor)
	}
	if opts.PoolMonitor != nil {
		clientOpts.SetPoolMonitor(opts.PoolMonitor)
	}

	auth := endpoint.Authentication
	switch auth.Method {
	case config.AuthMethodNone:
		// credentials, if any, come from the URI
	case config.AuthMethodPassword:
		if auth.Username == "" || auth.Password == "" {
			return nil, fmt.Errorf("%w: username and password are required", ErrConfigurationInvalid)
		}
		credential := options.Credential{
			Username:   auth.Username,
			Password:   auth.Password,
			AuthSource: auth.AuthDatabase,
		}
		clientOpts.SetAuth(credential)
	case config.AuthMethodEntra:
		scopes, err := validateEntraScopes(auth.Scopes)
		if err != nil {
			return nil, fmt.Errorf("invalid Entra configuration: %w", err)
		}
		credential := opts.Credential
		if credential == nil {
			credential, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
				TenantID: auth.TenantID,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get azure credentials: %w", err)
			}
		}
		source := NewTokenSource(credential, scopes, 5*time.Minute)
		clientOpts.SetAuth(options.Credential{
			AuthMechanism:       "MONGODB-OIDC",
			OIDCMachineCallback: source.OIDCCallback,
		})
		clientOpts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, auth.Method)
	}

	return clientOpts, nil
}

// applyDefaultConnectionParams applies the endpoint timeouts and retry flags
func applyDefaultConnectionParams(clientOpts *options.ClientOptions, endpoint config.EndpointConfig) {
	connectTimeout := endpoint.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	serverSelectionTimeout := endpoint.ServerSelectionTimeout
	if serverSelectionTimeout <= 0 {
		serverSelectionTimeout = 30 * time.Second
	}

	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetServerSelectionTimeout(serverSelectionTimeout)
	if endpoint.ReadTimeout > 0 {
		clientOpts.SetTimeout(endpoint.ReadTimeout)
	}

	clientOpts.SetRetryWrites(true)
	clientOpts.SetRetryReads(true)
}

// validateEntraScopes defaults to the Cosmos scope and rejects scopes of other Azure services
func validateEntraScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return []string{CosmosScope}, nil
	}

	invalidScopes := map[string]string{
		"https://database.windows.net/.default": "SQL Server",
		"https://vault.azure.net/.default":      "Key Vault",
		"https://storage.azure.com/.default":    "Storage",
	}
	for _, scope := range scopes {
		if service, ok := invalidScopes[scope]; ok {
			return nil, fmt.Errorf("scope %s belongs to %s", scope, service)
		}
	}
	for _, scope := range scopes {
		if scope == CosmosScope {
			return scopes, nil
		}
	}
	return nil, fmt.Errorf("scopes must include %s", CosmosScope)
}

func authMethodName(method string) string {
	if method == config.AuthMethodNone {
		return "uri"
	}
	return method
}
