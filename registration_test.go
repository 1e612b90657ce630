package lti

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesGor/lti2-reference-tool-provider/internal/testutil"
	"github.com/JesGor/lti2-reference-tool-provider/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	server, err := New(store, store, &Config{
		BaseURL: "https://tool.example.com",
	})
	require.NoError(t, err)
	return server, store
}

func registrationRequest(consumer *testutil.Consumer) RegistrationRequest {
	return RegistrationRequest{
		TCProfileURL:         consumer.ProfileURL(),
		TokenEndpointURL:     consumer.TokenURL(),
		RegistrationKey:      "reg-key-1",
		RegistrationPassword: "reg-password-1",
	}
}

func TestRegister_Success(t *testing.T) {
	consumer := testutil.NewConsumer()
	defer consumer.Close()
	consumer.ToolProxyGUID = "g1"
	consumer.TCHalfSharedSecret = "X"

	server, store := newTestServer(t)

	guid, err := server.Register(context.Background(), registrationRequest(consumer))
	require.NoError(t, err)
	assert.Equal(t, "g1", guid)

	// The persisted record carries the consumer-issued GUID and the
	// derived split secret, consumer half first.
	proxy, err := store.GetProxy(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", proxy.GUID)
	assert.Equal(t, consumer.ProfileURL(), proxy.TCProfileURL)
	assert.Equal(t, "https://tool.example.com", proxy.BaseURL)
	assert.NotEmpty(t, proxy.HalfSharedSecret)
	assert.Equal(t, "X"+proxy.HalfSharedSecret, proxy.SharedSecret)
	assert.True(t, proxy.Complete())

	// The creation request carried our half, the right media type, and
	// the bearer token from the exchange.
	require.Len(t, consumer.CreateRequests, 1)
	created := consumer.CreateRequests[0]
	assert.Equal(t, ToolProxyMediaType, created.ContentType)
	assert.Equal(t, "Bearer test-access-token", created.Authorization)
	assert.Equal(t, proxy.HalfSharedSecret, created.Body["tp_half_shared_secret"])
	assert.Equal(t, consumer.ProfileURL(), created.Body["tcp_url"])
	assert.Equal(t, "https://tool.example.com", created.Body["base_url"])
}

func TestRegister_FreshSecretHalfPerHandshake(t *testing.T) {
	consumer := testutil.NewConsumer()
	defer consumer.Close()

	server, _ := newTestServer(t)

	_, err := server.Register(context.Background(), registrationRequest(consumer))
	require.NoError(t, err)
	_, err = server.Register(context.Background(), registrationRequest(consumer))
	require.NoError(t, err)

	require.Len(t, consumer.CreateRequests, 2)
	assert.NotEqual(t,
		consumer.CreateRequests[0].Body["tp_half_shared_secret"],
		consumer.CreateRequests[1].Body["tp_half_shared_secret"])
}

func TestRegister_Failures(t *testing.T) {
	newFailingConsumer := func(t *testing.T, mutate func(*testutil.Consumer)) (*Server, *memory.Store, *testutil.Consumer) {
		t.Helper()
		consumer := testutil.NewConsumer()
		t.Cleanup(consumer.Close)
		mutate(consumer)
		server, store := newTestServer(t)
		return server, store, consumer
	}

	assertFails := func(t *testing.T, server *Server, store *memory.Store, consumer *testutil.Consumer, wantCode string) {
		t.Helper()
		_, err := server.Register(context.Background(), registrationRequest(consumer))
		require.Error(t, err)

		var protoErr *ProtocolError
		require.True(t, errors.As(err, &protoErr))
		assert.Equal(t, wantCode, protoErr.Code)

		// Nothing may be persisted on any failure.
		proxies, err := store.ListProxies(context.Background())
		require.NoError(t, err)
		assert.Empty(t, proxies)
	}

	t.Run("profile fetch error", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.ProfileStatus = 500
		})
		assertFails(t, server, store, consumer, ErrorCodeTransportFailure)
	})

	t.Run("capability negotiation failure", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.Capabilities = []string{"Result.autocreate"}
		})
		assertFails(t, server, store, consumer, ErrorCodeNegotiationFailed)
	})

	t.Run("security profile failure", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.SecurityProfiles = []map[string]any{
				{"security_profile_name": "oauth2_access_token_ws_security", "digest_algorithm": []string{"RS256"}},
			}
		})
		assertFails(t, server, store, consumer, ErrorCodeNegotiationFailed)
	})

	t.Run("no tool proxy service offered", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.OfferToolProxy = false
		})
		assertFails(t, server, store, consumer, ErrorCodeDiscoveryFailed)
	})

	t.Run("token endpoint rejects", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.TokenStatus = 401
		})
		assertFails(t, server, store, consumer, ErrorCodeTransportFailure)
	})

	t.Run("create endpoint returns 403", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.CreateStatus = 403
		})
		assertFails(t, server, store, consumer, ErrorCodeTransportFailure)
	})

	t.Run("create response missing guid", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.ToolProxyGUID = ""
		})
		assertFails(t, server, store, consumer, ErrorCodeTransportFailure)
	})

	t.Run("create response missing secret half", func(t *testing.T) {
		server, store, consumer := newFailingConsumer(t, func(c *testutil.Consumer) {
			c.TCHalfSharedSecret = ""
		})
		assertFails(t, server, store, consumer, ErrorCodeTransportFailure)
	})
}

func TestDeriveSharedSecret(t *testing.T) {
	// Pure concatenation, consumer half first — never the swapped order.
	assert.Equal(t, "AAABBB", DeriveSharedSecret("AAA", "BBB"))
	assert.NotEqual(t, DeriveSharedSecret("AAA", "BBB"), DeriveSharedSecret("BBB", "AAA"))
	assert.Equal(t, "BBB", DeriveSharedSecret("", "BBB"))
}

func TestNew_Validation(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	t.Run("missing base URL", func(t *testing.T) {
		_, err := New(store, store, &Config{})
		require.Error(t, err)
	})

	t.Run("non-http base URL", func(t *testing.T) {
		_, err := New(store, store, &Config{BaseURL: "ftp://tool.example.com"})
		require.Error(t, err)
	})

	t.Run("missing stores", func(t *testing.T) {
		_, err := New(nil, store, &Config{BaseURL: "https://tool.example.com"})
		require.Error(t, err)
		_, err = New(store, nil, &Config{BaseURL: "https://tool.example.com"})
		require.Error(t, err)
	})
}
