package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dreamerumesh/connecTu-backend/internal/config"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistration(t *testing.T) {
	reg := Registration(config.ConsulConf{ServiceName: "chat", ServiceAddress: "10.0.0.7"}, 5000)
	assert.Equal(t, "chat-10.0.0.7-5000", reg.ID)
	assert.Equal(t, "chat", reg.Name)
	assert.Equal(t, 5000, reg.Port)
	assert.Equal(t, "http://10.0.0.7:5000/health", reg.Check.HTTP)
}

func TestNoopWithoutAgent(t *testing.T) {
	r, err := New(config.ConsulConf{}, 5000, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, r.Register(context.Background()))
	assert.NoError(t, r.Deregister(context.Background()))
}

func TestConsulRegisterAndDeregister(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	var got consulapi.AgentServiceRegistration
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/register") {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer agent.Close()

	r, err := New(config.ConsulConf{
		Addr:           strings.TrimPrefix(agent.URL, "http://"),
		ServiceName:    "chat",
		ServiceAddress: "127.0.0.1",
	}, 5000, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, r.Register(context.Background()))
	require.NoError(t, r.Deregister(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PUT /v1/agent/service/register",
		"PUT /v1/agent/service/deregister/chat-127.0.0.1-5000",
	}, calls)
	assert.Equal(t, "chat", got.Name)
	assert.Equal(t, 5000, got.Port)
}
