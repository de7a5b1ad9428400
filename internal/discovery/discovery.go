// Package discovery registers this node with Consul so a gateway in front
// of several nodes can find the healthy ones.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/config"
	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Registrar interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type noopRegistrar struct{}

func (noopRegistrar) Register(context.Context) error   { return nil }
func (noopRegistrar) Deregister(context.Context) error { return nil }

type consulRegistrar struct {
	client *consulapi.Client
	reg    *consulapi.AgentServiceRegistration
	logger *zap.Logger
}

// New returns a Consul registrar when an agent address is configured, and a
// no-op otherwise.
func New(cfg config.ConsulConf, port int, logger *zap.Logger) (Registrar, error) {
	if cfg.Addr == "" {
		return noopRegistrar{}, nil
	}
	ccfg := consulapi.DefaultConfig()
	ccfg.Address = cfg.Addr
	client, err := consulapi.NewClient(ccfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &consulRegistrar{
		client: client,
		reg:    Registration(cfg, port),
		logger: logger,
	}, nil
}

// Registration builds the service entry with an HTTP health check on
// /health.
func Registration(cfg config.ConsulConf, port int) *consulapi.AgentServiceRegistration {
	addr := cfg.ServiceAddress
	if addr == "" {
		addr, _ = os.Hostname()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "connectu-backend"
	}
	return &consulapi.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", name, addr, port),
		Name:    name,
		Address: addr,
		Port:    port,
		Tags:    []string{"http", "ws"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           "http://" + net.JoinHostPort(addr, strconv.Itoa(port)) + "/health",
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: (time.Minute).String(),
		},
	}
}

func (r *consulRegistrar) Register(ctx context.Context) error {
	opts := consulapi.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.client.Agent().ServiceRegisterOpts(r.reg, opts); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	r.logger.Info("registered with consul", zap.String("id", r.reg.ID))
	return nil
}

func (r *consulRegistrar) Deregister(ctx context.Context) error {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().ServiceDeregisterOpts(r.reg.ID, q); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	return nil
}
