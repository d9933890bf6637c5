package consul

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

type Registration struct {
	ServiceName string
	Host        string
	Port        int
}

// ID is unique per instance so several replicas can register under one name.
func (r Registration) ID() string {
	return fmt.Sprintf("%s-%s", r.ServiceName, net.JoinHostPort(r.Host, strconv.Itoa(r.Port)))
}

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// Register adds this instance to the agent with an HTTP health check against
// the /ping route.
func Register(client *consulapi.Client, r Registration) error {
	check := &consulapi.AgentServiceCheck{
		HTTP:                           fmt.Sprintf("http://%s/ping", net.JoinHostPort(r.Host, strconv.Itoa(r.Port))),
		Interval:                       "10s",
		Timeout:                        "2s",
		DeregisterCriticalServiceAfter: "1m",
	}
	reg := &consulapi.AgentServiceRegistration{
		ID:      r.ID(),
		Name:    r.ServiceName,
		Address: r.Host,
		Port:    r.Port,
		Check:   check,
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register %s: %w", r.ServiceName, err)
	}
	return nil
}

func Deregister(client *consulapi.Client, r Registration) error {
	if err := client.Agent().ServiceDeregister(r.ID()); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", r.ServiceName, err)
	}
	return nil
}
