package stun

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/dropline/pkg/logger"
	"github.com/pion/stun/v2"
)

// Client discovers the public address a NAT maps this host to.
type Client struct {
	serverAddr      string
	currentEndpoint string
	mu              sync.RWMutex
	lastQuery       time.Time
}

const (
	queryTimeout      = 3 * time.Second
	retransmitTimeout = 250 * time.Millisecond
)

type EndpointInfo struct {
	PublicEndpoint string
	Changed        bool
}

func NewClient(serverAddr string) *Client {
	return &Client{serverAddr: serverAddr}
}

func (s *Client) CurrentEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentEndpoint
}

func (s *Client) LastQuery() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastQuery
}

// QueryEndpoint sends one binding request and returns the XOR-mapped address.
// It gives up after queryTimeout even when ctx has no deadline.
func (s *Client) QueryEndpoint(ctx context.Context) (*EndpointInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial STUN server: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	client, err := stun.NewClient(conn, stun.WithRTO(retransmitTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create STUN client: %w", err)
	}
	defer client.Close()

	type result struct {
		addr stun.XORMappedAddress
		err  error
	}
	results := make(chan result, 1)
	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	err = client.Start(message, func(res stun.Event) {
		var r result
		if res.Error != nil {
			r.err = res.Error
		} else if err := r.addr.GetFrom(res.Message); err != nil {
			r.err = fmt.Errorf("failed to get XOR mapped address: %w", err)
		}
		select {
		case results <- r:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("STUN query failed: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("STUN query failed: %w", ctx.Err())
	case r := <-results:
		if r.err != nil {
			return nil, fmt.Errorf("STUN query failed: %w", r.err)
		}
		xorAddr = r.addr
	}

	endpoint := net.JoinHostPort(xorAddr.IP.String(), strconv.Itoa(xorAddr.Port))
	s.mu.Lock()
	changed := s.currentEndpoint != endpoint
	if changed {
		s.currentEndpoint = endpoint
		logger.Log.Info("STUN endpoint discovered", "endpoint", endpoint)
	}
	s.lastQuery = time.Now()
	s.mu.Unlock()

	return &EndpointInfo{PublicEndpoint: endpoint, Changed: changed}, nil
}

// StartPeriodicQuery refreshes the endpoint until ctx ends and calls onChange
// whenever the mapped address moves.
func (s *Client) StartPeriodicQuery(ctx context.Context, interval time.Duration, onChange func(endpoint string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := s.QueryEndpoint(ctx)
			if err != nil {
				logger.Log.Warn("Periodic STUN query failed", "err", err)
				continue
			}
			if info.Changed && onChange != nil {
				onChange(info.PublicEndpoint)
			}
		}
	}
}
