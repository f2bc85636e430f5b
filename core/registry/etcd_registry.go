package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	etcclientv3 "go.etcd.io/etcd/client/v3"
)

// NodeInfo is the value stored under a node key.
type NodeInfo struct {
	NodeID    string    `json:"node_id"`
	NodeType  string    `json:"node_type"`
	Addr      string    `json:"addr"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

type EtcdRegistryOpts struct {
	Prefix     string
	NodeID     string
	NodeType   string
	TimeoutSec int64
	Log        *slog.Logger
}

// EtcdRegistry keeps one node key alive under a lease. The key vanishes
// when the process dies and the lease runs out.
type EtcdRegistry struct {
	cli     *etcclientv3.Client
	nodekey string
	opts    EtcdRegistryOpts
	closed  chan struct{}
	mu      sync.RWMutex
	leaseID etcclientv3.LeaseID
	cancel  context.CancelFunc
}

func NodesPrefix(prefix, nodeType string) string {
	return strings.Join([]string{prefix, "nodes", nodeType}, "/") + "/"
}

func NewEtcdRegistry(cli *etcclientv3.Client, opts EtcdRegistryOpts) (*EtcdRegistry, error) {
	if opts.TimeoutSec < 5 {
		opts.TimeoutSec = 5
	}
	if opts.NodeID == "" || opts.NodeType == "" {
		return nil, fmt.Errorf("registry needs node id and type")
	}
	if opts.Log == nil {
		opts.Log = slog.Default().With("module", "registry")
	}

	grantResp, err := cli.Grant(context.Background(), opts.TimeoutSec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	kaC, err := cli.KeepAlive(ctx, grantResp.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	ret := &EtcdRegistry{
		cli:     cli,
		nodekey: NodesPrefix(opts.Prefix, opts.NodeType) + opts.NodeID,
		opts:    opts,
		closed:  make(chan struct{}),
		leaseID: grantResp.ID,
		cancel:  cancel,
	}

	go func() {
		for range kaC {
		}
		select {
		case <-ret.closed:
		default:
			ret.opts.Log.Warn("registry lease keepalive ended", "key", ret.nodekey)
		}
	}()
	return ret, nil
}

func (reg *EtcdRegistry) timeout() time.Duration {
	return time.Duration(reg.opts.TimeoutSec) * time.Second
}

func (reg *EtcdRegistry) Register(info NodeInfo) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	info.NodeID = reg.opts.NodeID
	info.NodeType = reg.opts.NodeType
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), reg.timeout())
	defer cancel()
	_, err = reg.cli.Put(ctx, reg.nodekey, string(data), etcclientv3.WithLease(reg.leaseID))
	return err
}

// Nodes lists every live node of the registry's node type.
func (reg *EtcdRegistry) Nodes(ctx context.Context) ([]NodeInfo, error) {
	resp, err := reg.cli.Get(ctx, NodesPrefix(reg.opts.Prefix, reg.opts.NodeType), etcclientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	ret := make([]NodeInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		info := NodeInfo{}
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			reg.opts.Log.Warn("skip bad node entry", "key", string(kv.Key), "err", err)
			continue
		}
		ret = append(ret, info)
	}
	return ret, nil
}

// Close drops the node key and its lease. The etcd client is left open.
func (reg *EtcdRegistry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	select {
	case <-reg.closed:
		return nil
	default:
	}
	close(reg.closed)
	reg.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), reg.timeout())
	defer cancel()
	_, err := reg.cli.Revoke(ctx, reg.leaseID)
	return err
}
