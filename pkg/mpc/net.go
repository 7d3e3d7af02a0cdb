package mpc

import (
	"context"
	"errors"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

const (
	topicInputs  = "dp-inputs"
	topicOutputs = "dp-outputs"

	submitTimeout = 10 * time.Second
)

// InputWire is the published form of a submission.
type InputWire struct {
	Circuit CircuitID
	ID      ComputationID
	Inputs  []byte
}

// OutputWire carries a signed envelope back from the cluster.
type OutputWire struct {
	Output Output
}

// ClusterConfig configures a gossipsub connection to the execution
// cluster.
type ClusterConfig struct {
	ListenAddr string   // multiaddr, e.g. /ip4/0.0.0.0/tcp/9100
	Bootstrap  []string // multiaddrs of known cluster members
	Verifier   *Verifier
	Logger     *zap.Logger
}

// ClusterClient submits computations to a remote cluster over libp2p
// gossipsub and waits for verified output envelopes. Submissions and
// results travel on separate topics; results are matched to waiters by
// computation id.
type ClusterClient struct {
	h        host.Host
	ps       *pubsub.PubSub
	verifier *Verifier
	log      *zap.Logger

	tInputs, tOutputs     *pubsub.Topic
	subInputs, subOutputs *pubsub.Subscription

	muPending sync.Mutex
	pending   map[ComputationID]chan Output
}

func NewClusterClient(ctx context.Context, cfg ClusterConfig) (*ClusterClient, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	c := &ClusterClient{
		h: h, ps: ps,
		verifier: cfg.Verifier,
		log:      cfg.Logger,
		pending:  make(map[ComputationID]chan Output),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("bootstrap connect failed", zap.String("addr", bs), zap.Error(err))
		}
	}

	if err := c.joinTopics(); err != nil {
		return nil, err
	}
	go c.handleOutputs(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Info("cluster client ready",
			zap.String("peer", h.ID().String()),
			zap.String("listen", cfg.ListenAddr),
		)
	}
	return c, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (c *ClusterClient) joinTopics() error {
	var err error
	if c.tInputs, err = c.ps.Join(topicInputs); err != nil {
		return err
	}
	if c.tOutputs, err = c.ps.Join(topicOutputs); err != nil {
		return err
	}
	if c.subInputs, err = c.tInputs.Subscribe(); err != nil {
		return err
	}
	if c.subOutputs, err = c.tOutputs.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (c *ClusterClient) Host() host.Host { return c.h }

func (c *ClusterClient) Close() error { return c.h.Close() }

// Submit publishes a computation and suspends until a verified envelope
// for it arrives, the timeout lapses, or ctx ends. Any failure surfaces
// as ComputationAborted.
func (c *ClusterClient) Submit(ctx context.Context, circuit CircuitID, inputs []byte) (Output, error) {
	id := ComputeID(circuit, inputs)

	ch := make(chan Output, 1)
	c.muPending.Lock()
	c.pending[id] = ch
	c.muPending.Unlock()
	defer func() {
		c.muPending.Lock()
		delete(c.pending, id)
		c.muPending.Unlock()
	}()

	data, err := gobEncode(InputWire{Circuit: circuit, ID: id, Inputs: inputs})
	if err != nil {
		return Output{}, err
	}
	if err := c.tInputs.Publish(ctx, data); err != nil {
		return Output{}, err
	}

	deadline := time.NewTimer(submitTimeout)
	defer deadline.Stop()

	select {
	case out := <-ch:
		return out, nil
	case <-deadline.C:
		return Output{}, errors.Join(ErrComputationAborted, errors.New("timeout waiting for cluster output"))
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

// handleOutputs delivers verified envelopes to their waiters. Envelopes
// that fail aggregate verification are dropped, so a timeout upstream
// turns them into ComputationAborted.
func (c *ClusterClient) handleOutputs(ctx context.Context) {
	for {
		msg, err := c.subOutputs.Next(ctx)
		if err != nil {
			return
		}
		var w OutputWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		if c.verifier != nil && !c.verifier.Verify(&w.Output) {
			if c.log != nil {
				c.log.Warn("dropping unverified cluster output",
					zap.String("circuit", string(w.Output.Circuit)))
			}
			continue
		}

		c.muPending.Lock()
		ch, ok := c.pending[w.Output.ID]
		c.muPending.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- w.Output:
		default:
		}
	}
}

// ServeMember runs one cluster member: consume submissions from the
// inputs topic, execute them on the given engine, publish signed
// envelopes on the outputs topic. Blocks until ctx ends.
func (c *ClusterClient) ServeMember(ctx context.Context, engine Engine) {
	for {
		msg, err := c.subInputs.Next(ctx)
		if err != nil {
			return
		}
		var w InputWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}

		out, err := engine.Submit(ctx, w.Circuit, w.Inputs)
		if err != nil {
			if c.log != nil {
				c.log.Warn("member execution failed",
					zap.String("circuit", string(w.Circuit)), zap.Error(err))
			}
			continue
		}
		data, err := gobEncode(OutputWire{Output: out})
		if err != nil {
			continue
		}
		if err := c.tOutputs.Publish(ctx, data); err != nil && c.log != nil {
			c.log.Warn("publish output failed", zap.Error(err))
		}
	}
}
