// Package chainlink observes Chainlink price-feed contracts on behalf of
// a set of node operators: which rounds each operator answered, with
// what submission, and what the feed consensus was. FluxAggregator (v3)
// and OCR (v4) feeds are covered by separate collectors sharing a block
// watermark discipline.
package chainlink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/praetor-io/watchtower/pkg/broker"
	"github.com/praetor-io/watchtower/pkg/log"
	"github.com/praetor-io/watchtower/pkg/monitors"
	"github.com/praetor-io/watchtower/pkg/timing"
	"github.com/praetor-io/watchtower/pkg/types"
)

// Catalog and operator addresses move rarely; refreshing them daily
// keeps tick latency dominated by log filtering.
const refreshPeriod = 24 * time.Hour

// NodeConfig describes one Chainlink node whose operator the observer
// reports on. The operator address is discovered from the node's own
// prometheus exposition, not configured.
type NodeConfig struct {
	ID             string
	Name           string
	PrometheusURLs []string
}

// Config is the static configuration of one chain's observer.
type Config struct {
	MonitorName string
	ParentID    string
	CatalogURL  string
	Nodes       []NodeConfig
	Period      time.Duration
}

// Observer is the contract-observer worker for one chain.
type Observer struct {
	cfg        Config
	client     *broker.Client
	sources    []Source
	httpClient *http.Client
	logger     zerolog.Logger

	catalogGate *timing.TaskLimiter
	addressGate *timing.TaskLimiter

	catalog       []CatalogEntry
	addresses     map[string]common.Address
	participating map[common.Address][]CatalogEntry
	reFilter      bool

	// Per node, per proxy: block watermark and highest round observed.
	lastBlock map[string]map[string]uint64
	lastRound map[string]map[string]*float64
}

// NewObserver builds an observer over pre-dialled RPC sources.
func NewObserver(cfg Config, client *broker.Client, sources []Source) *Observer {
	return &Observer{
		cfg:           cfg,
		client:        client,
		sources:       sources,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        log.ForChain(log.WithComponent(cfg.MonitorName), cfg.ParentID),
		catalogGate:   timing.NewTaskLimiter(refreshPeriod),
		addressGate:   timing.NewTaskLimiter(refreshPeriod),
		addresses:     map[string]common.Address{},
		participating: map[common.Address][]CatalogEntry{},
		lastBlock:     map[string]map[string]uint64{},
		lastRound:     map[string]map[string]*float64{},
	}
}

// Name returns the observer's component name.
func (o *Observer) Name() string {
	return o.cfg.MonitorName
}

// Run declares the topology and ticks until cancelled.
func (o *Observer) Run(ctx context.Context) error {
	if err := o.client.DeclareExchange(broker.ExchangeRawData, "topic"); err != nil {
		return err
	}
	if err := o.client.DeclareExchange(broker.ExchangeHealthCheck, "topic"); err != nil {
		return err
	}
	for {
		o.round(ctx)
		if err := broker.Sleep(ctx, o.cfg.Period); err != nil {
			return err
		}
	}
}

func (o *Observer) round(ctx context.Context) {
	clean := true
	now := time.Now()

	if o.catalogGate.CanDoTask(now) {
		entries, err := FetchCatalog(ctx, o.httpClient, o.cfg.CatalogURL)
		if err != nil {
			// Gate not advanced: retried next tick instead of next day.
			o.logger.Error().Err(err).Msg("catalog refresh failed")
			o.publishError(ctx, err)
			clean = false
		} else {
			o.catalog = entries
			o.reFilter = true
			o.catalogGate.DidTask(now)
		}
	}

	if o.addressGate.CanDoTask(now) {
		allResolved := true
		for _, node := range o.cfg.Nodes {
			addr, ok := DiscoverAddress(ctx, o.httpClient, node.PrometheusURLs)
			if !ok {
				o.logger.Warn().Str("node", node.ID).Msg("operator address not discoverable")
				allResolved = false
				continue
			}
			o.addresses[node.ID] = addr
		}
		o.reFilter = true
		if allResolved {
			o.addressGate.DidTask(now)
		} else {
			clean = false
		}
	}

	source, err := SelectSource(ctx, o.sources)
	if err != nil {
		o.logger.Error().Err(err).Msg("no usable rpc source")
		o.publishError(ctx, err)
		return
	}

	if o.reFilter {
		if err := o.refilter(ctx, source.Client); err != nil {
			o.logger.Error().Err(err).Msg("participation refilter failed")
			clean = false
		} else {
			o.reFilter = false
		}
	}

	head, err := source.Client.HeaderByNumber(ctx, nil)
	if err != nil {
		o.logger.Error().Err(err).Str("source", source.URL).Msg("reading chain head failed")
		o.publishError(ctx, err)
		return
	}
	headNumber := head.Number.Uint64()

	for _, node := range o.cfg.Nodes {
		addr, ok := o.addresses[node.ID]
		if !ok {
			continue
		}
		result, err := o.collectOperator(ctx, source.Client, node, addr, headNumber)
		if err != nil {
			// One operator failing must not starve the others; the
			// round as a whole still counts.
			o.logger.Error().Err(err).Str("node", node.ID).Msg("operator collection failed")
			continue
		}
		o.publish(ctx, Message{Result: result})
	}

	if clean {
		o.heartbeat(ctx)
	}
}

// refilter rebuilds the operator-to-feeds participation map from the
// current catalog and addresses.
func (o *Observer) refilter(ctx context.Context, client EVMClient) error {
	next := map[common.Address][]CatalogEntry{}
	for _, entry := range o.catalog {
		aggregator := common.HexToAddress(entry.AggregatorAddress)
		var members []common.Address
		switch entry.ContractVersion {
		case 3:
			vals, err := call(ctx, client, v3ABI, aggregator, "getOracles")
			if err != nil {
				return err
			}
			members = vals[0].([]common.Address)
		case 4:
			vals, err := call(ctx, client, v4ABI, aggregator, "transmitters")
			if err != nil {
				return err
			}
			members = vals[0].([]common.Address)
		default:
			o.logger.Warn().Int("version", entry.ContractVersion).Str("proxy", entry.ProxyAddress).Msg("skipping feed with unknown version")
			continue
		}
		for _, addr := range o.addresses {
			for _, member := range members {
				if member == addr {
					next[addr] = append(next[addr], entry)
					break
				}
			}
		}
	}
	o.participating = next
	return nil
}

func (o *Observer) collectOperator(ctx context.Context, client EVMClient,
	node NodeConfig, operator common.Address, head uint64) (*Result, error) {

	data := map[string]ContractData{}
	for _, entry := range o.participating[operator] {
		window := o.window(node.ID, entry.ProxyAddress, head)
		switch entry.ContractVersion {
		case 3:
			cd, watermark, err := collectV3(ctx, client, operator, entry, window,
				o.priorRound(node.ID, entry.ProxyAddress))
			if err != nil {
				return nil, err
			}
			o.remember(node.ID, entry.ProxyAddress, watermark, cd.LastRoundObserved)
			data[entry.ProxyAddress] = cd
		case 4:
			cd, participating, err := collectV4(ctx, client, operator, entry, window,
				o.priorRound(node.ID, entry.ProxyAddress))
			if err != nil {
				return nil, err
			}
			if !participating {
				continue
			}
			o.remember(node.ID, entry.ProxyAddress, window.To, cd.LastRoundObserved)
			data[entry.ProxyAddress] = cd
		}
	}

	return &Result{
		Meta: types.Meta{
			MonitorName: o.cfg.MonitorName,
			EntityID:    node.ID,
			EntityName:  node.Name,
			ParentID:    o.cfg.ParentID,
			Time:        float64(time.Now().Unix()),
		},
		Data: data,
	}, nil
}

// window computes the block range for one feed. On first sight only the
// head block is examined; afterwards the range resumes one past the
// watermark, clamped so it never runs ahead of the head.
func (o *Observer) window(nodeID, proxy string, head uint64) Window {
	marks, ok := o.lastBlock[nodeID]
	if !ok {
		return Window{From: head, To: head}
	}
	last, ok := marks[proxy]
	if !ok {
		return Window{From: head, To: head}
	}
	from := last + 1
	if from > head {
		from = head
	}
	return Window{From: from, To: head}
}

func (o *Observer) priorRound(nodeID, proxy string) *float64 {
	if rounds, ok := o.lastRound[nodeID]; ok {
		return rounds[proxy]
	}
	return nil
}

func (o *Observer) remember(nodeID, proxy string, watermark uint64, lastRound *float64) {
	if _, ok := o.lastBlock[nodeID]; !ok {
		o.lastBlock[nodeID] = map[string]uint64{}
		o.lastRound[nodeID] = map[string]*float64{}
	}
	o.lastBlock[nodeID][proxy] = watermark
	o.lastRound[nodeID][proxy] = lastRound
}

func (o *Observer) publish(ctx context.Context, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		o.logger.Error().Err(err).Msg("encoding envelope failed")
		return
	}
	key := broker.RawDataKey(string(types.KindChainlinkContracts), o.cfg.ParentID)
	if err := o.client.PublishConfirm(ctx, broker.ExchangeRawData, key, body); err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("raw data not delivered")
	}
}

// publishError emits the single chain-level error payload.
func (o *Observer) publishError(ctx context.Context, cause error) {
	code := types.CodeDataReading
	var pe *monitors.ProbeError
	if errors.As(cause, &pe) {
		code = pe.Code
	}
	o.publish(ctx, Message{Error: &types.RawError{
		Meta: types.Meta{
			MonitorName: o.cfg.MonitorName,
			EntityID:    o.cfg.ParentID,
			EntityName:  o.cfg.ParentID,
			ParentID:    o.cfg.ParentID,
			Time:        float64(time.Now().Unix()),
		},
		Message: cause.Error(),
		Code:    code,
	}})
}

func (o *Observer) heartbeat(ctx context.Context) {
	hb := types.WorkerHeartbeat{
		ComponentName: o.cfg.MonitorName,
		IsAlive:       true,
		Timestamp:     float64(time.Now().Unix()),
	}
	body, _ := json.Marshal(hb)
	if err := o.client.PublishConfirm(ctx, broker.ExchangeHealthCheck, broker.KeyWorkerHeartbeat, body); err != nil {
		o.logger.Warn().Err(err).Msg("heartbeat publish failed")
	}
}
