// Package decoder turns raw EVM logs into named events using registered
// contract ABIs.
package decoder

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DecodedEvent is a log resolved against a registered ABI.
type DecodedEvent struct {
	// EventID is "Contract:Event", the handler registry key.
	EventID string

	// ContractName is the name the contract was registered under.
	ContractName string

	// EventName is the ABI event name.
	EventName string

	// Address is the emitting contract.
	Address common.Address

	// Data holds indexed and non-indexed arguments by ABI name.
	Data map[string]interface{}
}

type contract struct {
	name   string
	abi    abi.ABI
	events map[common.Hash]string
}

// Decoder resolves logs by emitter address first and falls back to the
// event signature alone. It is safe for concurrent use.
type Decoder struct {
	mu sync.RWMutex

	// abis maps an emitter address to its registered contract.
	abis map[common.Address]*contract

	// events maps an event id to its ABI definition.
	events map[string]abi.Event

	// sigToID maps topic0 to an event id. The last registration wins.
	sigToID map[common.Hash]string
}

// New creates an empty decoder.
func New() *Decoder {
	return &Decoder{
		abis:    make(map[common.Address]*contract),
		events:  make(map[string]abi.Event),
		sigToID: make(map[common.Hash]string),
	}
}

// RegisterContract parses abiJSON and registers eventNames under name for
// logs emitted by address. A nil eventNames registers every event.
//
// Returns:
//   - error: nil on success, parse error on invalid ABI JSON
func (d *Decoder) RegisterContract(name string, address common.Address, abiJSON string, eventNames []string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parsing ABI for %s: %w", name, err)
	}

	wanted := make(map[string]bool, len(eventNames))
	for _, n := range eventNames {
		wanted[n] = true
	}

	c := &contract{name: name, abi: parsed, events: make(map[common.Hash]string)}

	d.mu.Lock()
	defer d.mu.Unlock()

	for evName, ev := range parsed.Events {
		if eventNames != nil && !wanted[evName] {
			continue
		}
		id := name + ":" + evName
		d.events[id] = ev
		d.sigToID[ev.ID] = id
		c.events[ev.ID] = id
	}
	d.abis[address] = c

	return nil
}

// AddAddress registers address as another emitter of an already registered
// contract. Discovered campaign proxies share one ABI.
//
// Returns:
//   - error: nil on success, error when name was never registered
func (d *Decoder) AddAddress(name string, address common.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.abis[address]; ok {
		return nil
	}
	for _, c := range d.abis {
		if c.name == name {
			d.abis[address] = c
			return nil
		}
	}
	return fmt.Errorf("contract %s not registered", name)
}

// Decode resolves log into a DecodedEvent.
//
// Returns:
//   - *DecodedEvent: decoded event with arguments
//   - error: nil on success, error when the log cannot be decoded
func (d *Decoder) Decode(log types.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	d.mu.RLock()
	id, ok := d.lookup(log)
	var ev abi.Event
	if ok {
		ev = d.events[id]
	}
	d.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown event signature %s", log.Topics[0].Hex())
	}

	data := make(map[string]interface{}, len(ev.Inputs))

	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if len(log.Topics)-1 < len(indexed) {
			return nil, fmt.Errorf("event %s: want %d indexed topics, got %d", id, len(indexed), len(log.Topics)-1)
		}
		if err := abi.ParseTopicsIntoMap(data, indexed, log.Topics[1:len(indexed)+1]); err != nil {
			return nil, fmt.Errorf("event %s: parsing topics: %w", id, err)
		}
	}

	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(data, log.Data); err != nil {
			return nil, fmt.Errorf("event %s: unpacking data: %w", id, err)
		}
	}

	name, evName, _ := strings.Cut(id, ":")
	return &DecodedEvent{
		EventID:      id,
		ContractName: name,
		EventName:    evName,
		Address:      log.Address,
		Data:         data,
	}, nil
}

// lookup must be called with d.mu held.
func (d *Decoder) lookup(log types.Log) (string, bool) {
	if c, ok := d.abis[log.Address]; ok {
		if id, ok := c.events[log.Topics[0]]; ok {
			return id, true
		}
	}
	id, ok := d.sigToID[log.Topics[0]]
	return id, ok
}

// CanDecode reports whether log has a registered event signature.
func (d *Decoder) CanDecode(log types.Log) bool {
	_, ok := d.GetEventID(log)
	return ok
}

// GetEventID returns the event id log would decode to.
func (d *Decoder) GetEventID(log types.Log) (string, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(log)
}

// GetEventSignatures returns the topic0 of every registered event.
func (d *Decoder) GetEventSignatures() []common.Hash {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sigs := make([]common.Hash, 0, len(d.sigToID))
	for sig := range d.sigToID {
		sigs = append(sigs, sig)
	}
	return sigs
}

// GetAddresses returns every registered emitter address.
func (d *Decoder) GetAddresses() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]common.Address, 0, len(d.abis))
	for addr := range d.abis {
		addrs = append(addrs, addr)
	}
	return addrs
}

// AddressesOf returns the emitter addresses registered under name.
func (d *Decoder) AddressesOf(name string) []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var addrs []common.Address
	for addr, c := range d.abis {
		if c.name == name {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Clear removes all registrations.
func (d *Decoder) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.abis = make(map[common.Address]*contract)
	d.events = make(map[string]abi.Event)
	d.sigToID = make(map[common.Hash]string)
}
