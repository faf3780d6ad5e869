// Package contract loads contract descriptor files: the ABI of a contract
// and the address it is deployed at on each network.
package contract

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/84hero/chain-scanner/pkg/decoder"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Kind is the kind of an ABI entry.
type Kind string

const (
	KindFunction Kind = "function"
	KindEvent    Kind = "event"
)

// Entity describes one function or event of a contract.
type Entity struct {
	Kind     Kind
	Name     string
	Inputs   []decoder.Param
	Outputs  []decoder.Param
	Constant bool
}

// Network holds the deployment of a contract on one network.
type Network struct {
	Address string `json:"address"`
}

// Descriptor is a parsed contract descriptor file.
type Descriptor struct {
	Name     string
	ABI      abi.ABI
	Entities []Entity // declaration order
	Networks map[string]Network
}

type rawEntry struct {
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Inputs          []decoder.Param `json:"inputs"`
	Outputs         []decoder.Param `json:"outputs"`
	Constant        bool            `json:"constant"`
	StateMutability string          `json:"stateMutability"`
}

type rawDescriptor struct {
	ABI      json.RawMessage    `json:"abi"`
	Networks map[string]Network `json:"networks"`
}

// Parse decodes a descriptor document.
func Parse(name string, data []byte) (*Descriptor, error) {
	var raw rawDescriptor
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "contract %s: invalid descriptor", name)
	}
	if len(raw.ABI) == 0 {
		return nil, errors.Errorf("contract %s: descriptor has no abi", name)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, errors.Wrapf(err, "contract %s: invalid abi", name)
	}

	var entries []rawEntry
	if err := json.Unmarshal(raw.ABI, &entries); err != nil {
		return nil, errors.Wrapf(err, "contract %s: invalid abi", name)
	}

	d := &Descriptor{
		Name:     name,
		ABI:      parsed,
		Networks: raw.Networks,
	}
	for _, e := range entries {
		kind := Kind(e.Type)
		// entries without a type are functions
		if e.Type == "" {
			kind = KindFunction
		}
		if kind != KindFunction && kind != KindEvent {
			continue
		}
		d.Entities = append(d.Entities, Entity{
			Kind:     kind,
			Name:     e.Name,
			Inputs:   e.Inputs,
			Outputs:  e.Outputs,
			Constant: e.Constant || e.StateMutability == "view" || e.StateMutability == "pure",
		})
	}
	return d, nil
}

// Address returns the deployed address on networkID.
func (d *Descriptor) Address(networkID string) (string, error) {
	n, ok := d.Networks[networkID]
	if !ok || n.Address == "" {
		return "", errors.Errorf("contract %s is not deployed on network %s", d.Name, networkID)
	}
	return n.Address, nil
}

func (d *Descriptor) find(kind Kind, name string) (Entity, bool) {
	for _, e := range d.Entities {
		if e.Kind == kind && e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}

// Event looks up an event by name.
func (d *Descriptor) Event(name string) (Entity, bool) {
	return d.find(KindEvent, name)
}

// EventID returns the topic go-ethereum derives for the named event from the
// full ABI, tuple components included.
func (d *Descriptor) EventID(name string) (common.Hash, bool) {
	ev, ok := d.ABI.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return ev.ID, true
}

// Function looks up a function by name. Overloads resolve to the first one.
func (d *Descriptor) Function(name string) (Entity, bool) {
	return d.find(KindFunction, name)
}

// ConstantProperties returns the read-only functions taking no argument and
// returning one value.
func (d *Descriptor) ConstantProperties() []Entity {
	var out []Entity
	for _, e := range d.Entities {
		if e.Kind == KindFunction && e.Constant && len(e.Inputs) == 0 && len(e.Outputs) == 1 {
			out = append(out, e)
		}
	}
	return out
}

// AddressAccessors returns the read-only functions taking a single address
// and returning one value.
func (d *Descriptor) AddressAccessors() []Entity {
	var out []Entity
	for _, e := range d.Entities {
		if e.Kind == KindFunction && e.Constant && len(e.Inputs) == 1 &&
			e.Inputs[0].Type == "address" && len(e.Outputs) == 1 {
			out = append(out, e)
		}
	}
	return out
}

// Registry loads descriptors from <dir>/<name>.json and caches them for the
// lifetime of the process.
type Registry struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Descriptor
}

// NewRegistry creates a registry reading from dir.
func NewRegistry(dir string) *Registry {
	if dir == "" {
		dir = "."
	}
	return &Registry{
		dir:   dir,
		cache: make(map[string]*Descriptor),
	}
}

// Register adds an already parsed descriptor.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[d.Name] = d
}

// Load returns the descriptor of the named contract.
func (r *Registry) Load(name string) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.cache[name]; ok {
		return d, nil
	}

	path := filepath.Join(r.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "contract %s", name)
	}
	d, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	r.cache[name] = d
	return d, nil
}

// ContractAddress returns the lowercase address of the named contract on
// networkID.
func (r *Registry) ContractAddress(name, networkID string) (string, error) {
	d, err := r.Load(name)
	if err != nil {
		return "", err
	}
	addr, err := d.Address(networkID)
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr), nil
}
