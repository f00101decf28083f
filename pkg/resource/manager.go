package resource

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zurustar/ootw/pkg/fileutil"
	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/unpack"
	"golang.org/x/sync/errgroup"
)

// entry is the cache slot of one resource.
type entry struct {
	desc     Descriptor
	required bool
	data     []byte // unpacked bytes, nil until resolved
}

// Manager resolves resource ids to unpacked bytes.
//
// Resources go through three states: unresolved, required (an explicit load
// step happened for the current scene), and cached. Cached slices are never
// modified and may be shared freely; Evict drops them all at scene change.
type Manager struct {
	fsys    fileutil.FileSystem
	entries []entry
	log     *slog.Logger

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager reads the memlist index from fsys.
func NewManager(fsys fileutil.FileSystem, opts ...Option) (*Manager, error) {
	f, err := fsys.Open(MemListName)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in %s: %w", MemListName, fsys.BasePath(), err)
	}
	defer f.Close()

	descs, err := ParseMemList(f)
	if err != nil {
		return nil, err
	}
	return NewManagerFromDescriptors(fsys, descs, opts...), nil
}

// NewManagerFromDescriptors builds a Manager over an already parsed index.
func NewManagerFromDescriptors(fsys fileutil.FileSystem, descs []Descriptor, opts ...Option) *Manager {
	m := &Manager{
		fsys:    fsys,
		entries: make([]entry, len(descs)),
		log:     logger.GetLogger(),
	}
	for i, d := range descs {
		d.ID = i
		m.entries[i].desc = d
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log.Debug("Resource index loaded", "count", len(descs), "path", fsys.BasePath())
	return m
}

// Len returns the number of entries of the index, id 0 included.
func (m *Manager) Len() int {
	return len(m.entries)
}

func (m *Manager) lookup(id int) (*entry, error) {
	// id 0 is a placeholder entry in the original index
	if id <= 0 || id >= len(m.entries) {
		return nil, fmt.Errorf("resource 0x%02x: %w", id, ErrUnknownResource)
	}
	return &m.entries[id], nil
}

// Descriptor returns the index entry of id.
func (m *Manager) Descriptor(id int) (Descriptor, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Descriptor{}, err
	}
	return e.desc, nil
}

// Descriptors returns a copy of the whole index.
func (m *Manager) Descriptors() []Descriptor {
	descs := make([]Descriptor, len(m.entries))
	for i := range m.entries {
		descs[i] = m.entries[i].desc
	}
	return descs
}

// Require marks ids as loaded for the current scene. It is the explicit load
// step that makes them resolvable; the data itself is read on first Resolve.
func (m *Manager) Require(ids ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.lookup(id); err != nil {
			return err
		}
	}
	for _, id := range ids {
		m.entries[id].required = true
	}
	return nil
}

// Resolve returns the unpacked bytes of a required resource, reading and
// unpacking them on first use. The returned slice must not be modified.
func (m *Manager) Resolve(id int) ([]byte, error) {
	m.mu.Lock()
	e, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !e.required {
		m.mu.Unlock()
		return nil, fmt.Errorf("resource 0x%02x (%s): %w", id, e.desc.Type, ErrResourceNotLoaded)
	}
	if e.data != nil {
		data := e.data
		m.mu.Unlock()
		return data, nil
	}
	desc := e.desc
	m.mu.Unlock()

	data, err := m.read(desc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !e.required {
		// evicted while reading
		return nil, fmt.Errorf("resource 0x%02x (%s): %w", id, desc.Type, ErrResourceNotLoaded)
	}
	if e.data == nil {
		e.data = data
	}
	return e.data, nil
}

// Load requires and resolves a single resource.
func (m *Manager) Load(id int) ([]byte, error) {
	if err := m.Require(id); err != nil {
		return nil, err
	}
	return m.Resolve(id)
}

// Evict drops every cached resource and requirement.
func (m *Manager) Evict() {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for i := range m.entries {
		if m.entries[i].data != nil {
			evicted++
		}
		m.entries[i].required = false
		m.entries[i].data = nil
	}
	m.log.Debug("Resources evicted", "count", evicted)
}

// Loaded returns the ids currently required, in ascending order.
func (m *Manager) Loaded() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int
	for i := range m.entries {
		if m.entries[i].required {
			ids = append(ids, i)
		}
	}
	return ids
}

// read fetches and unpacks a resource from its bank.
func (m *Manager) read(d Descriptor) ([]byte, error) {
	m.log.Info("Loading resource", "id", fmt.Sprintf("0x%02x", d.ID), "type", d.Type.String(),
		"size", d.Size, "packed", d.PackedSize, "bank", d.BankName())

	if d.Size == 0 {
		return []byte{}, nil
	}
	if d.PackedSize > d.Size {
		return nil, fmt.Errorf("resource 0x%02x: stored size %d exceeds unpacked size %d: %w",
			d.ID, d.PackedSize, d.Size, unpack.ErrCorruptResource)
	}

	raw, err := fileutil.ReadSection(m.fsys, d.BankName(), int64(d.BankOffset), d.PackedSize)
	if err != nil {
		return nil, fmt.Errorf("resource 0x%02x: %w", d.ID, err)
	}
	if !d.Packed() {
		return raw, nil
	}

	data, err := unpack.Unpack(raw, d.Size)
	if err != nil {
		return nil, fmt.Errorf("resource 0x%02x (%s, %s@0x%x): %w", d.ID, d.Type, d.BankName(), d.BankOffset, err)
	}
	return data, nil
}

// LoadAll requires and resolves every non-empty resource, unpacking up to
// workers resources concurrently. Used by tooling, not by the engine.
func (m *Manager) LoadAll(ctx context.Context, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for id := 1; id < len(m.entries); id++ {
		if m.entries[id].desc.Size == 0 {
			continue
		}
		if err := m.Require(id); err != nil {
			return err
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := m.Resolve(id)
			return err
		})
	}
	return g.Wait()
}

// TypeStats summarizes the entries of one resource type.
type TypeStats struct {
	Type       Type
	Count      int
	PackedSize int
	Size       int
}

// Stats returns per-type totals of the index, ordered by type.
func (m *Manager) Stats() []TypeStats {
	byType := make(map[Type]*TypeStats)
	for _, e := range m.entries {
		s, ok := byType[e.desc.Type]
		if !ok {
			s = &TypeStats{Type: e.desc.Type}
			byType[e.desc.Type] = s
		}
		s.Count++
		s.PackedSize += e.desc.PackedSize
		s.Size += e.desc.Size
	}

	stats := make([]TypeStats, 0, len(byType))
	for _, s := range byType {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Type < stats[j].Type })
	return stats
}

// LogStats logs the output of Stats.
func (m *Manager) LogStats() {
	for _, s := range m.Stats() {
		m.log.Info("Resource stats", "type", s.Type.String(), "entries", s.Count, "packed", s.PackedSize, "size", s.Size)
	}
}

// FormatIndex renders the index as a table, one resource per line.
func (m *Manager) FormatIndex() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%-6s %-10s %-6s %-10s %8s %8s\n", "id", "type", "bank", "offset", "packed", "size")
	for _, d := range m.Descriptors() {
		if d.ID == 0 {
			continue
		}
		fmt.Fprintf(&buf, "0x%02x   %-10s %-6s 0x%08x %8d %8d\n", d.ID, d.Type, d.BankName(), d.BankOffset, d.PackedSize, d.Size)
	}
	return buf.String()
}
