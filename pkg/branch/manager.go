package branch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fsxdb/fsx/internal/logger"
	"github.com/fsxdb/fsx/internal/metrics"
	"github.com/fsxdb/fsx/pkg/blob"
	"github.com/fsxdb/fsx/pkg/catalog"
	"github.com/fsxdb/fsx/pkg/errs"
	"github.com/fsxdb/fsx/pkg/extentstore"
)

// Config configures a Manager. The same Catalog and Backend are shared by
// every branch's ExtentStorage; only the blob-key prefix differs per branch.
type Config struct {
	RootExtentPrefix string
	PageSize         uint16
	ExtentSize       int
	Compression      extentstore.Compression

	Backend blob.Storage
	Catalog *catalog.Catalog

	AutoFlush      bool
	FlushThreshold int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Manager owns the branch tree, the map from branch id to its own
// ExtentStorage, and the "current" branch pointer. It never references
// back to anything above it; the blob backend and catalog are shared
// dependencies it and its ExtentStorages both hold (spec §9).
type Manager struct {
	cfg Config

	mu      sync.Mutex
	stores  map[string]*extentstore.ExtentStorage
	current string // branch id
}

// New constructs a Manager. Init must be called before any other method.
func New(cfg Config) (*Manager, error) {
	if cfg.RootExtentPrefix == "" {
		cfg.RootExtentPrefix = "extent"
	}
	if cfg.Backend == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("branch: backend and catalog are required: %w", errs.ErrInvalid)
	}
	return &Manager{cfg: cfg, stores: make(map[string]*extentstore.ExtentStorage)}, nil
}

// Init creates the branch-manager schema and ensures a root "main" branch
// exists, per spec §4.4.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.cfg.Catalog.Init(ctx); err != nil {
		return err
	}

	rec, ok, err := m.cfg.Catalog.GetBranchByName(ctx, mainBranchName)
	if err != nil {
		return err
	}
	if !ok {
		rec = &catalog.BranchRecord{ID: uuid.NewString(), Name: mainBranchName, CreatedAt: time.Now()}
		if err := m.cfg.Catalog.InsertBranch(ctx, *rec); err != nil {
			return err
		}
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.BranchCreatesTotal.Inc()
		}
	}

	m.mu.Lock()
	m.current = rec.ID
	m.mu.Unlock()

	if _, err := m.storeFor(ctx, rec.ID); err != nil {
		return err
	}
	if m.cfg.Metrics != nil {
		m.refreshBranchGauge(ctx)
	}
	return nil
}

// storeFor lazily builds (and Inits) the per-branch ExtentStorage for
// branchID, namespaced under "<root-prefix>/<branch-id>/".
func (m *Manager) storeFor(ctx context.Context, branchID string) (*extentstore.ExtentStorage, error) {
	m.mu.Lock()
	store, ok := m.stores[branchID]
	m.mu.Unlock()
	if ok {
		return store, nil
	}

	store, err := extentstore.New(extentstore.Config{
		PageSize:       m.cfg.PageSize,
		ExtentSize:     m.cfg.ExtentSize,
		Compression:    m.cfg.Compression,
		Backend:        m.cfg.Backend,
		Catalog:        m.cfg.Catalog,
		ExtentPrefix:   fmt.Sprintf("%s/%s/", m.cfg.RootExtentPrefix, branchID),
		AutoFlush:      m.cfg.AutoFlush,
		FlushThreshold: m.cfg.FlushThreshold,
		Logger:         m.cfg.Logger,
		Metrics:        m.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stores[branchID] = store
	m.mu.Unlock()
	return store, nil
}

// scope namespaces fileID within branchID's ExtentStorage, so distinct
// branches' ExtentStorage instances (which may share catalog tables) never
// collide on file id (spec §4.4.1).
func scope(branchID, fileID string) string {
	return branchID + ":" + fileID
}

// CurrentBranch returns the branch currently selected.
func (m *Manager) CurrentBranch(ctx context.Context) (Branch, error) {
	m.mu.Lock()
	id := m.current
	m.mu.Unlock()
	return m.branchByID(ctx, id)
}

func (m *Manager) branchByID(ctx context.Context, id string) (Branch, error) {
	rec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	if !ok {
		return Branch{}, fmt.Errorf("branch: %s: %w", id, errs.ErrNotFound)
	}
	return fromRecord(*rec), nil
}

func fromRecord(rec catalog.BranchRecord) Branch {
	return Branch{
		ID:             rec.ID,
		Name:           rec.Name,
		ParentBranchID: rec.ParentBranchID,
		BaseCommitID:   rec.BaseCommitID,
		HeadCommitID:   rec.HeadCommitID,
		CreatedAt:      rec.CreatedAt,
	}
}

func (m *Manager) refreshBranchGauge(ctx context.Context) {
	branches, err := m.cfg.Catalog.ListBranches(ctx)
	if err != nil {
		return
	}
	m.cfg.Metrics.BranchesTotal.Set(float64(len(branches)))
}

// CreateBranch inserts one branches row — O(1), no data is copied. The new
// branch's base_commit is the parent's current head_commit, if any.
func (m *Manager) CreateBranch(ctx context.Context, name, parentName string) (Branch, error) {
	if name == "" {
		return Branch{}, fmt.Errorf("branch: name is required: %w", errs.ErrInvalid)
	}
	if _, ok, err := m.cfg.Catalog.GetBranchByName(ctx, name); err != nil {
		return Branch{}, err
	} else if ok {
		return Branch{}, fmt.Errorf("branch: %s already exists: %w", name, errs.ErrExists)
	}

	parent, ok, err := m.cfg.Catalog.GetBranchByName(ctx, parentName)
	if err != nil {
		return Branch{}, err
	}
	if !ok {
		return Branch{}, fmt.Errorf("branch: parent %s: %w", parentName, errs.ErrNotFound)
	}

	rec := catalog.BranchRecord{
		ID:             uuid.NewString(),
		Name:           name,
		ParentBranchID: &parent.ID,
		BaseCommitID:   parent.HeadCommitID,
		CreatedAt:      time.Now(),
	}
	if err := m.cfg.Catalog.InsertBranch(ctx, rec); err != nil {
		return Branch{}, err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.BranchCreatesTotal.Inc()
		m.refreshBranchGauge(ctx)
	}
	if m.cfg.Logger != nil {
		m.cfg.Logger.BranchLogger(name).Info("branch created").Str("parent", parentName).Send()
	}
	return fromRecord(rec), nil
}

// Switch flushes the outgoing branch and moves the current pointer to name.
func (m *Manager) Switch(ctx context.Context, name string) error {
	rec, ok, err := m.cfg.Catalog.GetBranchByName(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("branch: %s: %w", name, errs.ErrNotFound)
	}

	m.mu.Lock()
	outgoing := m.current
	m.mu.Unlock()

	if outgoing != "" {
		if store, err := m.storeFor(ctx, outgoing); err == nil {
			if err := store.Flush(ctx); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	m.current = rec.ID
	m.mu.Unlock()

	_, err = m.storeFor(ctx, rec.ID)
	return err
}

// DeleteBranch removes a branch's rows and its extents from the blob
// store. Deleting the current branch or "main" is forbidden.
func (m *Manager) DeleteBranch(ctx context.Context, name string) error {
	if name == mainBranchName {
		return fmt.Errorf("branch: cannot delete %s: %w", mainBranchName, errs.ErrInvalid)
	}
	rec, ok, err := m.cfg.Catalog.GetBranchByName(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("branch: %s: %w", name, errs.ErrNotFound)
	}

	m.mu.Lock()
	isCurrent := m.current == rec.ID
	m.mu.Unlock()
	if isCurrent {
		return fmt.Errorf("branch: cannot delete current branch %s: %w", name, errs.ErrInvalid)
	}

	store, err := m.storeFor(ctx, rec.ID)
	if err != nil {
		return err
	}
	files, err := m.cfg.Catalog.ListBranchFiles(ctx, rec.ID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := store.DeleteFile(ctx, scope(rec.ID, f.FileID)); err != nil {
			return err
		}
	}

	if err := m.cfg.Catalog.DeleteBranchPages(ctx, rec.ID); err != nil {
		return err
	}
	if err := m.cfg.Catalog.DeleteBranchFiles(ctx, rec.ID); err != nil {
		return err
	}
	if err := m.cfg.Catalog.DeleteCommitsForBranch(ctx, rec.ID); err != nil {
		return err
	}
	if err := m.cfg.Catalog.DeleteBranch(ctx, rec.ID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.stores, rec.ID)
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.refreshBranchGauge(ctx)
	}
	return nil
}
