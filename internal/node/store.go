package node

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/caspian/internal/errors"
)

// Store persists repositories and nodes.
type Store interface {
	AddRepository(repo Repository) (Repository, error)
	GetRepository(id string) (Repository, error)
	ListRepositories() ([]Repository, error)

	SaveNode(n Node) error
	GetNode(id string) (Node, error)
	ListNodes(repositoryID string) ([]Node, error)
	DeleteNode(id string) error
	UpdateNodeStatus(id string, status WorktreeStatus, worktreePath string) error
}

// document is the on-disk layout of a FileStore.
type document struct {
	Version      int          `yaml:"version"`
	Repositories []Repository `yaml:"repositories"`
	Nodes        []Node       `yaml:"nodes"`
}

const documentVersion = 1

// FileStore keeps everything in a single YAML file. Each operation reloads
// the file under an advisory file lock, so several caspian processes can
// share one store. Writes go to a temp file that is renamed into place.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore opens (or prepares to create) the store at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the YAML file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) withLock(write bool, fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if write {
		err = s.lock.Lock()
	} else {
		err = s.lock.RLock()
	}
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(doc)
}

func (s *FileStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &document{Version: documentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", s.path, err)
	}
	if doc.Version > documentVersion {
		return nil, fmt.Errorf("store %s has version %d, newer than supported %d", s.path, doc.Version, documentVersion)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	doc.Version = documentVersion
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".nodes-*.yaml")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// AddRepository registers repo, assigning an ID if it has none. Adding a path
// that is already registered returns the existing record and an
// AlreadyExistsError.
func (s *FileStore) AddRepository(repo Repository) (Repository, error) {
	if repo.Path == "" {
		return Repository{}, errors.NewValidationError("repository path is required").WithField("path")
	}
	var result Repository
	err := s.withLock(true, func(doc *document) error {
		for _, r := range doc.Repositories {
			if r.Path == repo.Path {
				result = r
				return errors.NewAlreadyExistsError("repository", r.Path)
			}
		}
		if repo.ID == "" {
			repo.ID = NewID()
		}
		if repo.Name == "" {
			repo.Name = filepath.Base(repo.Path)
		}
		if repo.CreatedAt.IsZero() {
			repo.CreatedAt = time.Now()
		}
		doc.Repositories = append(doc.Repositories, repo)
		result = repo
		return nil
	})
	return result, err
}

// GetRepository returns the repository with the given ID. A unique ID prefix
// is accepted.
func (s *FileStore) GetRepository(id string) (Repository, error) {
	var result Repository
	err := s.withLock(false, func(doc *document) error {
		idx, err := findByID(len(doc.Repositories), func(i int) string { return doc.Repositories[i].ID }, id)
		if err != nil {
			return lookupError("repository", id, err, errors.ErrRepositoryNotFound)
		}
		result = doc.Repositories[idx]
		return nil
	})
	return result, err
}

// ListRepositories returns all repositories in registration order.
func (s *FileStore) ListRepositories() ([]Repository, error) {
	var result []Repository
	err := s.withLock(false, func(doc *document) error {
		result = slices.Clone(doc.Repositories)
		return nil
	})
	return result, err
}

// SaveNode inserts or replaces a node.
func (s *FileStore) SaveNode(n Node) error {
	if n.ID == "" {
		return errors.NewValidationError("node ID is required").WithField("id")
	}
	return s.withLock(true, func(doc *document) error {
		n.UpdatedAt = time.Now()
		for i := range doc.Nodes {
			if doc.Nodes[i].ID == n.ID {
				doc.Nodes[i] = n
				return nil
			}
		}
		doc.Nodes = append(doc.Nodes, n)
		return nil
	})
}

// GetNode returns the node with the given ID. A unique ID prefix is accepted.
func (s *FileStore) GetNode(id string) (Node, error) {
	var result Node
	err := s.withLock(false, func(doc *document) error {
		idx, err := findByID(len(doc.Nodes), func(i int) string { return doc.Nodes[i].ID }, id)
		if err != nil {
			return lookupError("node", id, err, errors.ErrNodeNotFound)
		}
		result = doc.Nodes[idx]
		return nil
	})
	return result, err
}

// ListNodes returns nodes for a repository, or every node when repositoryID
// is empty, oldest first.
func (s *FileStore) ListNodes(repositoryID string) ([]Node, error) {
	var result []Node
	err := s.withLock(false, func(doc *document) error {
		for _, n := range doc.Nodes {
			if repositoryID == "" || n.RepositoryID == repositoryID {
				result = append(result, n)
			}
		}
		return nil
	})
	slices.SortStableFunc(result, func(a, b Node) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return result, err
}

// DeleteNode removes a node. Deleting an unknown node is not an error.
func (s *FileStore) DeleteNode(id string) error {
	return s.withLock(true, func(doc *document) error {
		doc.Nodes = slices.DeleteFunc(doc.Nodes, func(n Node) bool { return n.ID == id })
		return nil
	})
}

// UpdateNodeStatus sets the worktree status, and the worktree path when
// worktreePath is non-empty.
func (s *FileStore) UpdateNodeStatus(id string, status WorktreeStatus, worktreePath string) error {
	return s.withLock(true, func(doc *document) error {
		for i := range doc.Nodes {
			if doc.Nodes[i].ID != id {
				continue
			}
			doc.Nodes[i].WorktreeStatus = status
			if worktreePath != "" {
				doc.Nodes[i].WorktreePath = worktreePath
			}
			doc.Nodes[i].UpdatedAt = time.Now()
			return nil
		}
		return errors.NewNotFoundError("node", id).WithCause(errors.ErrNodeNotFound)
	})
}

var (
	errAmbiguousID = errors.New("ambiguous ID prefix")
	errNoMatch     = errors.New("no matching ID")
)

// findByID returns the index whose ID equals id, or the only one it prefixes.
func findByID(n int, idAt func(int) string, id string) (int, error) {
	if id == "" {
		return -1, errNoMatch
	}
	match := -1
	for i := 0; i < n; i++ {
		candidate := idAt(i)
		if candidate == id {
			return i, nil
		}
		if strings.HasPrefix(candidate, id) {
			if match >= 0 {
				return -1, errAmbiguousID
			}
			match = i
		}
	}
	if match < 0 {
		return -1, errNoMatch
	}
	return match, nil
}

func lookupError(kind, id string, err, sentinel error) error {
	if errors.Is(err, errAmbiguousID) {
		return errors.NewValidationError(fmt.Sprintf("%s ID prefix matches more than one %s", kind, kind)).
			WithField("id").
			WithValue(id)
	}
	return errors.NewNotFoundError(kind, id).WithCause(sentinel)
}

var _ Store = (*FileStore)(nil)
