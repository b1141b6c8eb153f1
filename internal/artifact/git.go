package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const commitAuthor = "formledger"

// Revision is one commit that touched an artifact.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	_ Reader    = (*GitStore)(nil)
	_ Historian = (*GitStore)(nil)
)

// GitStore writes artifacts into a single git repository, one commit per change.
type GitStore struct {
	baseDir string
	mu      sync.Mutex
	repo    *git.Repository
}

func NewGitStore(baseDir string) *GitStore {
	return &GitStore{baseDir: baseDir}
}

func (s *GitStore) openLocked() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}
	repo, err := git.PlainOpen(s.baseDir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(s.baseDir, false)
		if err != nil {
			return nil, fmt.Errorf("init repo: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	s.repo = repo
	return repo, nil
}

func (s *GitStore) Put(_ context.Context, templateName, submissionName string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openLocked()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	key := Key(templateName, submissionName)
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create template dir: %w", err)
	}
	if err := os.WriteFile(full, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if _, err := worktree.Add(key); err != nil {
		return fmt.Errorf("git add %s: %w", key, err)
	}
	return commitIfDirty(worktree, fmt.Sprintf("Store %s", submissionName))
}

func (s *GitStore) Delete(_ context.Context, templateName, submissionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(templateName, submissionName)
	if _, err := os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(key))); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	repo, err := s.openLocked()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(key); err != nil {
		return fmt.Errorf("git rm %s: %w", key, err)
	}
	return commitIfDirty(worktree, fmt.Sprintf("Delete %s", submissionName))
}

func (s *GitStore) DeleteTemplate(_ context.Context, templateName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := segment(templateName)
	entries, err := os.ReadDir(filepath.Join(s.baseDir, dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	repo, err := s.openLocked()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := worktree.Remove(dir + "/" + entry.Name()); err != nil {
			return fmt.Errorf("git rm %s/%s: %w", dir, entry.Name(), err)
		}
	}
	if err := commitIfDirty(worktree, fmt.Sprintf("Delete template %s", templateName)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.baseDir, dir))
}

// Read returns the current artifact contents.
func (s *GitStore) Read(_ context.Context, templateName, submissionName string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(templateName, submissionName)
	payload, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotStored)
	}
	return payload, err
}

// History lists commits that touched an artifact, newest first.
func (s *GitStore) History(_ context.Context, templateName, submissionName string, limit int) ([]Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.openLocked()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	key := Key(templateName, submissionName)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &key})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, Revision{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func commitIfDirty(worktree *git.Worktree, message string) error {
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthor,
			Email: commitAuthor + "@localhost",
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("commit %q: %w", message, err)
	}
	return nil
}
