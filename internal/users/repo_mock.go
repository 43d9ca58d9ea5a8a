package users

import (
	"context"
	"sync"
	"time"
)

// RepoMock is an in-memory directory used by unit tests across packages.
type RepoMock struct {
	mutex    sync.Mutex
	accounts map[string]*Account
}

func NewRepoMock() *RepoMock {
	return &RepoMock{
		accounts: make(map[string]*Account),
	}
}

func (r *RepoMock) AccountsCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.accounts)
}

func (r *RepoMock) Get(_ context.Context, username string) (*Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acc, ok := r.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	accCopy := *acc
	return &accCopy, nil
}

func (r *RepoMock) GetByKind(_ context.Context, kind Kind, username string) (*Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acc, ok := r.accounts[username]
	if !ok || acc.Kind != kind {
		return nil, ErrAccountNotFound
	}
	accCopy := *acc
	return &accCopy, nil
}

func (r *RepoMock) Create(_ context.Context, acc *Account) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.accounts[acc.Username]; ok {
		return ErrDuplicateUsername
	}

	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	accCopy := *acc
	r.accounts[acc.Username] = &accCopy

	return nil
}

func (r *RepoMock) UpdateSessionKey(_ context.Context, username, sessionKey string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	acc, ok := r.accounts[username]
	if !ok {
		return ErrAccountNotFound
	}
	acc.SessionKey = sessionKey

	return nil
}

func (r *RepoMock) Exists(_ context.Context, username string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, ok := r.accounts[username]
	return ok, nil
}
