package asset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized       = errors.New("only admin")
	ErrAlreadyRegistered  = errors.New("token already exists")
	ErrUnknownAsset       = errors.New("token does not exist")
	ErrMissingCustodian   = errors.New("custodian is required")
	ErrQuoteNotConfigured = errors.New("quote ticker is required")
)

// Asset is a listed token and the custodian that moves it
type Asset struct {
	Ticker    Ticker
	Custodian Custodian
}

// Registry maps tickers to custodians in a thread-safe manner
// Only the administrator fixed at construction may list new assets
type Registry struct {
	mu     sync.RWMutex
	admin  common.Address
	quote  Ticker
	assets map[Ticker]*Asset
	order  []Ticker // registration order, for listing
}

// NewRegistry creates an empty registry gated by admin
// quote is the ticker every price is denominated in; it still has to be registered
func NewRegistry(admin common.Address, quote Ticker) (*Registry, error) {
	if quote.IsZero() {
		return nil, ErrQuoteNotConfigured
	}
	return &Registry{
		admin:  admin,
		quote:  quote,
		assets: make(map[Ticker]*Asset),
	}, nil
}

// Admin returns the identity allowed to register assets
func (r *Registry) Admin() common.Address { return r.admin }

// Quote returns the quote ticker
func (r *Registry) Quote() Ticker { return r.quote }

// Register lists a new asset
// Returns ErrUnauthorized for non-admin callers and ErrAlreadyRegistered for duplicates
func (r *Registry) Register(caller common.Address, ticker Ticker, custodian Custodian) error {
	if caller != r.admin {
		return fmt.Errorf("register %s by %s: %w", ticker, caller.Hex(), ErrUnauthorized)
	}
	if custodian == nil {
		return fmt.Errorf("register %s: %w", ticker, ErrMissingCustodian)
	}
	if ticker.IsZero() {
		return fmt.Errorf("register: ticker cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[ticker]; exists {
		return fmt.Errorf("register %s: %w", ticker, ErrAlreadyRegistered)
	}

	r.assets[ticker] = &Asset{Ticker: ticker, Custodian: custodian}
	r.order = append(r.order, ticker)
	return nil
}

// Resolve returns the custodian of a registered ticker
func (r *Registry) Resolve(ticker Ticker) (Custodian, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.assets[ticker]
	if !exists {
		return nil, fmt.Errorf("resolve %s: %w", ticker, ErrUnknownAsset)
	}
	return a.Custodian, nil
}

// IsQuoteAsset reports whether ticker is the quote asset
func (r *Registry) IsQuoteAsset(ticker Ticker) bool {
	return ticker == r.quote
}

// Exists checks if a ticker is registered
func (r *Registry) Exists(ticker Ticker) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.assets[ticker]
	return exists
}

// List returns all registered assets in registration order
func (r *Registry) List() []Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]Asset, 0, len(r.order))
	for _, t := range r.order {
		assets = append(assets, *r.assets[t])
	}
	return assets
}

// Count returns the number of registered assets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
