// Package symbol maps canonical symbols to venue symbols and converts
// between human decimal quantities and integer scaled units.
package symbol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joripage/execution-dev/pkg/exec/connector"
)

var ErrUnmappedSymbol = errors.New("no venue mapping for symbol")

// Service holds the canonical→venue symbol table and caches per-symbol
// scale metadata fetched from connectors. Constructed once and passed
// by handle; it owns its own state.
type Service struct {
	mu         sync.RWMutex
	mappings   map[string]map[string]string // canonical -> venue -> venue symbol
	connectors map[string]connector.Connector

	scaleCache map[string]scales // venue+"/"+canonical
}

type scales struct {
	priceDec int32
	sizeDec  int32
}

func NewService() *Service {
	return &Service{
		mappings:   make(map[string]map[string]string),
		connectors: make(map[string]connector.Connector),
		scaleCache: make(map[string]scales),
	}
}

func (s *Service) RegisterConnector(c connector.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.Venue()] = c
}

// RegisterSymbol maps a canonical symbol to its venue-specific names.
func (s *Service) RegisterSymbol(canonical string, venueSymbols map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mappings[canonical]
	if m == nil {
		m = make(map[string]string)
		s.mappings[canonical] = m
	}
	for venue, sym := range venueSymbols {
		m[venue] = sym
	}
}

// Resolve returns the venue symbol for a canonical symbol.
func (s *Service) Resolve(venue, canonical string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.mappings[canonical][venue]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrUnmappedSymbol, canonical, venue)
	}
	return sym, nil
}

func (s *Service) venueConn(venue string) (connector.Connector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[venue]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", venue)
	}
	return c, nil
}

func (s *Service) decimals(ctx context.Context, venue, canonical string) (scales, error) {
	cacheKey := venue + "/" + canonical
	s.mu.RLock()
	sc, ok := s.scaleCache[cacheKey]
	s.mu.RUnlock()
	if ok {
		return sc, nil
	}

	venueSym, err := s.Resolve(venue, canonical)
	if err != nil {
		return scales{}, err
	}
	c, err := s.venueConn(venue)
	if err != nil {
		return scales{}, err
	}
	priceDec, sizeDec, err := c.PriceSizeDecimals(ctx, venueSym)
	if err != nil {
		return scales{}, fmt.Errorf("fetch decimals for %s: %w", venueSym, err)
	}
	sc = scales{priceDec: priceDec, sizeDec: sizeDec}
	s.mu.Lock()
	s.scaleCache[cacheKey] = sc
	s.mu.Unlock()
	return sc, nil
}

// Scales returns (priceScale, sizeScale) as integer factors.
func (s *Service) Scales(ctx context.Context, venue, canonical string) (int64, int64, error) {
	sc, err := s.decimals(ctx, venue, canonical)
	if err != nil {
		return 0, 0, err
	}
	return pow10(sc.priceDec), pow10(sc.sizeDec), nil
}

// ToPriceUnits converts a decimal price into integer scaled units,
// truncating toward zero at the venue precision.
func (s *Service) ToPriceUnits(ctx context.Context, venue, canonical string, price decimal.Decimal) (int64, error) {
	sc, err := s.decimals(ctx, venue, canonical)
	if err != nil {
		return 0, err
	}
	return price.Shift(sc.priceDec).IntPart(), nil
}

// ToSizeUnits converts a decimal quantity into integer scaled units.
func (s *Service) ToSizeUnits(ctx context.Context, venue, canonical string, size decimal.Decimal) (int64, error) {
	sc, err := s.decimals(ctx, venue, canonical)
	if err != nil {
		return 0, err
	}
	return size.Shift(sc.sizeDec).IntPart(), nil
}

// FromSizeUnits renders integer scaled units as a decimal quantity.
func (s *Service) FromSizeUnits(ctx context.Context, venue, canonical string, units int64) (decimal.Decimal, error) {
	sc, err := s.decimals(ctx, venue, canonical)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(units).Shift(-sc.sizeDec), nil
}

// MinOrderSize implements riskrule.MinSizeProvider.
func (s *Service) MinOrderSize(ctx context.Context, venue, canonical string) (int64, error) {
	venueSym, err := s.Resolve(venue, canonical)
	if err != nil {
		return 0, err
	}
	c, err := s.venueConn(venue)
	if err != nil {
		return 0, err
	}
	return c.MinOrderSize(ctx, venueSym)
}

func pow10(dec int32) int64 {
	n := int64(1)
	for i := int32(0); i < dec; i++ {
		n *= 10
	}
	return n
}
