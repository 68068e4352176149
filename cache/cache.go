// Package cache persists resolved GATT service catalogs per peripheral
// address, so a reconnect can skip service discovery.
package cache

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/lightlink/hilighting"
)

// Catalog is a peripheral's resolved characteristic layout: normalized
// UUID to ATT value handle.
type Catalog struct {
	Characteristics map[string]uint16 `json:"characteristics"`
}

// Store is a file-backed catalog cache, safe for concurrent use.
type Store struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) *Store {
	return &Store{
		filename: filename,
	}
}

func (s *Store) Store(addr hilighting.Addr, c Catalog, replace bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	cache, err := s.loadExisting()
	if err != nil {
		return err
	}

	_, ok := cache[addr.String()]
	if ok && !replace {
		return fmt.Errorf("cache already contains catalog for %s", addr.String())
	}

	cache[addr.String()] = c

	return s.storeCache(cache)
}

func (s *Store) Load(addr hilighting.Addr) (Catalog, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	cache, err := s.loadExisting()
	if err != nil {
		return Catalog{}, err
	}

	c, ok := cache[addr.String()]
	if !ok {
		return Catalog{}, fmt.Errorf("catalog for %s not found in cache", addr.String())
	}

	return c, nil
}

// Drop removes a single peripheral's catalog, e.g. after a forced
// service refresh showed the cached layout was stale.
func (s *Store) Drop(addr hilighting.Addr) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	cache, err := s.loadExisting()
	if err != nil {
		return err
	}

	delete(cache, addr.String())

	return s.storeCache(cache)
}

func (s *Store) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := os.Remove(s.filename)
	if err != nil {
		return err
	}

	return nil
}

func (s *Store) loadExisting() (map[string]Catalog, error) {
	_, err := os.Stat(s.filename)
	if os.IsNotExist(err) {
		return map[string]Catalog{}, nil
	}

	in, err := ioutil.ReadFile(s.filename)
	if err != nil {
		return nil, err
	}

	var cache map[string]Catalog
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, err
	}

	return cache, nil
}

func (s *Store) storeCache(cache map[string]Catalog) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(s.filename, out, 0644)
}
