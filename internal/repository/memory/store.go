// Package memory is an in-process implementation of the repository
// interfaces. Transactions are serialized behind one mutex and applied
// copy-on-write, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type state struct {
	people      map[string]domain.Person
	devices     map[int32]domain.Device
	checkouts   map[int32]domain.CheckoutRecord
	fees        map[int32]domain.Fee
	payments    map[int32]domain.Payment
	maintenance map[int32]domain.MaintenanceRecord
	sessions    map[string]domain.Session
	events      []domain.StepEvent
	seq         map[string]int32
}

func newState() *state {
	return &state{
		people:      make(map[string]domain.Person),
		devices:     make(map[int32]domain.Device),
		checkouts:   make(map[int32]domain.CheckoutRecord),
		fees:        make(map[int32]domain.Fee),
		payments:    make(map[int32]domain.Payment),
		maintenance: make(map[int32]domain.MaintenanceRecord),
		sessions:    make(map[string]domain.Session),
		seq:         make(map[string]int32),
	}
}

func (s *state) next(table string) int32 {
	s.seq[table]++
	return s.seq[table]
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.people {
		c.people[k] = v
	}
	for k, v := range s.devices {
		c.devices[k] = v
	}
	for k, v := range s.checkouts {
		c.checkouts[k] = v
	}
	for k, v := range s.fees {
		c.fees[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.maintenance {
		c.maintenance[k] = copyMaintenance(v)
	}
	for k, v := range s.sessions {
		c.sessions[k] = copySession(v)
	}
	c.events = append([]domain.StepEvent(nil), s.events...)
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func copySession(s domain.Session) domain.Session {
	s.Steps = append([]domain.Step(nil), s.Steps...)
	s.Request = append([]byte(nil), s.Request...)
	return s
}

func copyMaintenance(m domain.MaintenanceRecord) domain.MaintenanceRecord {
	m.Parts = append([]string(nil), m.Parts...)
	m.PhotoURLs = append([]string(nil), m.PhotoURLs...)
	return m
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, reposFor(work)); err != nil {
		return err
	}
	s.st = work
	return nil
}

func reposFor(st *state) repository.Repositories {
	return repository.Repositories{
		People:      &personRepo{st},
		Devices:     &deviceRepo{st},
		Checkouts:   &checkoutRepo{st},
		Fees:        &feeRepo{st},
		Payments:    &paymentRepo{st},
		Maintenance: &maintenanceRepo{st},
		Sessions:    &sessionRepo{st},
	}
}

// SeedPerson inserts or replaces a person outside any transaction.
func (s *Store) SeedPerson(p domain.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.people[p.ID] = p
}

// SeedDevice inserts a device and returns it with its assigned id.
func (s *Store) SeedDevice(d domain.Device) domain.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.st.next("devices")
	}
	if d.Status == "" {
		d.Status = domain.DeviceStatusAvailable
	}
	if d.InsuranceStatus == "" {
		d.InsuranceStatus = domain.InsuranceStatusUninsured
	}
	s.st.devices[d.ID] = d
	return d
}

// Events returns the full step log, oldest first.
func (s *Store) Events() []domain.StepEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StepEvent(nil), s.st.events...)
}

func sortPaymentsNewestFirst(ps []domain.Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		ai, aj := ps[i].ArchivedOn, ps[j].ArchivedOn
		if ai != nil && aj != nil && !ai.Equal(*aj) {
			return ai.After(*aj)
		}
		return ps[i].ID > ps[j].ID
	})
}
