package credstoretest

import (
	"context"
	"sync"

	"github.com/ggoodman/authsession-go/credstore"
)

// Faulty wraps a Store, counts calls, and injects configured failures. A nil
// Store field means every call that is not failed succeeds without storing
// anything (Get then reports ErrNotFound).
type Faulty struct {
	Store credstore.Store

	mu       sync.Mutex
	putErr   error
	getErr   error
	eraseErr error
	panicOn  string

	puts, gets, erases int
	lastPartition      string
}

// NewFaulty wraps inner.
func NewFaulty(inner credstore.Store) *Faulty { return &Faulty{Store: inner} }

// FailPut makes subsequent Put calls return err (nil restores normal behaviour).
func (f *Faulty) FailPut(err error) { f.mu.Lock(); f.putErr = err; f.mu.Unlock() }

// FailGet makes subsequent Get calls return err.
func (f *Faulty) FailGet(err error) { f.mu.Lock(); f.getErr = err; f.mu.Unlock() }

// FailErase makes subsequent Erase calls return err.
func (f *Faulty) FailErase(err error) { f.mu.Lock(); f.eraseErr = err; f.mu.Unlock() }

// PanicOn makes the named method ("Put", "Get" or "Erase") panic.
func (f *Faulty) PanicOn(method string) { f.mu.Lock(); f.panicOn = method; f.mu.Unlock() }

// Puts returns the number of Put calls observed.
func (f *Faulty) Puts() int { f.mu.Lock(); defer f.mu.Unlock(); return f.puts }

// Gets returns the number of Get calls observed.
func (f *Faulty) Gets() int { f.mu.Lock(); defer f.mu.Unlock(); return f.gets }

// Erases returns the number of Erase calls observed.
func (f *Faulty) Erases() int { f.mu.Lock(); defer f.mu.Unlock(); return f.erases }

// LastPartition returns the partition named by the most recent call.
func (f *Faulty) LastPartition() string { f.mu.Lock(); defer f.mu.Unlock(); return f.lastPartition }

func (f *Faulty) record(method, partition string, counter *int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*counter++
	f.lastPartition = partition
	var err error
	switch method {
	case "Put":
		err = f.putErr
	case "Get":
		err = f.getErr
	case "Erase":
		err = f.eraseErr
	}
	return f.panicOn == method, err
}

func (f *Faulty) Put(ctx context.Context, partition string, cred credstore.Credential, opts ...credstore.PutOption) error {
	boom, err := f.record("Put", partition, &f.puts)
	if boom {
		panic("credstoretest: injected Put panic")
	}
	if err != nil {
		return err
	}
	if f.Store == nil {
		return nil
	}
	return f.Store.Put(ctx, partition, cred, opts...)
}

func (f *Faulty) Get(ctx context.Context, partition string) (*credstore.Credential, error) {
	boom, err := f.record("Get", partition, &f.gets)
	if boom {
		panic("credstoretest: injected Get panic")
	}
	if err != nil {
		return nil, err
	}
	if f.Store == nil {
		return nil, credstore.ErrNotFound
	}
	return f.Store.Get(ctx, partition)
}

func (f *Faulty) Erase(ctx context.Context, partition string) error {
	boom, err := f.record("Erase", partition, &f.erases)
	if boom {
		panic("credstoretest: injected Erase panic")
	}
	if err != nil {
		return err
	}
	if f.Store == nil {
		return nil
	}
	return f.Store.Erase(ctx, partition)
}

func (f *Faulty) Close() error {
	if f.Store == nil {
		return nil
	}
	return f.Store.Close()
}

var _ credstore.Store = (*Faulty)(nil)
